package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	. "github.com/mkrupp/escrowgate/internal/infra/config"
)

type testConfig struct {
	EnvConfig

	Backend  string        `env:"BACKEND" default:"memory"`
	Port     int           `env:"LISTEN_PORT" default:"8080"`
	Secure   bool          `env:"SECURE" default:"true"`
	IdleTTL  time.Duration `env:"IDLE_TTL" default:"30m"`
	Origins  []string      `env:"ORIGINS" default:"http://localhost:3000"`
	NoEnvTag string
	Identity testIdentityConfig `envPrefix:"IDENTITY_"`
}

type testIdentityConfig struct {
	BaseURL string `env:"BASE_URL" default:"http://localhost:8081"`
}

type requiredConfig struct {
	EnvConfig

	Secret string `env:"SECRET"`
}

func defaults() testConfig {
	return testConfig{
		Backend:  "memory",
		Port:     8080,
		Secure:   true,
		IdleTTL:  30 * time.Minute,
		Origins:  []string{"http://localhost:3000"},
		Identity: testIdentityConfig{BaseURL: "http://localhost:8081"},
	}
}

//nolint:paralleltest
func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		envVars map[string]string
		want    func(c *testConfig)
		wantErr bool
	}{
		{
			name:    "uses default values when env vars not set",
			envVars: map[string]string{},
			want:    func(*testConfig) {},
		},
		{
			name: "reads environment variables",
			envVars: map[string]string{
				"BACKEND":           "redis",
				"LISTEN_PORT":       "9090",
				"SECURE":            "false",
				"IDLE_TTL":          "90s",
				"ORIGINS":           "https://a.example, https://b.example,,",
				"IDENTITY_BASE_URL": "https://id.example",
			},
			want: func(c *testConfig) {
				c.Backend = "redis"
				c.Port = 9090
				c.Secure = false
				c.IdleTTL = 90 * time.Second
				c.Origins = []string{"https://a.example", "https://b.example"}
				c.Identity.BaseURL = "https://id.example"
			},
		},
		{
			name:   "prefers more specific prefix",
			prefix: "ESCROW_WEBFRONT",
			envVars: map[string]string{
				"ESCROW_BACKEND":          "sqlite",
				"ESCROW_WEBFRONT_BACKEND": "redis",
			},
			want: func(c *testConfig) { c.Backend = "redis" },
		},
		{
			name:   "falls back to shorter prefix",
			prefix: "ESCROW_WEBFRONT",
			envVars: map[string]string{
				"ESCROW_IDENTITY_BASE_URL": "https://shared.example",
			},
			want: func(c *testConfig) { c.Identity.BaseURL = "https://shared.example" },
		},
		{
			name:    "empty list value yields nil slice",
			envVars: map[string]string{"ORIGINS": ""},
			want:    func(c *testConfig) { c.Origins = nil },
		},
		{
			name:    "fails on invalid int value",
			envVars: map[string]string{"LISTEN_PORT": "not-a-number"},
			wantErr: true,
		},
		{
			name:    "fails on invalid duration",
			envVars: map[string]string{"IDLE_TTL": "forever"},
			wantErr: true,
		},
		{
			name:    "fails on invalid bool value",
			envVars: map[string]string{"SECURE": "not-a-bool"},
			wantErr: true,
		},
	}

	ctx := context.Background()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := &testConfig{}
			err := Parse(ctx, cfg, tt.prefix)

			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}

			if tt.wantErr {
				return
			}

			want := defaults()
			tt.want(&want)

			cfg.EnvConfig = EnvConfig{}
			if !reflect.DeepEqual(*cfg, want) {
				t.Errorf("Parse() = %+v, want %+v", *cfg, want)
			}
		})
	}
}

//nolint:paralleltest
func TestParseRequired(t *testing.T) {
	err := Parse(context.Background(), &requiredConfig{}, "ESCROW_TEST_REQUIRED")
	if !errors.Is(err, ErrVarNotSet) {
		t.Fatalf("Parse() error = %v, want %v", err, ErrVarNotSet)
	}

	t.Setenv("ESCROW_TEST_REQUIRED_SECRET", "s3cret")

	cfg := &requiredConfig{}
	if err := Parse(context.Background(), cfg, "ESCROW_TEST_REQUIRED"); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Secret != "s3cret" || cfg.Namespace() != "ESCROW_TEST_REQUIRED" {
		t.Errorf("Parse() = %+v", cfg)
	}
}

//nolint:paralleltest
func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")

	if err := os.WriteFile(path, []byte("ESCROW_DOTENV_LISTEN_PORT=7000\nESCROW_DOTENV_BACKEND=sqlite\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ESCROW_DOTENV_BACKEND", "redis")
	// registered so t restores the environment after godotenv sets it
	t.Setenv("ESCROW_DOTENV_LISTEN_PORT", "")
	os.Unsetenv("ESCROW_DOTENV_LISTEN_PORT")

	if err := LoadDotenv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotenv() error = %v", err)
	}

	cfg := &testConfig{}
	if err := Parse(context.Background(), cfg, "ESCROW_DOTENV"); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Port != 7000 {
		t.Errorf("Port = %d, want 7000 from .env", cfg.Port)
	}

	if cfg.Backend != "redis" {
		t.Errorf("Backend = %q, want process env to win", cfg.Backend)
	}
}

func TestParseInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  interface{}
	}{
		{name: "non-pointer config", cfg: testConfig{}},
		{name: "non-struct pointer", cfg: new(string)},
		{
			name: "missing EnvConfig embedding",
			cfg: &struct {
				Value string `env:"VALUE"`
			}{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := Parse(context.Background(), tt.cfg, "")
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected error %v, got %v", ErrInvalidConfig, err)
			}
		})
	}
}
