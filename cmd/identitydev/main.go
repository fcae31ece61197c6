package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mkrupp/escrowgate/internal/infra/config"
	"github.com/mkrupp/escrowgate/internal/infra/logging"
	"github.com/mkrupp/escrowgate/internal/infra/metrics"
	"github.com/mkrupp/escrowgate/internal/infra/transport/http"
	"github.com/mkrupp/escrowgate/internal/repo/revocation"
	"github.com/mkrupp/escrowgate/internal/repo/user"
	"github.com/mkrupp/escrowgate/internal/svc/identitysvc"
)

const (
	appName = "escrow"
	svcName = "identitydev"
)

type Config struct {
	config.EnvConfig

	Log        logging.LoggerConfig            `envPrefix:"LOG_"`
	Identity   identitysvc.IdentityConfig      `envPrefix:"IDENTITY_"`
	HTTP       identitysvc.HTTPTransportConfig `envPrefix:"HTTP_"`
	User       user.SQLiteUserRepositoryConfig `envPrefix:"USER_"`
	Revocation revocation.Config               `envPrefix:"REVOCATION_"`
}

func main() {
	var (
		cfg Config
		ctx = context.Background()

		configPrefix = strings.ToUpper(strings.Join([]string{appName, svcName}, "_"))
		loggerName   = strings.ToLower(strings.Join([]string{appName, svcName}, "."))
	)

	if err := config.LoadDotenv(".env", ".env.local"); err != nil {
		panic(err)
	}

	if err := config.Parse(ctx, &cfg, configPrefix); err != nil {
		panic(err)
	}

	logging.Configure(ctx, cfg.Log, loggerName)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, cfg Config) (err error) {
	defer func() {
		log := logging.GetLogger("cmd.identitydev")

		if err != nil {
			log.ErrorContext(ctx, "error", "err", err)
			panic(err)
		}

		log.InfoContext(ctx, "shutdown")
	}()

	revocationFactory, err := revocation.Factory(cfg.Revocation)
	if err != nil {
		return fmt.Errorf("revocation factory: %w", err)
	}

	identitySvc, err := identitysvc.NewIdentityService(
		user.SQLiteUserRepositoryFactory(cfg.User),
		revocationFactory,
		cfg.Identity,
	)
	if err != nil {
		return fmt.Errorf("new identity service: %w", err)
	}
	defer identitySvc.Close()

	if err := identitySvc.SeedAdmin(ctx); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	httpTransport := identitysvc.NewHTTPTransport(identitySvc, cfg.HTTP)

	m := metrics.New(strings.Join([]string{appName, svcName}, "_"))

	if err := http.ListenAndServe(ctx, httpTransport, cfg.HTTP.HTTPTransportConfig, m); err != nil {
		return fmt.Errorf("listen and serve: %w", err)
	}

	return nil
}
