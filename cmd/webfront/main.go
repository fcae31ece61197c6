package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mkrupp/escrowgate/internal/infra/config"
	"github.com/mkrupp/escrowgate/internal/infra/logging"
	"github.com/mkrupp/escrowgate/internal/infra/metrics"
	"github.com/mkrupp/escrowgate/internal/infra/transport/http"
	"github.com/mkrupp/escrowgate/internal/repo/securestore"
	"github.com/mkrupp/escrowgate/internal/repo/usercache"
	"github.com/mkrupp/escrowgate/internal/svc/identitysvc/identityclient"
	"github.com/mkrupp/escrowgate/internal/svc/sessionsvc"
	"github.com/mkrupp/escrowgate/internal/svc/webfront"
)

const (
	appName = "escrow"
	svcName = "webfront"
)

type Config struct {
	config.EnvConfig

	Log      logging.LoggerConfig            `envPrefix:"LOG_"`
	HTTP     webfront.HTTPTransportConfig    `envPrefix:"HTTP_"`
	Identity identityclient.HTTPClientConfig `envPrefix:"IDENTITY_"`
	Sessions sessionsvc.RegistryConfig       `envPrefix:"SESSION_"`
	Cache    usercache.Config                `envPrefix:"USERCACHE_"`
	Secrets  securestore.Config              `envPrefix:"SECURESTORE_"`
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
		log := logging.GetLogger("cmd.webfront")

		if err != nil {
			log.ErrorContext(ctx, "error", "err", err)
			panic(err)
		}

		log.InfoContext(ctx, "shutdown")
	}()

	m := metrics.New(strings.Join([]string{appName, svcName}, "_"))

	cacheFactory, err := usercache.Factory(cfg.Cache)
	if err != nil {
		return fmt.Errorf("user cache factory: %w", err)
	}

	cache, err := cacheFactory()
	if err != nil {
		return fmt.Errorf("new user cache: %w", err)
	}
	defer cache.Close()

	secrets, err := securestore.New(ctx, cfg.Secrets)
	if err != nil {
		return fmt.Errorf("new secure store: %w", err)
	}

	identityFactory, err := identityclient.NewHTTPFactory(cfg.Identity, nil, m)
	if err != nil {
		return fmt.Errorf("new identity client factory: %w", err)
	}

	registry := sessionsvc.NewRegistry(cfg.Sessions, sessionsvc.Deps{
		Identity: identityclient.NewPool(identityFactory),
		Cache:    cache,
		Secrets:  secrets,
	}, m)

	httpTransport := webfront.NewHTTPTransport(registry, cfg.HTTP, m)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return registry.Run(ctx)
	})

	g.Go(func() error {
		if err := http.ListenAndServe(ctx, httpTransport, cfg.HTTP.HTTPTransportConfig, m); err != nil {
			return fmt.Errorf("listen and serve: %w", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	return nil
}
