package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/mkrupp/escrowgate/internal/infra/logging"
	"github.com/mkrupp/escrowgate/internal/infra/metrics"
)

// HTTPTransportConfig contains configuration parameters for HTTP servers.
type HTTPTransportConfig struct {
	// ServerAddr is the network address to listen on
	ServerAddr string `env:"SERVER_ADDR" default:":8080"`

	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" default:"5s"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT" default:"10s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`

	// CORSOrigins lists origins allowed to call with credentials
	CORSOrigins []string `env:"CORS_ORIGINS" default:""`
}

// HTTPTransport defines the interface for HTTP handlers that can serve requests.
type HTTPTransport interface {
	http.Handler
}

// Handler wraps a transport in the standard middleware chain: panic recovery,
// logging and metrics, CORS and tracing (outermost).
func Handler(handler HTTPTransport, cfg HTTPTransportConfig, log logging.Logger, m *metrics.Metrics) http.Handler {
	h := http.Handler(handler)
	h = RescueingMiddleware(h, log)
	h = LoggingMiddleware(h, log, m)

	if len(cfg.CORSOrigins) > 0 {
		h = CORSMiddleware(h, cfg.CORSOrigins)
	}

	return TracingMiddleware(h)
}

// ListenAndServe starts an HTTP server with the given handler and configuration.
// It stops gracefully when ctx is cancelled.
func ListenAndServe(ctx context.Context, handler HTTPTransport, cfg HTTPTransportConfig, m *metrics.Metrics) (err error) {
	log := logging.GetLogger("infra.transport.http")

	//nolint:exhaustruct
	server := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           Handler(handler, cfg, log, m),
		ErrorLog:          logging.GetLogLogger(log, logging.LevelError),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	sock, err := net.Listen("tcp", cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	log.InfoContext(ctx, "listening", "addr", sock.Addr().String())

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- server.Serve(sock)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}
