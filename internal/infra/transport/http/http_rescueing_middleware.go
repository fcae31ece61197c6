package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/mkrupp/escrowgate/internal/domain"
	"github.com/mkrupp/escrowgate/internal/infra/logging"
)

// RescueingMiddleware creates middleware that recovers from panics in HTTP handlers.
// It logs the panic and stack trace, then returns a 500 Internal Server Error to the client.
// A domain.ErrNoSessionGate panic is a wiring defect and is logged as a configuration error.
func RescueingMiddleware(next http.Handler, log logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func(ctx context.Context) {
			p := recover()
			if p == nil {
				return
			} else if p == http.ErrAbortHandler { //nolint:errorlint
				panic(p)
			}

			msg := "request panic"
			if err, ok := p.(error); ok && errors.Is(err, domain.ErrNoSessionGate) {
				msg = "configuration error"
			}

			log.ErrorContext(ctx, msg, slog.Group("http",
				"uri", r.RequestURI,
				"method", r.Method,
			), slog.Group("error",
				"panic", p,
				"stack", string(debug.Stack()),
			))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}(r.Context())

		next.ServeHTTP(w, r)
	})
}
