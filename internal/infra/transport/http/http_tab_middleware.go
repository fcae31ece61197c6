package http

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	context_ "github.com/mkrupp/escrowgate/internal/infra/context"
)

// TabCookieConfig configures the cookie identifying a browser tab.
type TabCookieConfig struct {
	Name   string `env:"NAME" default:"tab_id"`
	Secure bool   `env:"SECURE" default:"false"`
	// MaxAge is zero for a browser-session cookie
	MaxAge time.Duration `env:"MAX_AGE" default:"0s"`
}

// TabMiddleware makes sure every request carries a tab ID. A missing or malformed
// cookie is replaced by a fresh UUIDv7. The tab ID is added to the request context.
func TabMiddleware(next http.Handler, cfg TabCookieConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tabID := ""

		if cookie, err := r.Cookie(cfg.Name); err == nil {
			if id, err := uuid.Parse(cookie.Value); err == nil {
				tabID = id.String()
			}
		}

		if tabID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)

				return
			}

			tabID = id.String()

			//nolint:exhaustruct
			http.SetCookie(w, &http.Cookie{
				Name:     cfg.Name,
				Value:    tabID,
				Path:     "/",
				HttpOnly: true,
				Secure:   cfg.Secure,
				SameSite: http.SameSiteLaxMode,
				MaxAge:   int(cfg.MaxAge / time.Second),
			})
		}

		next.ServeHTTP(w, r.WithContext(context_.WithTabID(r.Context(), tabID)))
	})
}
