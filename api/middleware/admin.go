package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/glassapp/glass-server/api/responses"
	"github.com/glassapp/glass-server/pkg/config"
	pkgerrors "github.com/glassapp/glass-server/pkg/errors"
	"github.com/glassapp/glass-server/pkg/logger"
)

// AdminAuth guards operator routes with the shared admin secret. A bearer
// token is preferred; the legacy ?secret= query parameter is still honored
// for curl convenience. No configured secret means no admin access at all:
// the check fails closed rather than open.
func AdminAuth(cfg config.AdminConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if cfg.Secret == "" {
				if logg != nil {
					logg.Warn(ctx, "admin request rejected, no admin secret configured")
				}
				responses.WriteError(ctx, logg, w,
					pkgerrors.New(pkgerrors.CodeInternal, "admin access not configured"))
				return
			}

			credential := bearerToken(r)
			if credential == "" {
				credential = r.URL.Query().Get("secret")
			}

			if subtle.ConstantTimeCompare([]byte(credential), []byte(cfg.Secret)) != 1 {
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "path", r.URL.Path), "admin auth failed")
				}
				responses.WriteError(ctx, logg, w,
					pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid admin credentials"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
