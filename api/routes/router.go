package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/glassapp/glass-server/api/controllers"
	"github.com/glassapp/glass-server/api/middleware"
	"github.com/glassapp/glass-server/internal/keys"
	"github.com/glassapp/glass-server/internal/licensing"
	"github.com/glassapp/glass-server/internal/tokens"
	"github.com/glassapp/glass-server/pkg/config"
	"github.com/glassapp/glass-server/pkg/db"
	"github.com/glassapp/glass-server/pkg/logger"
	"github.com/glassapp/glass-server/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	licensingSvc *licensing.Service,
	keySvc *keys.Service,
	tokenIssuer *tokens.Issuer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	activatePolicy := middleware.NewActivateRateLimitPolicy(
		"activate",
		cfg.RateLimit.ActivateWindow,
		cfg.RateLimit.ActivateIPLimit,
		cfg.RateLimit.ActivateKeyLimit,
	)

	// A nil *redis.Client must stay a nil interface or the limiter thinks it
	// has a store.
	var limiterStore middleware.RateLimiterStore
	if redisClient != nil {
		limiterStore = redisClient
	}

	r.Get("/healthz", controllers.HealthLive(cfg))
	r.Get("/readyz", controllers.HealthReady(cfg, logg, dbP, redisPinger(redisClient)))

	r.Group(func(r chi.Router) {
		r.Use(middleware.CORS())
		r.Get("/public-config", controllers.PublicConfig(cfg.License))
	})

	r.Route("/license", func(r chi.Router) {
		r.With(middleware.ActivateRateLimit(activatePolicy, limiterStore, logg)).
			Post("/activate", controllers.Activate(licensingSvc, logg))
		r.Post("/validate", controllers.Validate(licensingSvc, logg))
	})
	r.Post("/verify", controllers.Verify(licensingSvc, logg))

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AdminAuth(cfg.Admin, logg))
		r.Post("/keys", controllers.AdminCreateKey(keySvc, logg))
		r.Post("/keys/{code}/revoke", controllers.AdminRevokeKey(keySvc, logg))
		r.Post("/tokens/revoke", controllers.AdminRevokeToken(tokenIssuer, logg))
		r.Post("/tokens/introspect", controllers.AdminIntrospectToken(tokenIssuer, logg))
	})

	return r
}

func redisPinger(client *redis.Client) controllers.Pinger {
	if client == nil {
		return nil
	}
	return client
}
