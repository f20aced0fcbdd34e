package main

import (
	"context"
	"net/http"
	"os"

	"github.com/glassapp/glass-server/api/routes"
	"github.com/glassapp/glass-server/internal/activations"
	"github.com/glassapp/glass-server/internal/keys"
	"github.com/glassapp/glass-server/internal/licensing"
	"github.com/glassapp/glass-server/internal/mailer"
	"github.com/glassapp/glass-server/internal/tiers"
	"github.com/glassapp/glass-server/internal/tokens"
	"github.com/glassapp/glass-server/internal/verify"
	"github.com/glassapp/glass-server/pkg/config"
	"github.com/glassapp/glass-server/pkg/db"
	"github.com/glassapp/glass-server/pkg/logger"
	"github.com/glassapp/glass-server/pkg/migrate"
	"github.com/glassapp/glass-server/pkg/redis"
	"github.com/joho/godotenv"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	// Schema must be in place before the listener opens.
	if err := migrate.Bootstrap(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to bootstrap schema", err)
		os.Exit(1)
	}

	// Redis is optional; without it activation rate limiting is off.
	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(context.Background(), cfg.Redis)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
	} else {
		logg.Warn(context.Background(), "redis not configured, activation rate limiting disabled")
	}

	keyRepo := keys.NewRepository(dbClient)
	keySvc := keys.NewService(keyRepo, cfg.License, mailer.New(cfg.Mail, logg), logg)
	deviceRepo := tiers.NewRepository(dbClient)
	tokenIssuer := tokens.NewIssuer(dbClient, cfg.License.TokenTTL())

	licensingSvc := licensing.NewService(
		keySvc,
		activations.NewLedger(dbClient),
		tokenIssuer,
		deviceRepo,
		tiers.NewResolver(deviceRepo, cfg.License),
		verify.NewClient(cfg.Gumroad, logg),
		cfg.License,
		logg,
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":    cfg.App.Env,
		"addr":   addr,
		"driver": cfg.DB.Driver,
	})
	logg.Info(ctx, "starting license server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, licensingSvc, keySvc, tokenIssuer),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "license server stopped unexpectedly", err)
		os.Exit(1)
	}
}
