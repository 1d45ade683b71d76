package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"certforge/internal/app"
	u "certforge/internal/utils"
)

func main() {
	cfg := u.LoadConfig()
	// Allow common container env var to override the browser path.
	if cfg.Chrome.Path == "" {
		if v := os.Getenv("CHROME_BIN"); v != "" {
			cfg.Chrome.Path = v
		}
	}
	u.SetConfig(cfg)
	u.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Cache.RedisHost,
		DB:   cfg.Cache.PreviewCacheDB,
	})

	idleConnsClosed := make(chan struct{})
	if cfg.Auth.Postgres.Host != "" {
		if err := u.LoadTokensFromPostgres(cfg.Auth.Postgres); err != nil {
			u.Error("Failed to load API tokens", "error", err)
		}
		go u.RefreshTokensPeriodically(cfg.Auth.Postgres, time.Minute, idleConnsClosed)
	}

	fiberApp, err := app.SetupApp(cfg, rdb)
	if err != nil {
		u.Error("Failed to set up app", "error", err)
		os.Exit(1)
	}

	startServer(fiberApp, cfg, idleConnsClosed)
	<-idleConnsClosed
}

// startServer starts the Fiber app and listens for shutdown signals.
func startServer(app *fiber.App, cfg u.Config, idleConnsClosed chan struct{}) {
	go func() {
		if err := app.Listen(cfg.Server.Host + cfg.Server.Port); err != nil {
			u.Error("Server error", "error", err)
		}
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	<-sigint

	u.Warn("Shutdown signal received, closing server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		u.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	u.Info("Server stopped cleanly")
}
