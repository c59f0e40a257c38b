// Command emailapi serves the HTTP ingress edge: enqueue, queue status, and
// health, backed by the same Postgres queue the worker drains.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/odiseo-io/email-service/internal/emailsvc/api"
	"github.com/odiseo-io/email-service/internal/emailsvc/config"
	"github.com/odiseo-io/email-service/internal/emailsvc/queue"
	"github.com/odiseo-io/email-service/pkg/logger"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.Configure(logger.ParseLevel(cfg.Logger.Level), cfg.Logger.ToFile, cfg.Logger.Dir)
	logger.Logger.Info("starting email api", "version", Version)

	store, err := queue.Open(ctx, cfg.Database, cfg.Mail.DefaultLocale, cfg.Worker.RetryMaxAttempts)
	if err != nil {
		log.Fatalf("failed to open queue store: %v", err)
	}
	defer store.Close()

	limiter := api.NewRateLimiter(cfg.API.RateLimitPerSecond, cfg.API.RateLimitPerMinute)
	defer limiter.Stop()

	handler := api.NewHandler(store, cfg, Version)
	router := api.NewRouter(handler, cfg.API, limiter)

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Logger.Error("api server forced to shutdown", "error", err.Error())
		}
	}()

	logger.Logger.Info("email api listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("api server error: %v", err)
	}

	logger.Logger.Info("email api stopped")
}
