// Command emailworker drains the Postgres-backed queue: lease, render,
// send, and finalise, until its process is asked to stop.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/odiseo-io/email-service/internal/emailsvc/config"
	"github.com/odiseo-io/email-service/internal/emailsvc/queue"
	"github.com/odiseo-io/email-service/internal/emailsvc/render"
	"github.com/odiseo-io/email-service/internal/emailsvc/transport"
	"github.com/odiseo-io/email-service/internal/emailsvc/worker"
	"github.com/odiseo-io/email-service/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.ValidateSMTP(); err != nil {
		log.Fatalf("smtp not configured: %v", err)
	}

	logger.Configure(logger.ParseLevel(cfg.Logger.Level), cfg.Logger.ToFile, cfg.Logger.Dir)
	logger.Logger.Info("starting email worker")

	store, err := queue.Open(ctx, cfg.Database, cfg.Mail.DefaultLocale, cfg.Worker.RetryMaxAttempts)
	if err != nil {
		log.Fatalf("failed to open queue store: %v", err)
	}
	defer store.Close()

	renderer, err := render.New(cfg.Mail)
	if err != nil {
		log.Fatalf("failed to load templates: %v", err)
	}

	tr := transport.New(cfg.Mail)
	defer tr.Close()

	w := worker.New(store, tr, renderer, cfg.Worker)
	if err := w.Run(ctx); err != nil {
		log.Fatalf("worker exited with error: %v", err)
	}

	logger.Logger.Info("email worker stopped")
}
