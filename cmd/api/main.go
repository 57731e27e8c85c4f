package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xavierca1/lead-nurture/internal/app"
	"github.com/xavierca1/lead-nurture/internal/config"
	"github.com/xavierca1/lead-nurture/internal/infra/http/handlers"
	"github.com/xavierca1/lead-nurture/internal/infra/logger"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}

	webhooks, err := handlers.NewWebhookHandler(a.Ingestor, cfg.Webhook.Secret, log)
	if err != nil {
		_ = a.Close(context.Background())
		return err
	}

	if err := a.Queue.Start(ctx); err != nil {
		_ = a.Close(context.Background())
		return err
	}
	go a.Sweeper.Start(ctx)

	limiter := handlers.NewRateLimiter(10, time.Minute)
	defer limiter.Close()

	router := handlers.Router{
		Leads:       handlers.NewLeadHandler(a.Capture, limiter, log),
		Campaigns:   handlers.NewCampaignHandler(a.Sequencer, a.Leads, log),
		Sync:        handlers.NewSyncHandler(a.Sync, log),
		Webhooks:    webhooks,
		Health:      handlers.NewHealthHandler(a.DB, a.Queue, a.CRM.Enabled(), version),
		CORSOrigins: cfg.CORSOrigins,
		Logger:      log,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("queue_backend", a.Queue.Backend()),
			zap.Bool("crm_enabled", a.CRM.Enabled()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			_ = a.Close(context.Background())
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}
