package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"mintify/internal/amqp"
	"mintify/internal/config"
	"mintify/internal/log"
	"mintify/internal/notify"
	"mintify/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.FromEnv("notifier")
	log.SetDefault(logger)

	logger.Info("Starting mintify notifier")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	queue := cfg.AMQPQueue
	if queue == "" {
		queue = "notify"
	}

	repo, err := storage.New(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	registry := notify.NewRegistry()
	svc := notify.NewService(repo, registry, logger)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     notify.Router(svc, registry, cfg.NotificationsLimit, logger),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: it would sever long-lived push connections.
		IdleTimeout: 60 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The HTTP surface and the event consumer run side by side; either one
	// failing brings the process down for a clean restart.
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Consuming spending events", "queue", queue, "exchange", cfg.AMQPExchange)
		err := amqpClient.Consume(ctx, queue, svc.HandleSpendingRecorded)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		logger.Info("Notifier listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Notifier failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Notifier stopped gracefully")
}
