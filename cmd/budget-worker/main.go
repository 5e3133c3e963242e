package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"mintify/internal/amqp"
	"mintify/internal/budgetsync"
	"mintify/internal/config"
	"mintify/internal/log"
	"mintify/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.FromEnv("budget-worker")
	log.SetDefault(logger)

	logger.Info("Starting mintify budget worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	queue := cfg.AMQPQueue
	if queue == "" {
		queue = "budget-sync"
	}

	repo, err := storage.New(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRoutingKey)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	consumer := budgetsync.NewConsumer(repo, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Consuming spending events", "queue", queue, "exchange", cfg.AMQPExchange)
	err = amqpClient.Consume(ctx, queue, consumer.HandleSpendingRecorded)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Budget worker stopped gracefully")
}
