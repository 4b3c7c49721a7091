package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"entrytracker/internal/config"
	"entrytracker/internal/logging"
	"entrytracker/internal/queue"
	"entrytracker/internal/snapshot"
	"entrytracker/internal/store"
	"entrytracker/internal/worker"
)

// Worker consumes entry.recorded messages and refreshes occupancy snapshots in redis.
func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "entrytracker-worker")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	for _, w := range cfg.Warnings {
		logger.Warn("config", zap.String("detail", w))
	}
	if cfg.QueueBackend == "" || cfg.QueueBackend == "memory" {
		logger.Fatal("the worker needs a shared queue, set QUEUE_BACKEND to redis or mqtt")
	}
	if cfg.RedisAddr == "" {
		logger.Fatal("REDIS_ADDR is required for the snapshot cache")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	backend, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open store", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	defer backend.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		logger.Warn("redis not reachable yet, snapshots will fail until it is")
	}

	q, closeQueue, err := queue.Open(cfg, redisClient.Client, "entrytracker-worker")
	if err != nil {
		logger.Fatal("open queue", zap.String("backend", cfg.QueueBackend), zap.Error(err))
	}
	defer closeQueue()

	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Fatal("queue consume init failed", zap.Error(err))
	}

	logger.Info("worker started, waiting for messages",
		zap.String("store", cfg.StoreBackend), zap.String("queue", cfg.QueueBackend))
	worker.New(backend, snapshot.NewCache(redisClient.Client, 0), logger).Run(ctx, messages)
	logger.Info("worker stopped")
}
