package main

import (
	"context"
	"errors"
	"os"
	"time"

	"txcat/internal/amqp"
	"txcat/internal/batch"
	"txcat/internal/cache"
	"txcat/internal/categorizer"
	"txcat/internal/cli"
	"txcat/internal/core"
	"txcat/internal/log"
	"txcat/internal/services"
	"txcat/internal/trace"
	"txcat/internal/worker"
)

func main() {
	cfg, logger := cli.Bootstrap(os.Stdout)
	if err := cfg.ValidateClassifier(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	logger.Info("Starting txcat-worker",
		log.FieldQueue, cfg.AMQPQueue,
		"concurrency", cfg.WorkerConcurrency)

	sqliteRepo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer sqliteRepo.Close()

	// Category lookups by name are hot and the table only grows
	categoryCache := cache.NewLRUCache[core.Category](cfg.CategoryCacheSize, cfg.CategoryCacheTTL)
	cacheManager := cache.NewManager(func(removed int) {
		if removed > 0 {
			logger.Debug("Expired category cache entries", log.FieldCount, removed)
		}
	})
	cacheManager.Register(categoryCache)
	cacheManager.StartCleanup(cfg.CategoryCacheTTL)
	defer cacheManager.Stop()

	txClassifier, limiter, err := cli.InitClassifier(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize Gemini classifier", log.FieldError, err)
		os.Exit(1)
	}

	categorizerService := categorizer.NewService(sqliteRepo, sqliteRepo, txClassifier, categoryCache, logger)
	processor := batch.NewProcessor(sqliteRepo, categorizerService, cfg.BatchConcurrency, logger)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	jobWorker := worker.New(sqliteRepo, categorizerService, processor, amqpClient, cfg.JobMaxAttempts, logger)
	tracer := trace.NewMiddleware(logger)

	var recovery *services.RecoveryProcessor
	if cfg.RecoveryInterval > 0 {
		recovery = services.NewRecoveryProcessor(sqliteRepo, amqpClient, services.RecoveryProcessorConfig{
			PollInterval: cfg.RecoveryInterval,
			GracePeriod:  cfg.RecoveryGracePeriod,
			BatchSize:    cfg.RecoveryBatchSize,
			JobAttempts:  cfg.JobMaxAttempts,
		}, logger)
	} else {
		logger.Info("Recovery sweep disabled - RECOVERY_INTERVAL is 0")
	}

	consumerDone := make(chan struct{})
	ctx, shutdownDone := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if recovery != nil && recovery.IsRunning() {
			if err := recovery.Stop(shutdownCtx); err != nil {
				logger.Error("Failed to stop recovery processor", log.FieldError, err)
			}
		}
		// Wait for in-flight handlers to finish or requeue their job
		select {
		case <-consumerDone:
		case <-shutdownCtx.Done():
		}
	})

	if recovery != nil {
		if err := recovery.Start(ctx); err != nil {
			logger.Error("Failed to start recovery processor", log.FieldError, err)
		}
	}

	go func() {
		defer close(consumerDone)
		err := amqpClient.Consume(ctx, cfg.WorkerConcurrency, tracer.Wrap(jobWorker.Handle))
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", log.FieldError, err)
		}
	}()

	logger.Info("Worker ready",
		"dead_letter_queue", amqpClient.DeadLetterQueue())

	cli.WaitForShutdown(ctx, shutdownDone)

	metrics := tracer.GetMetrics()
	logger.Info("Worker stopped",
		"jobs_handled", metrics.TotalJobs,
		"jobs_failed", metrics.FailedJobs,
		"last_job_ms", metrics.LastJobDuration.Milliseconds())
	cli.LogUsage(logger, limiter, categoryCache)
}
