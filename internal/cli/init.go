// Package cli provides common CLI initialization utilities.
// This package consolidates repeated initialization patterns across
// cmd/txcat and cmd/txcat-worker.
package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"txcat/internal/cache"
	"txcat/internal/classifier"
	"txcat/internal/config"
	"txcat/internal/core"
	"txcat/internal/log"
	"txcat/internal/ratelimit"
	"txcat/internal/storage"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the root logger from LOG_LEVEL and LOG_FORMAT and sets
// it as the slog default.
func SetupLogger(cfg *config.Config, out io.Writer) *log.Logger {
	logCfg := log.DefaultConfig()
	logCfg.Level = log.ParseLevel(cfg.LogLevel)
	logCfg.Format = cfg.LogFormat
	if out != nil {
		logCfg.Output = out
	}

	logger := log.New(logCfg)
	log.SetDefault(logger)
	return logger
}

// Bootstrap loads .env and the configuration, sets up logging and validates
// the configuration. It exits the process on validation failure.
func Bootstrap(out io.Writer) (*config.Config, *log.Logger) {
	LoadEnvFile()
	cfg := config.Load()
	logger := SetupLogger(cfg, out)
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg, logger
}

// InitSQLite initializes a SQLite repository with the given path.
// Returns the repository or exits the process on failure.
func InitSQLite(logger *log.Logger, dbPath string) *storage.SQLiteRepository {
	sqliteRepo, err := storage.NewSQLiteRepository(dbPath, logger)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", dbPath)
		os.Exit(1)
	}
	return sqliteRepo
}

// InitClassifier builds the Gemini classifier, paced to
// CLASSIFIER_RATE_LIMIT and wrapped in the retry policy from cfg. The
// limiter is returned so callers can report how long pacing held requests.
func InitClassifier(ctx context.Context, cfg *config.Config, logger *log.Logger) (classifier.Classifier, *ratelimit.Limiter, error) {
	gemini, err := classifier.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
	if err != nil {
		return nil, nil, err
	}

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.ClassifierRateLimit,
		Burst:             1,
	})

	return PacedClassifier(gemini, limiter, cfg, logger), limiter, nil
}

// PacedClassifier wraps next in the limiter and then the retry policy from
// cfg, so every retried attempt waits for its own token.
func PacedClassifier(next classifier.Classifier, limiter *ratelimit.Limiter, cfg *config.Config, logger *log.Logger) classifier.Classifier {
	return classifier.WithRetry(classifier.WithRateLimit(next, limiter), classifier.RetryPolicy{
		MaxAttempts:    cfg.ClassifierMaxAttempts,
		BaseDelay:      cfg.ClassifierBaseDelay,
		AttemptTimeout: cfg.ClassifierAttemptTimeout,
	}, logger)
}

// LogUsage logs pacing and category cache counters. Either may be nil.
func LogUsage(logger *log.Logger, limiter *ratelimit.Limiter, categories *cache.LRUCache[core.Category]) {
	if limiter != nil {
		m := limiter.GetMetrics()
		logger.Info("Classifier pacing",
			"rate_limit_waits", m.Waits,
			"rate_limit_wait_ms", m.TotalWait.Milliseconds())
	}
	if categories != nil {
		s := categories.Stats()
		logger.Info("Category cache",
			"size", s.Size,
			"hits", s.Hits,
			"misses", s.Misses)
	}
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that is closed once cleanup finished or timed out.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		// Stop consumers first so in-flight handlers observe cancellation
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup(shutdownCtx)
			}
			close(finished)
		}()

		select {
		case <-finished:
			logger.Info("Shutdown complete")
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout reached")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup is done.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
