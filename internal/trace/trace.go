package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"txcat/internal/amqp"
	"txcat/internal/log"
)

// Middleware traces job handling and logs each job's outcome
type Middleware struct {
	logger *log.Logger

	totalJobs  atomic.Int64
	failedJobs atomic.Int64
	lastJobNs  atomic.Int64
}

// Metrics is a snapshot of the job counters
type Metrics struct {
	TotalJobs       int64
	FailedJobs      int64
	LastJobDuration time.Duration
}

// NewMiddleware creates a new trace middleware
func NewMiddleware(logger *log.Logger) *Middleware {
	return &Middleware{
		logger: logger.WithComponent(log.ComponentWorker),
	}
}

// Wrap returns an amqp.Handler that attaches a logger scoped to the job ID
// to ctx, and logs start and completion around next.
func (m *Middleware) Wrap(next amqp.Handler) amqp.Handler {
	return func(ctx context.Context, job amqp.Job) error {
		start := time.Now()

		jobID := job.ID
		if jobID == "" {
			// Messages from older producers carry no id
			jobID = GenerateJobID()
		}
		ctx = log.WithContext(ctx, m.logger.With(log.FieldJobID, jobID))

		m.logger.DebugContext(ctx, "Job started",
			log.FieldJobID, jobID,
			log.FieldJobKind, job.Kind,
			log.FieldAttempt, job.Attempt,
			log.FieldMaxAttempts, job.Attempts)

		m.totalJobs.Add(1)

		err := next(ctx, job)

		duration := time.Since(start)
		m.lastJobNs.Store(int64(duration))

		logLevel := slog.LevelInfo
		if err != nil {
			m.failedJobs.Add(1)
			logLevel = slog.LevelWarn
			if isPermanent(err) || job.Exhausted() {
				logLevel = slog.LevelError
			}
		}

		m.logger.Log(ctx, logLevel, "Job completed",
			log.FieldComponent, m.logger.Component(),
			log.FieldJobID, jobID,
			log.FieldJobKind, job.Kind,
			log.FieldAttempt, job.Attempt,
			log.FieldMaxAttempts, job.Attempts,
			log.FieldDuration, duration.Milliseconds(),
			"success", err == nil,
			log.FieldError, err)

		return err
	}
}

func isPermanent(err error) bool {
	var p interface{ Permanent() bool }
	return errors.As(err, &p) && p.Permanent()
}

// GenerateJobID creates a unique ID for jobs that arrive without one
func GenerateJobID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp if random fails
		return fmt.Sprintf("job_%d", time.Now().UnixNano())
	}
	return "job_" + hex.EncodeToString(bytes)
}

// GetMetrics returns current metrics
func (m *Middleware) GetMetrics() Metrics {
	return Metrics{
		TotalJobs:       m.totalJobs.Load(),
		FailedJobs:      m.failedJobs.Load(),
		LastJobDuration: time.Duration(m.lastJobNs.Load()),
	}
}
