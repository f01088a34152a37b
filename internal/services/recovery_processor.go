package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"txcat/internal/amqp"
	"txcat/internal/core"
	"txcat/internal/log"
)

// RecoveryProcessorConfig holds configuration for the recovery sweep
type RecoveryProcessorConfig struct {
	// PollInterval is how often to look for stranded rows (default: 10m)
	PollInterval time.Duration

	// GracePeriod is how old an uncategorized row must be before it is
	// considered stranded (default: 15m)
	GracePeriod time.Duration

	// BatchSize is the max number of rows enqueued per sweep (default: 100)
	BatchSize int

	// JobAttempts is the attempt budget given to re-enqueued jobs
	JobAttempts int
}

func DefaultRecoveryProcessorConfig() RecoveryProcessorConfig {
	return RecoveryProcessorConfig{
		PollInterval: 10 * time.Minute,
		GracePeriod:  15 * time.Minute,
		BatchSize:    100,
		JobAttempts:  amqp.DefaultAttempts,
	}
}

type UncategorizedLister interface {
	ListUncategorized(ctx context.Context, createdBefore time.Time, limit int) ([]core.Transaction, error)
}

// RecoveryProcessor re-enqueues transactions that stayed uncategorized,
// for example because their job was dead-lettered or never published.
type RecoveryProcessor struct {
	store     UncategorizedLister
	publisher JobPublisher
	config    RecoveryProcessorConfig
	logger    *log.Logger
	now       func() time.Time

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewRecoveryProcessor(store UncategorizedLister, publisher JobPublisher, config RecoveryProcessorConfig, logger *log.Logger) *RecoveryProcessor {
	return &RecoveryProcessor{
		store:     store,
		publisher: publisher,
		config:    config,
		logger:    logger.WithComponent(log.ComponentService),
		now:       time.Now,
	}
}

// Start begins the sweep loop. Returns an error if already running.
func (p *RecoveryProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("recovery processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Recovery processor started",
		"poll_interval", p.config.PollInterval,
		"grace_period", p.config.GracePeriod)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *RecoveryProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		p.logger.InfoContext(ctx, "Recovery processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Recovery processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

func (p *RecoveryProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *RecoveryProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil {
				p.logger.ErrorContext(ctx, "Recovery sweep failed", log.FieldError, err)
			}
		}
	}
}

// RunOnce enqueues a categorize job for each stranded row and returns how
// many were enqueued.
func (p *RecoveryProcessor) RunOnce(ctx context.Context) (int, error) {
	cutoff := p.now().Add(-p.config.GracePeriod)
	txs, err := p.store.ListUncategorized(ctx, cutoff, p.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list uncategorized: %w", err)
	}

	enqueued := 0
	for _, tx := range txs {
		job := amqp.NewCategorizeJob(tx.TransactionID, tx.Description, p.config.JobAttempts)
		if err := p.publisher.Publish(ctx, job); err != nil {
			return enqueued, fmt.Errorf("enqueue %s: %w", tx.TransactionID, err)
		}
		enqueued++
	}

	if enqueued > 0 {
		p.logger.InfoContext(ctx, "Re-enqueued uncategorized transactions", log.FieldCount, enqueued)
	}
	return enqueued, nil
}
