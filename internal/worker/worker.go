package worker

import (
	"context"
	"errors"
	"fmt"
	"os"

	"txcat/internal/amqp"
	"txcat/internal/batch"
	"txcat/internal/core"
	"txcat/internal/log"
)

type TransactionStore interface {
	GetTransaction(ctx context.Context, transactionID string) (core.Transaction, error)
	AssignCategory(ctx context.Context, transactionID string, category core.Category) (bool, error)
}

type Categorizer interface {
	Categorize(ctx context.Context, description string) (core.Category, error)
}

type FileProcessor interface {
	ProcessFile(ctx context.Context, path string) (*batch.Report, error)
}

type JobPublisher interface {
	Publish(ctx context.Context, job amqp.Job) error
}

// Worker executes dequeued jobs. It has no retry loop of its own; a
// returned error is left to the transport's attempt budget.
type Worker struct {
	transactions TransactionStore
	categorizer  Categorizer
	files        FileProcessor
	publisher    JobPublisher
	jobAttempts  int
	logger       *log.Logger
}

func New(transactions TransactionStore, categorizer Categorizer, files FileProcessor, publisher JobPublisher, jobAttempts int, logger *log.Logger) *Worker {
	return &Worker{
		transactions: transactions,
		categorizer:  categorizer,
		files:        files,
		publisher:    publisher,
		jobAttempts:  jobAttempts,
		logger:       logger.WithComponent(log.ComponentWorker),
	}
}

// Handle is an amqp.Handler.
func (w *Worker) Handle(ctx context.Context, job amqp.Job) error {
	switch job.Kind {
	case amqp.KindCategorizeTransaction:
		return w.categorizeTransaction(ctx, job.TransactionID, job.Description)
	case amqp.KindProcessFile:
		return w.processFile(ctx, job.FilePath)
	default:
		return Permanent(fmt.Errorf("%w: unknown kind %q", amqp.ErrMalformedJob, job.Kind))
	}
}

func (w *Worker) categorizeTransaction(ctx context.Context, transactionID, description string) error {
	tx, err := w.transactions.GetTransaction(ctx, transactionID)
	if errors.Is(err, core.ErrNotFound) {
		w.loggerFor(ctx).WarnContext(ctx, "Transaction not found, nothing to categorize",
			log.FieldTransactionID, transactionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}

	if tx.IsCategorized() {
		w.loggerFor(ctx).InfoContext(ctx, "Transaction already categorized, skipping",
			log.FieldTransactionID, transactionID,
			log.FieldCategory, tx.Category.Name)
		return nil
	}

	// The stored description is authoritative; the job copy may be stale
	if description != tx.Description {
		w.loggerFor(ctx).DebugContext(ctx, "Job description differs from stored row",
			log.FieldTransactionID, transactionID,
			log.FieldDescription, description)
	}

	category, err := w.categorizer.Categorize(ctx, tx.Description)
	if err != nil {
		return fmt.Errorf("categorize %s: %w", transactionID, err)
	}

	updated, err := w.transactions.AssignCategory(ctx, transactionID, category)
	if err != nil {
		return fmt.Errorf("assign category: %w", err)
	}
	if !updated {
		w.loggerFor(ctx).InfoContext(ctx, "Transaction categorized concurrently by another worker",
			log.FieldTransactionID, transactionID)
	}

	return nil
}

func (w *Worker) processFile(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Permanent(fmt.Errorf("%w: %s", core.ErrFileNotFound, path))
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}

	report, err := w.files.ProcessFile(ctx, path)
	switch {
	case errors.Is(err, core.ErrEmptyInput):
		w.loggerFor(ctx).WarnContext(ctx, "File contained no transactions", log.FieldFilePath, path)
		w.removeFile(ctx, path)
		return nil
	case errors.Is(err, core.ErrParse), errors.Is(err, core.ErrFileNotFound):
		// Kept on disk for inspection
		return Permanent(err)
	case err != nil:
		return fmt.Errorf("process %s: %w", path, err)
	}

	w.requeueUncategorized(ctx, report.Uncategorized)

	if err := unstoredRows(report); err != nil {
		// Rows that never reached the store exist only in the file
		kept := w.keepFailedFile(ctx, path)
		return Permanent(fmt.Errorf("%s: %w", kept, err))
	}

	w.removeFile(ctx, path)
	return nil
}

// unstoredRows returns the first persist error other than a duplicate key.
// Duplicates are already stored, so losing the file loses nothing.
func unstoredRows(report *batch.Report) error {
	for _, g := range report.Results {
		if g.Outcome != batch.OutcomePersistFailed || errors.Is(g.Err, core.ErrUniqueViolation) {
			continue
		}
		return fmt.Errorf("group %q not fully stored at %s: %w", g.Description, g.FailedTransactionID, g.Err)
	}
	return nil
}

// keepFailedFile moves path aside to path+".failed" so the upload directory
// only holds pending work. It returns wherever the file ended up.
func (w *Worker) keepFailedFile(ctx context.Context, path string) string {
	failed := path + ".failed"
	if err := os.Rename(path, failed); err != nil {
		w.loggerFor(ctx).WarnContext(ctx, "Failed to move file aside, leaving it in place",
			log.FieldFilePath, path,
			log.FieldError, err)
		return path
	}
	w.loggerFor(ctx).ErrorContext(ctx, "Some rows were not stored, file kept for reprocessing",
		log.FieldFilePath, failed)
	return failed
}

// requeueUncategorized gives rows whose group failed classification their
// own categorize jobs, each with a fresh attempt budget.
func (w *Worker) requeueUncategorized(ctx context.Context, pending []batch.Pending) {
	for _, p := range pending {
		job := amqp.NewCategorizeJob(p.TransactionID, p.Description, w.jobAttempts)
		if err := w.publisher.Publish(ctx, job); err != nil {
			w.loggerFor(ctx).ErrorContext(ctx, "Failed to enqueue categorize job for uncategorized row",
				log.FieldTransactionID, p.TransactionID,
				log.FieldError, err)
		}
	}
	if len(pending) > 0 {
		w.loggerFor(ctx).InfoContext(ctx, "Enqueued uncategorized rows", log.FieldCount, len(pending))
	}
}

// loggerFor prefers the job-scoped logger attached by the trace middleware.
func (w *Worker) loggerFor(ctx context.Context) *log.Logger {
	return log.FromContext(ctx, w.logger)
}

func (w *Worker) removeFile(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.loggerFor(ctx).WarnContext(ctx, "Failed to delete processed file",
			log.FieldFilePath, path,
			log.FieldError, err)
	}
}
