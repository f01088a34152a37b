package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"txcat/internal/amqp"
	"txcat/internal/core"
	"txcat/internal/log"
)

var ErrConflict = errors.New("already exists")

type TransactionRepository interface {
	CreateTransaction(ctx context.Context, tx core.Transaction) error
	GetTransaction(ctx context.Context, transactionID string) (core.Transaction, error)
	ListTransactions(ctx context.Context, limit, offset int) ([]core.Transaction, error)
}

type JobPublisher interface {
	Publish(ctx context.Context, job amqp.Job) error
}

// SubmissionService is the producer side: it stores work and enqueues it.
type SubmissionService struct {
	transactions TransactionRepository
	publisher    JobPublisher
	uploadDir    string
	jobAttempts  int
	logger       *log.Logger
}

func NewSubmissionService(transactions TransactionRepository, publisher JobPublisher, uploadDir string, jobAttempts int, logger *log.Logger) *SubmissionService {
	return &SubmissionService{
		transactions: transactions,
		publisher:    publisher,
		uploadDir:    uploadDir,
		jobAttempts:  jobAttempts,
		logger:       logger.WithComponent(log.ComponentService),
	}
}

// SubmitTransaction saves tx uncategorized and enqueues its categorization.
// A duplicate id returns ErrConflict.
func (s *SubmissionService) SubmitTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	tx.Category = nil

	// Save to SQLite first (fast, reliable)
	if err := s.transactions.CreateTransaction(ctx, tx); err != nil {
		if errors.Is(err, core.ErrUniqueViolation) {
			return core.Transaction{}, fmt.Errorf("transaction %s: %w", tx.TransactionID, ErrConflict)
		}
		return core.Transaction{}, fmt.Errorf("save transaction: %w", err)
	}

	job := amqp.NewCategorizeJob(tx.TransactionID, tx.Description, s.jobAttempts)
	if err := s.publish(ctx, job); err != nil {
		// Don't fail the request - the row is saved and the recovery sweep picks it up
		s.logger.ErrorContext(ctx, "Failed to enqueue categorize job",
			log.FieldTransactionID, tx.TransactionID,
			log.FieldError, err)
	}

	s.logger.InfoContext(ctx, "Transaction submitted",
		log.FieldTransactionID, tx.TransactionID,
		log.FieldDescription, tx.Description)

	return tx, nil
}

// SubmitFile stores the upload under the upload directory and enqueues it.
// It returns the stored path.
func (s *SubmissionService) SubmitFile(ctx context.Context, r io.Reader) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0755); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}

	path := filepath.Join(s.uploadDir, uuid.NewString()+".csv")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close upload file: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}

	if err := s.publish(ctx, amqp.NewFileJob(path, s.jobAttempts)); err != nil {
		// Nothing else references the file yet
		os.Remove(path)
		return "", fmt.Errorf("enqueue file job: %w", err)
	}

	s.logger.InfoContext(ctx, "File queued for processing", log.FieldFilePath, path)
	return path, nil
}

func (s *SubmissionService) GetTransaction(ctx context.Context, transactionID string) (core.Transaction, error) {
	return s.transactions.GetTransaction(ctx, transactionID)
}

func (s *SubmissionService) ListTransactions(ctx context.Context, limit, offset int) ([]core.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.transactions.ListTransactions(ctx, limit, offset)
}

func (s *SubmissionService) publish(ctx context.Context, job amqp.Job) error {
	if s.publisher == nil {
		return errors.New("AMQP client not available")
	}
	return s.publisher.Publish(ctx, job)
}
