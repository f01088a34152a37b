package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"txcat/internal/core"
	"txcat/internal/log"
)

type TransactionWriter interface {
	CreateTransaction(ctx context.Context, tx core.Transaction) error
}

type Categorizer interface {
	Categorize(ctx context.Context, description string) (core.Category, error)
}

// Processor ingests CSV files, categorizing once per distinct description.
type Processor struct {
	store       TransactionWriter
	categorizer Categorizer
	concurrency int
	logger      *log.Logger
}

func NewProcessor(store TransactionWriter, categorizer Categorizer, concurrency int, logger *log.Logger) *Processor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Processor{
		store:       store,
		categorizer: categorizer,
		concurrency: concurrency,
		logger:      logger.WithComponent(log.ComponentBatch),
	}
}

// ProcessFile parses, groups, categorizes and persists the file at path.
// Failures of single groups are recorded in the report; only parse errors,
// empty input and cancellation are returned.
func (p *Processor) ProcessFile(ctx context.Context, path string) (*Report, error) {
	start := time.Now()

	txs, err := ParseFile(path)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to parse file",
			log.FieldFilePath, path,
			log.FieldError, err)
		return nil, err
	}

	p.logger.InfoContext(ctx, "File parsed", log.FieldFilePath, path, log.FieldCount, len(txs))

	if len(txs) == 0 {
		p.logger.WarnContext(ctx, "No transactions found", log.FieldFilePath, path)
		return nil, fmt.Errorf("%s: %w", path, core.ErrEmptyInput)
	}

	report, err := p.Process(ctx, txs)
	if err != nil {
		return report, err
	}

	p.logger.InfoContext(ctx, "File processed",
		log.FieldFilePath, path,
		"rows", report.Rows,
		"groups", report.Groups,
		"persisted", report.Persisted,
		"categorized", report.Categorized,
		"uncategorized", len(report.Uncategorized),
		"failed_groups", report.FailedGroups,
		log.FieldDuration, time.Since(start).Milliseconds())

	return report, nil
}

// Process runs already parsed transactions through grouping and persistence.
func (p *Processor) Process(ctx context.Context, txs []core.Transaction) (*Report, error) {
	if len(txs) == 0 {
		return nil, core.ErrEmptyInput
	}

	groups := GroupByDescription(txs)
	results := make([]GroupResult, len(groups))
	uncategorized := make([][]Pending, len(groups))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, group := range groups {
		g.Go(func() error {
			results[i], uncategorized[i] = p.processGroup(ctx, group)
			return nil
		})
	}
	_ = g.Wait()

	report := newReport(len(txs), results, uncategorized)
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (p *Processor) processGroup(ctx context.Context, group Group) (GroupResult, []Pending) {
	res := GroupResult{
		Description: group.Description,
		Outcome:     OutcomeCategorized,
		Rows:        len(group.Transactions),
	}
	if err := ctx.Err(); err != nil {
		res.Outcome = OutcomePersistFailed
		res.Err = err
		return res, nil
	}

	category, err := p.categorizer.Categorize(ctx, group.Description)
	switch {
	case err == nil:
		res.Category = &category
	case errors.Is(err, core.ErrClassificationFailure):
		res.Outcome = OutcomeClassificationFailed
		res.Err = err
		p.logger.WarnContext(ctx, "Classification failed, storing group uncategorized",
			log.FieldDescription, group.Description,
			log.FieldCount, len(group.Transactions),
			log.FieldError, err)
	default:
		res.Outcome = OutcomeClassificationFailed
		res.Err = fmt.Errorf("categorize: %w", err)
		p.logger.ErrorContext(ctx, "Failed to categorize group",
			log.FieldDescription, group.Description,
			log.FieldError, err)
	}

	var pending []Pending
	for _, tx := range group.Transactions {
		tx.Category = res.Category
		if err := p.store.CreateTransaction(ctx, tx); err != nil {
			res.Outcome = OutcomePersistFailed
			res.FailedTransactionID = tx.TransactionID
			res.Err = err
			p.logger.ErrorContext(ctx, "Failed to persist transaction, abandoning rest of group",
				log.FieldTransactionID, tx.TransactionID,
				log.FieldDescription, group.Description,
				log.FieldError, err)
			break
		}
		res.Persisted++
		if res.Category == nil {
			pending = append(pending, Pending{TransactionID: tx.TransactionID, Description: tx.Description})
		}
	}

	return res, pending
}
