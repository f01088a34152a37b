package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"txcat/internal/core"
	"txcat/internal/log"
)

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// sqliteDatetimeLayout matches CURRENT_TIMESTAMP.
const sqliteDatetimeLayout = "2006-01-02 15:04:05"

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	logger  *log.Logger
}

func NewSQLiteRepository(dbPath string, logger *log.Logger) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger = logger.WithComponent(log.ComponentStorage)

	schema, err := RunMigrations(dbPath, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger.Debug("SQLite repository ready",
		"path", dbPath,
		"schema_version", schema.Version)

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		logger:  logger,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// GetCategoryByName returns core.ErrNotFound when no category has that name.
func (r *SQLiteRepository) GetCategoryByName(ctx context.Context, name string) (core.Category, error) {
	row, err := r.queries.GetCategoryByName(ctx, name)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, fmt.Errorf("category %q: %w", name, core.ErrNotFound)
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("get category by name: %w", err)
	}
	return core.Category{ID: row.ID, Name: row.Name}, nil
}

// CreateCategory inserts a new category. A duplicate name yields an error
// wrapping core.ErrUniqueViolation.
func (r *SQLiteRepository) CreateCategory(ctx context.Context, name string) (core.Category, error) {
	row, err := r.queries.CreateCategory(ctx, name)
	if err != nil {
		if isUniqueViolation(err) {
			return core.Category{}, fmt.Errorf("category %q: %w", name, core.ErrUniqueViolation)
		}
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}

	r.logger.InfoContext(ctx, "Category created",
		log.FieldCategoryID, row.ID,
		log.FieldCategory, row.Name)

	return core.Category{ID: row.ID, Name: row.Name}, nil
}

func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.queries.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	categories := make([]core.Category, len(rows))
	for i, row := range rows {
		categories[i] = core.Category{ID: row.ID, Name: row.Name}
	}
	return categories, nil
}

// CreateTransaction inserts tx. A duplicate transaction id yields an error
// wrapping core.ErrUniqueViolation.
func (r *SQLiteRepository) CreateTransaction(ctx context.Context, tx core.Transaction) error {
	params := CreateTransactionParams{
		TransactionID:   tx.TransactionID,
		Amount:          tx.Amount.String(),
		Timestamp:       tx.Timestamp.UTC().Format(timestampLayout),
		Description:     tx.Description,
		TransactionType: string(tx.Type),
		AccountNumber:   tx.AccountNumber,
	}
	if tx.Category != nil {
		params.CategoryID = sql.NullInt64{Int64: tx.Category.ID, Valid: true}
	}

	if err := r.queries.CreateTransaction(ctx, params); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("transaction %s: %w", tx.TransactionID, core.ErrUniqueViolation)
		}
		return fmt.Errorf("create transaction: %w", err)
	}

	r.logger.DebugContext(ctx, "Transaction saved",
		log.FieldTransactionID, tx.TransactionID,
		log.FieldDescription, tx.Description,
		log.FieldCategoryID, params.CategoryID.Int64)

	return nil
}

// GetTransaction returns core.ErrNotFound when the id is unknown.
func (r *SQLiteRepository) GetTransaction(ctx context.Context, transactionID string) (core.Transaction, error) {
	row, err := r.queries.GetTransaction(ctx, transactionID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", transactionID, core.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return row.toCore()
}

// FindCategorizedByDescription returns any transaction with exactly this
// description whose category is set, or core.ErrNotFound.
func (r *SQLiteRepository) FindCategorizedByDescription(ctx context.Context, description string) (core.Transaction, error) {
	row, err := r.queries.FindCategorizedByDescription(ctx, description)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("categorized transaction for %q: %w", description, core.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("find categorized transaction: %w", err)
	}
	return row.toCore()
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, limit, offset int) ([]core.Transaction, error) {
	rows, err := r.queries.ListTransactions(ctx, ListTransactionsParams{Limit: int64(limit), Offset: int64(offset)})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	txs := make([]core.Transaction, 0, len(rows))
	for _, row := range rows {
		tx, err := row.toCore()
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// ListUncategorized returns up to limit transactions without a category that
// were inserted at or before createdBefore, oldest first.
func (r *SQLiteRepository) ListUncategorized(ctx context.Context, createdBefore time.Time, limit int) ([]core.Transaction, error) {
	rows, err := r.queries.ListUncategorized(ctx, ListUncategorizedParams{
		CreatedBefore: createdBefore.UTC().Format(sqliteDatetimeLayout),
		Limit:         int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("list uncategorized: %w", err)
	}
	txs := make([]core.Transaction, 0, len(rows))
	for _, row := range rows {
		tx, err := row.toCore()
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// AssignCategory attaches category to the transaction only if it has none
// yet. It reports whether this call performed the update.
func (r *SQLiteRepository) AssignCategory(ctx context.Context, transactionID string, category core.Category) (bool, error) {
	n, err := r.queries.AssignCategoryIfUnset(ctx, category.ID, transactionID)
	if err != nil {
		return false, fmt.Errorf("assign category: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	r.logger.InfoContext(ctx, "Transaction categorized",
		log.FieldTransactionID, transactionID,
		log.FieldCategory, category.Name)

	return true, nil
}

func (row TransactionRow) toCore() (core.Transaction, error) {
	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("decode amount of %s: %w", row.TransactionID, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, row.Timestamp)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("decode timestamp of %s: %w", row.TransactionID, err)
	}

	tx := core.Transaction{
		TransactionID: row.TransactionID,
		Amount:        amount,
		Timestamp:     ts,
		Description:   row.Description,
		Type:          core.TransactionType(row.TransactionType),
		AccountNumber: row.AccountNumber,
	}
	if row.CategoryID.Valid {
		tx.Category = &core.Category{ID: row.CategoryID.Int64, Name: row.CategoryName.String}
	}
	return tx, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(se.Error(), "UNIQUE constraint failed")
	}
	return false
}
