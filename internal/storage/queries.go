package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Row types mirror the table columns; amount and timestamp are kept as text.
type (
	CategoryRow struct {
		ID   int64
		Name string
	}

	TransactionRow struct {
		TransactionID   string
		Amount          string
		Timestamp       string
		Description     string
		TransactionType string
		AccountNumber   string
		CategoryID      sql.NullInt64
		CategoryName    sql.NullString
	}

	CreateTransactionParams struct {
		TransactionID   string
		Amount          string
		Timestamp       string
		Description     string
		TransactionType string
		AccountNumber   string
		CategoryID      sql.NullInt64
	}

	ListTransactionsParams struct {
		Limit  int64
		Offset int64
	}
)

const createCategory = `
INSERT INTO categories (name) VALUES (?)
RETURNING id, name`

func (q *Queries) CreateCategory(ctx context.Context, name string) (CategoryRow, error) {
	var c CategoryRow
	err := q.db.QueryRowContext(ctx, createCategory, name).Scan(&c.ID, &c.Name)
	return c, err
}

const getCategoryByName = `
SELECT id, name FROM categories WHERE name = ?`

func (q *Queries) GetCategoryByName(ctx context.Context, name string) (CategoryRow, error) {
	var c CategoryRow
	err := q.db.QueryRowContext(ctx, getCategoryByName, name).Scan(&c.ID, &c.Name)
	return c, err
}

const listCategories = `
SELECT id, name FROM categories ORDER BY name`

func (q *Queries) ListCategories(ctx context.Context) ([]CategoryRow, error) {
	rows, err := q.db.QueryContext(ctx, listCategories)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []CategoryRow
	for rows.Next() {
		var c CategoryRow
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

const createTransaction = `
INSERT INTO transactions (
    transaction_id, amount, timestamp, description, transaction_type, account_number, category_id
) VALUES (?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) CreateTransaction(ctx context.Context, arg CreateTransactionParams) error {
	_, err := q.db.ExecContext(ctx, createTransaction,
		arg.TransactionID,
		arg.Amount,
		arg.Timestamp,
		arg.Description,
		arg.TransactionType,
		arg.AccountNumber,
		arg.CategoryID,
	)
	return err
}

const transactionColumns = `
SELECT t.transaction_id, t.amount, t.timestamp, t.description, t.transaction_type,
       t.account_number, t.category_id, c.name
FROM transactions t
LEFT JOIN categories c ON c.id = t.category_id`

const getTransaction = transactionColumns + `
WHERE t.transaction_id = ?`

func (q *Queries) GetTransaction(ctx context.Context, transactionID string) (TransactionRow, error) {
	return scanTransaction(q.db.QueryRowContext(ctx, getTransaction, transactionID))
}

const findCategorizedByDescription = transactionColumns + `
WHERE t.description = ? AND t.category_id IS NOT NULL
LIMIT 1`

func (q *Queries) FindCategorizedByDescription(ctx context.Context, description string) (TransactionRow, error) {
	return scanTransaction(q.db.QueryRowContext(ctx, findCategorizedByDescription, description))
}

const listTransactions = transactionColumns + `
ORDER BY t.timestamp, t.transaction_id
LIMIT ? OFFSET ?`

func (q *Queries) ListTransactions(ctx context.Context, arg ListTransactionsParams) ([]TransactionRow, error) {
	rows, err := q.db.QueryContext(ctx, listTransactions, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []TransactionRow
	for rows.Next() {
		row, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, row)
	}
	return items, rows.Err()
}

const assignCategoryIfUnset = `
UPDATE transactions
SET category_id = ?, updated_at = CURRENT_TIMESTAMP
WHERE transaction_id = ? AND category_id IS NULL`

// AssignCategoryIfUnset returns the number of rows updated (0 or 1).
func (q *Queries) AssignCategoryIfUnset(ctx context.Context, categoryID int64, transactionID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, assignCategoryIfUnset, categoryID, transactionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listUncategorized = transactionColumns + `
WHERE t.category_id IS NULL AND t.created_at <= ?
ORDER BY t.created_at, t.transaction_id
LIMIT ?`

type ListUncategorizedParams struct {
	CreatedBefore string
	Limit         int64
}

func (q *Queries) ListUncategorized(ctx context.Context, arg ListUncategorizedParams) ([]TransactionRow, error) {
	rows, err := q.db.QueryContext(ctx, listUncategorized, arg.CreatedBefore, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []TransactionRow
	for rows.Next() {
		row, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, row)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s rowScanner) (TransactionRow, error) {
	var r TransactionRow
	err := s.Scan(
		&r.TransactionID,
		&r.Amount,
		&r.Timestamp,
		&r.Description,
		&r.TransactionType,
		&r.AccountNumber,
		&r.CategoryID,
		&r.CategoryName,
	)
	return r, err
}
