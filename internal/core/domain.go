package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Debit  TransactionType = "debit"
	Credit TransactionType = "credit"
)

type (
	TransactionType string

	// Category is a named spending classification shared by many transactions.
	Category struct {
		ID   int64
		Name string
	}

	Transaction struct {
		TransactionID string
		Amount        decimal.Decimal
		Timestamp     time.Time
		Description   string
		Type          TransactionType
		AccountNumber string
		Category      *Category // nil until categorized
	}
)

var (
	ErrClassificationFailure = errors.New("classification failed")
	ErrUniqueViolation       = errors.New("already exists")
	ErrNotFound              = errors.New("not found")
	ErrFileNotFound          = errors.New("file not found")
	ErrParse                 = errors.New("parse failure")
	ErrEmptyInput            = errors.New("no transactions found")
	ErrInvalidTransaction    = errors.New("invalid transaction")
)

// ParseTransactionType normalizes s and returns the matching type.
func ParseTransactionType(s string) (TransactionType, error) {
	switch t := TransactionType(strings.ToLower(strings.TrimSpace(s))); t {
	case Debit, Credit:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown transaction type %q", ErrInvalidTransaction, s)
	}
}

// IsCategorized reports whether a category has been attached.
func (t Transaction) IsCategorized() bool {
	return t.Category != nil
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.TransactionID) == "" {
		return fmt.Errorf("%w: empty transaction id", ErrInvalidTransaction)
	}
	if strings.TrimSpace(t.Description) == "" {
		return fmt.Errorf("%w: empty description", ErrInvalidTransaction)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp cannot be zero", ErrInvalidTransaction)
	}
	switch t.Type {
	case Debit, Credit:
	default:
		return fmt.Errorf("%w: unknown transaction type %q", ErrInvalidTransaction, t.Type)
	}
	if strings.TrimSpace(t.AccountNumber) == "" {
		return fmt.Errorf("%w: empty account number", ErrInvalidTransaction)
	}
	return nil
}
