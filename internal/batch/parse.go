package batch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"txcat/internal/core"
)

// csvRow maps the upload header. Fields stay raw so that every conversion
// error can name its row.
type csvRow struct {
	TransactionID   string `csv:"Transaction ID"`
	Amount          string `csv:"Amount"`
	Timestamp       string `csv:"Timestamp"`
	Description     string `csv:"Description"`
	TransactionType string `csv:"Transaction Type"`
	AccountNumber   string `csv:"Account Number"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseFile reads every transaction in the CSV at path.
func ParseFile(path string) ([]core.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrFileNotFound, path, err)
	}
	defer f.Close()

	return Parse(f)
}

func Parse(r io.Reader) ([]core.Transaction, error) {
	var rows []*csvRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		if errors.Is(err, gocsv.ErrEmptyCSVFile) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", core.ErrParse, err)
	}

	txs := make([]core.Transaction, 0, len(rows))
	for i, row := range rows {
		// Line 1 is the header.
		tx, err := row.toTransaction()
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", core.ErrParse, i+2, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (r *csvRow) toTransaction() (core.Transaction, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(r.Amount))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("amount %q: %v", r.Amount, err)
	}
	ts, err := ParseTimestamp(r.Timestamp)
	if err != nil {
		return core.Transaction{}, err
	}
	typ, err := core.ParseTransactionType(r.TransactionType)
	if err != nil {
		return core.Transaction{}, err
	}

	tx := core.Transaction{
		TransactionID: strings.TrimSpace(r.TransactionID),
		Amount:        amount,
		Timestamp:     ts,
		Description:   r.Description,
		Type:          typ,
		AccountNumber: strings.TrimSpace(r.AccountNumber),
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return tx, nil
}

// ParseTimestamp accepts RFC 3339 and the common SQL datetime layouts.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q: unrecognized format", s)
}
