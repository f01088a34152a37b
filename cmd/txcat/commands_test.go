package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"txcat/internal/batch"
	"txcat/internal/core"
)

func TestPrintTransactions(t *testing.T) {
	var buf bytes.Buffer
	printTransactions(&buf, []core.Transaction{
		{
			TransactionID: "TXN1",
			Amount:        decimal.RequireFromString("-3.2"),
			Timestamp:     time.Date(2024, 2, 3, 8, 0, 0, 0, time.UTC),
			Description:   "Coffee Shop",
			Type:          core.Debit,
			Category:      &core.Category{ID: 1, Name: "dining_out"},
		},
		{
			TransactionID: "TXN2",
			Amount:        decimal.RequireFromString("1500"),
			Timestamp:     time.Date(2024, 2, 4, 0, 0, 0, 0, time.UTC),
			Description:   "Salary",
			Type:          core.Credit,
		},
	})

	out := buf.String()
	assert.Contains(t, out, "-3.20")
	assert.Contains(t, out, "dining_out")
	assert.Contains(t, out, "1500.00")
	assert.Contains(t, out, "2024-02-03T08:00:00Z")
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, &batch.Report{
		Rows: 3, Groups: 2, Persisted: 3, Categorized: 2, FailedGroups: 1,
		Uncategorized: []batch.Pending{{TransactionID: "TXN3", Description: "Unknown Vendor"}},
		Results: []batch.GroupResult{
			{Description: "Coffee Shop", Outcome: batch.OutcomeCategorized, Category: &core.Category{Name: "dining_out"}, Rows: 2, Persisted: 2},
			{Description: "Unknown Vendor", Outcome: batch.OutcomeClassificationFailed, Rows: 1, Persisted: 1},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "rows=3 groups=2 persisted=3 categorized=2 failed_groups=1")
	assert.Contains(t, out, "classification_failed")
	assert.Contains(t, out, "1 row(s) left uncategorized")
}

func TestRootCommandTree(t *testing.T) {
	a := &app{}
	names := map[string]bool{}
	for _, cmd := range []interface{ Name() string }{
		newSubmitCmd(a), newUploadCmd(a), newProcessCmd(a), newGetCmd(a),
		newListCmd(a), newCategoriesCmd(a), newRequeueCmd(a),
	} {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"submit", "upload", "process", "get", "list", "categories", "requeue"} {
		assert.True(t, names[want], want)
	}
}
