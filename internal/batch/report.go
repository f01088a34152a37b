package batch

import "txcat/internal/core"

type Outcome string

const (
	OutcomeCategorized          Outcome = "categorized"
	OutcomeClassificationFailed Outcome = "classification_failed"
	OutcomePersistFailed        Outcome = "persist_failed"
)

// Pending is a persisted row still waiting for a category.
type Pending struct {
	TransactionID string
	Description   string
}

type GroupResult struct {
	Description string
	Outcome     Outcome
	Category    *core.Category
	Rows        int
	Persisted   int
	// FailedTransactionID is the row whose insert stopped the group.
	FailedTransactionID string
	Err                 error
}

// Report summarizes one file. Results follow group order.
type Report struct {
	Rows          int
	Groups        int
	Persisted     int
	Categorized   int
	FailedGroups  int
	Uncategorized []Pending
	Results       []GroupResult
}

func newReport(rows int, results []GroupResult, uncategorized [][]Pending) *Report {
	r := &Report{
		Rows:    rows,
		Groups:  len(results),
		Results: results,
	}
	for i, res := range results {
		r.Persisted += res.Persisted
		if res.Category != nil {
			r.Categorized += res.Persisted
		}
		if res.Outcome != OutcomeCategorized {
			r.FailedGroups++
		}
		r.Uncategorized = append(r.Uncategorized, uncategorized[i]...)
	}
	return r
}
