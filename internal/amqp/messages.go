package amqp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type JobKind string

const (
	KindCategorizeTransaction JobKind = "categorize_transaction"
	KindProcessFile           JobKind = "process_file"
)

// DefaultAttempts is the delivery budget given to a job at enqueue time.
const DefaultAttempts = 3

var ErrMalformedJob = errors.New("malformed job")

// Job is a unit of queued work. Attempt is 1-based and travels in the
// x-attempt header rather than the body.
type Job struct {
	ID            string
	Kind          JobKind
	TransactionID string
	Description   string
	FilePath      string
	Attempts      int
	Attempt       int
}

// jobWire is the JSON body. Untagged bodies with only transactionId and
// description, or only filePath, are still accepted.
type jobWire struct {
	ID            string  `json:"id,omitempty"`
	Kind          JobKind `json:"kind,omitempty"`
	TransactionID string  `json:"transactionId,omitempty"`
	Description   string  `json:"description,omitempty"`
	FilePath      string  `json:"filePath,omitempty"`
	Attempts      int     `json:"attempts,omitempty"`
}

func NewCategorizeJob(transactionID, description string, attempts int) Job {
	return Job{
		ID:            uuid.NewString(),
		Kind:          KindCategorizeTransaction,
		TransactionID: transactionID,
		Description:   description,
		Attempts:      normalizeAttempts(attempts),
		Attempt:       1,
	}
}

func NewFileJob(filePath string, attempts int) Job {
	return Job{
		ID:       uuid.NewString(),
		Kind:     KindProcessFile,
		FilePath: filePath,
		Attempts: normalizeAttempts(attempts),
		Attempt:  1,
	}
}

func normalizeAttempts(n int) int {
	if n < 1 {
		return DefaultAttempts
	}
	return n
}

// Next returns the job as it should be redelivered after a failed attempt.
func (j Job) Next() Job {
	j.Attempt++
	return j
}

// Exhausted reports whether no delivery attempts remain after this one.
func (j Job) Exhausted() bool {
	return j.Attempt >= j.Attempts
}

func (j Job) Validate() error {
	switch j.Kind {
	case KindCategorizeTransaction:
		if j.TransactionID == "" {
			return fmt.Errorf("%w: categorize job without transactionId", ErrMalformedJob)
		}
	case KindProcessFile:
		if j.FilePath == "" {
			return fmt.Errorf("%w: file job without filePath", ErrMalformedJob)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedJob, j.Kind)
	}
	return nil
}

func (j Job) ToJSON() ([]byte, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(jobWire{
		ID:            j.ID,
		Kind:          j.Kind,
		TransactionID: j.TransactionID,
		Description:   j.Description,
		FilePath:      j.FilePath,
		Attempts:      j.Attempts,
	})
}

// JobFromJSON decodes a body. Attempt is left at 1; the consumer overrides
// it from the delivery header.
func JobFromJSON(data []byte) (Job, error) {
	var w jobWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}

	kind := w.Kind
	if kind == "" {
		switch {
		case w.FilePath != "" && w.TransactionID == "":
			kind = KindProcessFile
		case w.TransactionID != "" && w.FilePath == "":
			kind = KindCategorizeTransaction
		default:
			return Job{}, fmt.Errorf("%w: cannot infer kind", ErrMalformedJob)
		}
	}

	job := Job{
		ID:            w.ID,
		Kind:          kind,
		TransactionID: w.TransactionID,
		Description:   w.Description,
		FilePath:      w.FilePath,
		Attempts:      normalizeAttempts(w.Attempts),
		Attempt:       1,
	}
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}
