package classifier

import (
	"context"
	"errors"
	"fmt"

	"txcat/internal/core"
)

// Classifier maps a transaction description to one label of core.Vocabulary.
type Classifier interface {
	Classify(ctx context.Context, description string) (string, error)
}

// ClassifierFunc adapts a plain function to Classifier.
type ClassifierFunc func(ctx context.Context, description string) (string, error)

func (f ClassifierFunc) Classify(ctx context.Context, description string) (string, error) {
	return f(ctx, description)
}

// ErrUnknownLabel is returned when the model answers outside the vocabulary.
var ErrUnknownLabel = errors.New("label not in vocabulary")

// FailureError is returned once every attempt for a description has failed.
type FailureError struct {
	Description string
	Attempts    int
	Err         error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("classify %q: failed after %d attempts: %v", e.Description, e.Attempts, e.Err)
}

func (e *FailureError) Unwrap() error {
	return e.Err
}

func (e *FailureError) Is(target error) bool {
	return target == core.ErrClassificationFailure
}
