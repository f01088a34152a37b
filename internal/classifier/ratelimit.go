package classifier

import "context"

// Waiter blocks until the next external call is allowed.
type Waiter interface {
	Wait(ctx context.Context) error
}

// RateLimited paces calls to next. Wrap it inside WithRetry so every
// attempt is paced, not just the first.
type RateLimited struct {
	next   Classifier
	waiter Waiter
}

func WithRateLimit(next Classifier, waiter Waiter) *RateLimited {
	return &RateLimited{next: next, waiter: waiter}
}

func (r *RateLimited) Classify(ctx context.Context, description string) (string, error) {
	if err := r.waiter.Wait(ctx); err != nil {
		return "", err
	}
	return r.next.Classify(ctx, description)
}
