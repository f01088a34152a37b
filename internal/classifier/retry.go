package classifier

import (
	"context"
	"time"

	"txcat/internal/log"
)

// RetryPolicy bounds the attempts made for one description. The wait
// before attempt n+1 is n*BaseDelay.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	AttemptTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

type Retrying struct {
	next   Classifier
	policy RetryPolicy
	logger *log.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func WithRetry(next Classifier, policy RetryPolicy, logger *log.Logger) *Retrying {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Retrying{
		next:   next,
		policy: policy,
		logger: logger.WithComponent(log.ComponentClassifier),
		sleep:  sleepContext,
	}
}

func (r *Retrying) Classify(ctx context.Context, description string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		label, err := r.attempt(ctx, description)
		if err == nil {
			return label, nil
		}
		lastErr = err

		r.logger.WarnContext(ctx, "Classification attempt failed",
			log.FieldDescription, description,
			log.FieldAttempt, attempt,
			log.FieldMaxAttempts, r.policy.MaxAttempts,
			log.FieldError, err)

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt == r.policy.MaxAttempts {
			break
		}
		if err := r.sleep(ctx, time.Duration(attempt)*r.policy.BaseDelay); err != nil {
			return "", err
		}
	}

	return "", &FailureError{
		Description: description,
		Attempts:    r.policy.MaxAttempts,
		Err:         lastErr,
	}
}

func (r *Retrying) attempt(ctx context.Context, description string) (string, error) {
	if r.policy.AttemptTimeout <= 0 {
		return r.next.Classify(ctx, description)
	}
	ctx, cancel := context.WithTimeout(ctx, r.policy.AttemptTimeout)
	defer cancel()
	return r.next.Classify(ctx, description)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
