package zktree

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy is a bounded exponential backoff applied to connection-class
// failures.
type RetryPolicy struct {
	BaseDelay  time.Duration
	MaxRetries int
	MaxDelay   time.Duration
	Jitter     float64 // fraction of the delay, 0-1
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:  time.Second,
		MaxRetries: 5,
		MaxDelay:   30 * time.Second,
		Jitter:     0.1,
	}
}

// Backoff returns the delay before retry number attempt (starting at 1).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	wait := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && wait > float64(p.MaxDelay) {
		wait = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		wait += wait * p.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(wait)
}

// do runs fn until it succeeds, fails with a non-retryable error, the retry
// budget is spent or ctx is done. onRetry is called before each sleep.
func (p RetryPolicy) do(ctx context.Context, fn func() error, onRetry func(attempt int, err error)) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			if onRetry != nil {
				onRetry(attempt, lastErr)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Backoff(attempt)):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}
