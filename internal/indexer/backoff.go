package indexer

import (
	"context"
	"time"
)

// RetryPolicy bounds retries around a single call: up to MaxAttempts tries
// with exponential waits clamped to [MinWait, MaxWait].
type RetryPolicy struct {
	MaxAttempts int
	MinWait     time.Duration
	MaxWait     time.Duration
}

// Wait returns the pause before the given retry. attempt is 1-based: Wait(1)
// is the pause after the first failure.
func (p RetryPolicy) Wait(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := p.MinWait
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= p.MaxWait {
			return p.MaxWait
		}
	}
	if wait > p.MaxWait {
		return p.MaxWait
	}
	return wait
}

// Do runs fn until it succeeds or MaxAttempts is exhausted, sleeping
// Wait(attempt) between tries. onRetry, if set, is called before each sleep
// with the 1-based attempt that just failed. Context cancellation cuts the
// sleep short and returns ctx.Err().
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error, onRetry func(attempt int, err error)) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		timer := time.NewTimer(p.Wait(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
