package resilience

import (
	"context"
	"time"
)

// RetryPolicy retries transient failures with a doubling backoff.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration
	// Retryable reports whether err is worth another attempt. Nil retries
	// every error.
	Retryable func(error) bool
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff, MaxBackoff: 8 * backoff}
}

// Do calls fn until it succeeds, the retries run out, or ctx ends. attempt
// starts at 1.
func (r RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	wait := r.Backoff
	var err error
	for attempt := 1; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err != nil {
				return err
			}
			return cerr
		}
		err = fn(attempt)
		if err == nil {
			return nil
		}
		if attempt > r.MaxRetries || (r.Retryable != nil && !r.Retryable(err)) {
			return err
		}
		if hint := RetryAfter(err); hint > wait {
			wait = hint
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
		wait *= 2
		if r.MaxBackoff > 0 && wait > r.MaxBackoff {
			wait = r.MaxBackoff
		}
	}
}
