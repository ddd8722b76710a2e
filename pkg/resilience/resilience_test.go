package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicyStopsOnSuccess(t *testing.T) {
	calls := 0
	err := NewRetryPolicy(3, time.Millisecond).Do(context.Background(), func(attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("expected success on second call, got err=%v calls=%d", err, calls)
	}
}

func TestRetryPolicyReturnsLastError(t *testing.T) {
	calls := 0
	err := NewRetryPolicy(2, time.Millisecond).Do(context.Background(), func(int) error {
		calls++
		return errors.New("always")
	})
	if err == nil || calls != 3 {
		t.Fatalf("expected 3 attempts and an error, got err=%v calls=%d", err, calls)
	}
}

func TestRetryPolicySkipsPermanentErrors(t *testing.T) {
	permanent := errors.New("bad key")
	p := NewRetryPolicy(5, time.Millisecond)
	p.Retryable = func(err error) bool { return !errors.Is(err, permanent) }
	calls := 0
	err := p.Do(context.Background(), func(int) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("expected one attempt, got err=%v calls=%d", err, calls)
	}
}

func TestRetryPolicyHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := NewRetryPolicy(5, time.Hour).Do(ctx, func(int) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected to stop after cancel, got err=%v calls=%d", err, calls)
	}
}

func TestCircuitBreakerIgnoresOtherErrors(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute)
	cb.OnError(errors.New("boom"))
	if !cb.Allow() {
		t.Fatal("non rate limit errors should not open the breaker")
	}
	cb.OnError(RateLimitError{Provider: "elevenlabs"})
	if cb.Allow() {
		t.Fatal("expected breaker to open")
	}
	cb.OnSuccess()
	if !cb.Allow() {
		t.Fatal("expected breaker to close after success")
	}
}

func TestCircuitBreakerHalfOpenTrial(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	var states []BreakerState
	cb.OnStateChange(func(s BreakerState) { states = append(states, s) })

	cb.OnError(RateLimitError{})
	if cb.State() != BreakerOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}
	time.Sleep(20 * time.Millisecond)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("expected half open, got %s", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("expected a trial call to be allowed")
	}
	if cb.Allow() {
		t.Fatal("only one trial call may run at a time")
	}
	cb.OnError(RateLimitError{})
	if cb.State() != BreakerOpen {
		t.Fatalf("failed trial call should reopen, got %s", cb.State())
	}
	if len(states) != 2 || states[0] != BreakerOpen || states[1] != BreakerOpen {
		t.Fatalf("unexpected state changes %v", states)
	}
}

func TestCircuitBreakerUsesRetryAfter(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Millisecond)
	cb.OnError(RateLimitError{RetryAfter: time.Minute})
	time.Sleep(5 * time.Millisecond)
	if cb.Allow() {
		t.Fatal("expected the vendor hint to extend the cooldown")
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := ParseRetryAfter("3"); got != 3*time.Second {
		t.Fatalf("got %v", got)
	}
	if got := ParseRetryAfter("soon"); got != 0 {
		t.Fatalf("got %v", got)
	}
	if got := ParseRetryAfter(""); got != 0 {
		t.Fatalf("got %v", got)
	}
}
