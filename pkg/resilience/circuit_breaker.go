package resilience

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitError is returned when a vendor answers with HTTP 429 or when an
// open breaker refuses a call on its behalf.
type RateLimitError struct {
	Provider string
	Message  string
	// RetryAfter is the vendor's back-off hint, zero when none was given.
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Provider != "" {
		return e.Provider + " rate limited"
	}
	return "rate limit"
}

func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

// RetryAfter returns the back-off hint carried by a rate limit error.
func RetryAfter(err error) time.Duration {
	var rl RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

// ParseRetryAfter reads a Retry-After header, either delay-seconds or an
// HTTP date.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker refuses calls for a cooldown after repeated rate limit
// failures. Once the cooldown passes a single trial call is let through; its
// outcome closes the breaker or opens it again.
type CircuitBreaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	cooldown  time.Duration
	openUntil time.Time
	trialing  bool
	onChange  func(BreakerState)
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown}
}

// OnStateChange registers fn to be called when the breaker opens or closes.
// fn runs outside the breaker lock.
func (c *CircuitBreaker) OnStateChange(fn func(BreakerState)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *CircuitBreaker) State() BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(time.Now())
}

func (c *CircuitBreaker) stateLocked(now time.Time) BreakerState {
	switch {
	case c.openUntil.IsZero():
		return BreakerClosed
	case now.Before(c.openUntil):
		return BreakerOpen
	default:
		return BreakerHalfOpen
	}
}

func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.stateLocked(time.Now()) {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if c.trialing {
			return false
		}
		c.trialing = true
		return true
	default:
		return false
	}
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	wasClosed := c.openUntil.IsZero()
	c.failures = 0
	c.openUntil = time.Time{}
	c.trialing = false
	fn := c.onChange
	c.mu.Unlock()
	if !wasClosed && fn != nil {
		fn(BreakerClosed)
	}
}

// OnError counts rate limit failures. Other errors only release a pending
// trial call.
func (c *CircuitBreaker) OnError(err error) {
	c.mu.Lock()
	trial := c.trialing
	c.trialing = false
	if !IsRateLimit(err) {
		c.mu.Unlock()
		return
	}
	c.failures++
	if c.failures < c.threshold && !trial {
		c.mu.Unlock()
		return
	}
	wait := c.cooldown
	if hint := RetryAfter(err); hint > wait {
		wait = hint
	}
	c.openUntil = time.Now().Add(wait)
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(BreakerOpen)
	}
}
