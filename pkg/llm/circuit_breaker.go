package llm

import (
	"context"
	"time"

	"github.com/harunnryd/voxlink/pkg/metrics"
	"github.com/harunnryd/voxlink/pkg/resilience"
)

// CircuitBreakerAdapter stops calling the provider while it keeps answering
// with rate limits.
type CircuitBreakerAdapter struct {
	inner   Adapter
	breaker *resilience.CircuitBreaker
	obs     metrics.Observer
}

func NewCircuitBreakerAdapter(inner Adapter, breaker *resilience.CircuitBreaker) *CircuitBreakerAdapter {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	a := &CircuitBreakerAdapter{inner: inner, breaker: breaker}
	breaker.OnStateChange(func(s resilience.BreakerState) {
		if s == resilience.BreakerOpen {
			a.record(metrics.EventBreakerOpen)
			return
		}
		a.record(metrics.EventBreakerClose)
	})
	return a
}

func (a *CircuitBreakerAdapter) Name() string { return a.inner.Name() }

func (a *CircuitBreakerAdapter) SetObserver(obs metrics.Observer) { a.obs = obs }

func (a *CircuitBreakerAdapter) Generate(ctx context.Context, input Context) (Response, error) {
	if err := a.admit(); err != nil {
		return Response{}, err
	}
	resp, err := a.inner.Generate(ctx, input)
	a.settle(err)
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}

func (a *CircuitBreakerAdapter) Stream(ctx context.Context, input Context) (<-chan Delta, error) {
	if err := a.admit(); err != nil {
		return nil, err
	}
	ch, err := a.inner.Stream(ctx, input)
	a.settle(err)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (a *CircuitBreakerAdapter) admit() error {
	if a.breaker.Allow() {
		return nil
	}
	a.record(metrics.EventBreakerDenied)
	return resilience.RateLimitError{Provider: a.Name(), Message: a.Name() + " degraded, circuit open"}
}

func (a *CircuitBreakerAdapter) settle(err error) {
	if err == nil {
		a.breaker.OnSuccess()
		return
	}
	if resilience.IsRateLimit(err) {
		a.record(metrics.EventRateLimit)
	}
	a.breaker.OnError(err)
}

func (a *CircuitBreakerAdapter) record(name string) {
	metrics.Record(a.obs, name, 1, map[string]string{
		"provider":  a.inner.Name(),
		"component": "llm",
	})
}

var _ Adapter = (*CircuitBreakerAdapter)(nil)
