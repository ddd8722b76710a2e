package runner

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var ErrInvalidState = errors.New("invalid state transition")

// LifecycleRunner drives one Work function. Cancelling the context passed
// to Run (or calling Stop) cancels the work, waits up to the timeout for it
// to return, then drains and runs OnStop.
type LifecycleRunner struct {
	state    int32
	work     Work
	cancel   context.CancelFunc
	mu       sync.Mutex
	onceStop sync.Once
	hooks    Hooks
	drainer  Drainer
	stopErr  error
	timeout  time.Duration
	banner   io.Writer
}

func NewLifecycleRunner(work Work, drainer Drainer, hooks Hooks, timeout time.Duration) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LifecycleRunner{
		state:   int32(StateNew),
		work:    work,
		hooks:   hooks,
		drainer: drainer,
		timeout: timeout,
	}
}

// SetBannerOutput enables the startup banner on w.
func (r *LifecycleRunner) SetBannerOutput(w io.Writer) { r.banner = w }

// Run blocks until the work returns or is stopped. Cancellation is not
// reported as an error.
func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.casState(StateNew, StateStarting) {
		return ErrInvalidState
	}
	if ctx == nil {
		ctx = context.Background()
	}
	PrintBanner(r.banner)

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer cancel()

	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.setState(StateRunning)

	done := make(chan error, 1)
	go func() { done <- r.work(ctx) }()

	var workErr error
	select {
	case workErr = <-done:
	case <-ctx.Done():
		select {
		case workErr = <-done:
		case <-time.After(r.timeout):
			workErr = errors.New("work did not stop before timeout")
		}
	}
	if errors.Is(workErr, context.Canceled) {
		workErr = nil
	}
	return errors.Join(workErr, r.stop())
}

// Stop cancels a running work function.
func (r *LifecycleRunner) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
		return nil
	}
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(atomic.LoadInt32(&r.state))
}

func (r *LifecycleRunner) stop() error {
	r.onceStop.Do(func() {
		r.setState(StateDraining)
		if r.drainer != nil {
			done := make(chan error, 1)
			go func() { done <- r.drainer.Drain() }()
			select {
			case err := <-done:
				r.stopErr = err
			case <-time.After(r.timeout):
				r.stopErr = errors.New("drain timeout")
			}
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.setState(StateStopped)
	})
	return r.stopErr
}

func (r *LifecycleRunner) casState(from, to State) bool {
	return atomic.CompareAndSwapInt32(&r.state, int32(from), int32(to))
}

func (r *LifecycleRunner) setState(s State) {
	atomic.StoreInt32(&r.state, int32(s))
}

var _ Runner = (*LifecycleRunner)(nil)
