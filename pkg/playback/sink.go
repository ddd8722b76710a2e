package playback

import (
	"context"
	"errors"
	"sync"

	"github.com/harunnryd/voxlink/pkg/errorsx"
)

var ErrSinkClosed = errors.New("sink closed")

// Sink is the playback queue. One producer appends segments in order; a
// background goroutine hands them to the device at the device's pace.
type Sink struct {
	dev       Device
	maxQueued int

	mu      sync.Mutex
	queue   []Segment
	playing bool
	played  int
	err     error
	closed  bool
	changed chan struct{}

	done chan struct{}
}

// NewSink starts a sink over dev. maxQueued > 0 makes Append block while
// that many segments are waiting; zero leaves the queue unbounded.
func NewSink(dev Device, maxQueued int) *Sink {
	s := &Sink{
		dev:       dev,
		maxQueued: maxQueued,
		changed:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

// Append queues seg behind everything appended before it.
func (s *Sink) Append(ctx context.Context, seg Segment) error {
	s.mu.Lock()
	for {
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return deviceError(err)
		}
		if s.closed {
			s.mu.Unlock()
			return deviceError(ErrSinkClosed)
		}
		if s.maxQueued <= 0 || len(s.queue) < s.maxQueued {
			break
		}
		ch := s.changed
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
	s.queue = append(s.queue, seg)
	s.broadcastLocked()
	s.mu.Unlock()
	return nil
}

// Drain blocks until every queued segment has been played, including audio
// the device still buffers.
func (s *Sink) Drain(ctx context.Context) error {
	s.mu.Lock()
	for {
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return deviceError(err)
		}
		if len(s.queue) == 0 && !s.playing {
			break
		}
		if s.closed {
			s.mu.Unlock()
			return deviceError(ErrSinkClosed)
		}
		ch := s.changed
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
	s.mu.Unlock()

	if d, ok := s.dev.(Drainer); ok {
		if err := d.Drain(); err != nil {
			return deviceError(err)
		}
	}
	return nil
}

// Len returns the number of segments waiting to be played.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Played returns the number of segments the device has accepted.
func (s *Sink) Played() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.played
}

// Close drops anything still queued, stops the playback goroutine and
// closes the device.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	s.queue = nil
	s.broadcastLocked()
	s.mu.Unlock()
	<-s.done
	return s.dev.Close()
}

func (s *Sink) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			ch := s.changed
			s.mu.Unlock()
			<-ch
			s.mu.Lock()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		seg := s.queue[0]
		s.queue = s.queue[1:]
		s.playing = true
		s.broadcastLocked()
		s.mu.Unlock()

		err := s.dev.Play(seg)

		s.mu.Lock()
		s.playing = false
		if err != nil {
			s.err = err
			s.queue = nil
		} else {
			s.played++
		}
		s.broadcastLocked()
		s.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (s *Sink) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func deviceError(err error) error {
	return errorsx.Wrap(&errorsx.PlaybackError{Err: err}, errorsx.ReasonPlaybackDevice)
}
