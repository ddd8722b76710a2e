package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harunnryd/voxlink/pkg/errorsx"
)

type failingDevice struct{ err error }

func (f failingDevice) Play(Segment) error { return f.err }
func (failingDevice) Close() error         { return nil }

type drainCounter struct {
	MemoryDevice
	drains int
}

func (d *drainCounter) Drain() error {
	d.drains++
	return nil
}

func TestSinkPlaysInOrderAndDrains(t *testing.T) {
	dev := &MemoryDevice{Delay: 5 * time.Millisecond}
	sink := NewSink(dev, 0)
	defer sink.Close()

	for i := 0; i < 5; i++ {
		seg := newSegment([]int{i}, 8000, 1)
		seg.Seq = i
		if err := sink.Append(context.Background(), seg); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := sink.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	got := dev.Segments()
	if len(got) != 5 {
		t.Fatalf("expected 5 played, got %d", len(got))
	}
	for i, seg := range got {
		if seg.Seq != i {
			t.Fatalf("segment %d played at position %d", seg.Seq, i)
		}
	}
	if sink.Len() != 0 || sink.Played() != 5 {
		t.Fatalf("unexpected counters len=%d played=%d", sink.Len(), sink.Played())
	}
}

func TestSinkDrainEmpty(t *testing.T) {
	sink := NewSink(NewMemoryDevice(), 0)
	defer sink.Close()
	if err := sink.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

func TestSinkDrainCallsDeviceDrainer(t *testing.T) {
	dev := &drainCounter{}
	sink := NewSink(dev, 0)
	defer sink.Close()
	if err := sink.Append(context.Background(), newSegment([]int{1}, 8000, 1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := sink.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if dev.drains != 1 {
		t.Fatalf("expected device drain, got %d", dev.drains)
	}
}

func TestSinkBackpressure(t *testing.T) {
	dev := &MemoryDevice{Delay: 50 * time.Millisecond}
	sink := NewSink(dev, 1)
	defer sink.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := sink.Append(ctx, newSegment([]int{i}, 8000, 1)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	short, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	// one playing, one queued: the third must wait for room
	err := sink.Append(short, newSegment([]int{2}, 8000, 1))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected backpressure timeout, got %v", err)
	}
}

func TestSinkDeviceFailure(t *testing.T) {
	boom := errors.New("device unplugged")
	sink := NewSink(failingDevice{err: boom}, 0)
	defer sink.Close()

	if err := sink.Append(context.Background(), newSegment([]int{1}, 8000, 1)); err != nil {
		t.Fatalf("first append: %v", err)
	}
	err := sink.Drain(context.Background())
	var pe *errorsx.PlaybackError
	if !errors.As(err, &pe) || !errors.Is(err, boom) {
		t.Fatalf("expected PlaybackError wrapping device failure, got %v", err)
	}
	if err := sink.Append(context.Background(), newSegment([]int{2}, 8000, 1)); !errors.Is(err, boom) {
		t.Fatalf("expected append to report device failure, got %v", err)
	}
}

func TestSinkAppendAfterClose(t *testing.T) {
	sink := NewSink(NewMemoryDevice(), 0)
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := sink.Append(context.Background(), newSegment([]int{1}, 8000, 1)); !errors.Is(err, ErrSinkClosed) {
		t.Fatalf("expected ErrSinkClosed, got %v", err)
	}
}
