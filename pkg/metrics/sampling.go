package metrics

import (
	"math"
	"sync/atomic"
)

// SamplingObserver forwards roughly rate of the events it sees, counted per
// event name so a chatty event cannot starve a quiet one. Names passed as
// always are forwarded unsampled.
type SamplingObserver struct {
	inner  Observer
	every  uint64
	always map[string]struct{}
	seen   map[string]*atomic.Uint64
}

func NewSamplingObserver(inner Observer, rate float64, always ...string) *SamplingObserver {
	rate = math.Max(0, math.Min(1, rate))
	var every uint64
	if rate > 0 {
		every = uint64(math.Max(1, math.Round(1/rate)))
	}
	s := &SamplingObserver{
		inner:  inner,
		every:  every,
		always: make(map[string]struct{}, len(always)),
		seen:   make(map[string]*atomic.Uint64),
	}
	for _, name := range always {
		s.always[name] = struct{}{}
	}
	for _, name := range knownEvents {
		s.seen[name] = new(atomic.Uint64)
	}
	return s
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	if _, ok := s.always[ev.Name]; ok {
		s.inner.RecordEvent(ev)
		return
	}
	switch s.every {
	case 0:
		return
	case 1:
		s.inner.RecordEvent(ev)
		return
	}
	counter, ok := s.seen[ev.Name]
	if !ok {
		counter = s.seen[""]
	}
	if counter.Add(1)%s.every == 0 {
		s.inner.RecordEvent(ev)
	}
}
