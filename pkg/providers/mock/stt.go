package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/voxlink/pkg/capture"
	"github.com/harunnryd/voxlink/pkg/stt"
)

type STTConfig struct {
	// Transcripts are returned in order; the last one repeats.
	Transcripts []string
	Err         error
}

type Transcriber struct {
	cfg STTConfig

	mu      sync.Mutex
	calls   int
	buffers []capture.Buffer
}

func NewSTT(cfg STTConfig) *Transcriber {
	if len(cfg.Transcripts) == 0 {
		cfg.Transcripts = []string{"mock transcript"}
	}
	return &Transcriber{cfg: cfg}
}

func (s *Transcriber) Name() string { return "mock_stt" }

func (s *Transcriber) Transcribe(ctx context.Context, buf capture.Buffer) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers = append(s.buffers, buf)
	idx := s.calls
	s.calls++
	if s.cfg.Err != nil {
		return "", s.cfg.Err
	}
	if idx >= len(s.cfg.Transcripts) {
		idx = len(s.cfg.Transcripts) - 1
	}
	return s.cfg.Transcripts[idx], nil
}

// Buffers returns the audio handed to Transcribe so far.
func (s *Transcriber) Buffers() []capture.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capture.Buffer(nil), s.buffers...)
}

var _ stt.Transcriber = (*Transcriber)(nil)
