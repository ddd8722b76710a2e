package assistant

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/harunnryd/voxlink/pkg/capture"
	"github.com/harunnryd/voxlink/pkg/errorsx"
	"github.com/harunnryd/voxlink/pkg/providers/mock"
	"github.com/harunnryd/voxlink/pkg/stt"
	"github.com/harunnryd/voxlink/pkg/turn"
)

type listSource struct {
	bufs []capture.Buffer
	err  error
}

func (s *listSource) Capture(ctx context.Context) (capture.Buffer, error) {
	if len(s.bufs) == 0 {
		if s.err != nil {
			return capture.Buffer{}, s.err
		}
		return capture.Buffer{}, io.EOF
	}
	b := s.bufs[0]
	s.bufs = s.bufs[1:]
	return b, nil
}

type fakeTurns struct {
	mu         sync.Mutex
	utterances []string
	fail       map[string]error
}

func (f *fakeTurns) RunTurn(ctx context.Context, utterance string) (turn.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utterances = append(f.utterances, utterance)
	if err := f.fail[utterance]; err != nil {
		return turn.Result{TurnID: "t", State: turn.StateFailed}, err
	}
	return turn.Result{TurnID: "t", State: turn.StateComplete}, nil
}

func stereo48k() capture.Buffer {
	return capture.Buffer{Samples: make([]float32, 2*4800), SampleRate: 48000, Channels: 2}
}

func TestLoopContinuesAfterFailedTurn(t *testing.T) {
	src := &listSource{bufs: []capture.Buffer{stereo48k(), stereo48k(), stereo48k()}}
	tr := mock.NewSTT(mock.STTConfig{Transcripts: []string{"first", "second", "third"}})
	turns := &fakeTurns{fail: map[string]error{
		"second": &errorsx.TurnError{TurnID: "t", State: "STREAMING", Err: errors.New("boom")},
	}}
	var reported []error
	l := NewLoop(src, tr, turns, nil)
	l.SetReporter(ReporterFunc(func(err error) { reported = append(reported, err) }))

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(turns.utterances) != 3 {
		t.Fatalf("expected 3 turns, got %v", turns.utterances)
	}
	if len(reported) != 1 {
		t.Fatalf("expected one reported failure, got %d", len(reported))
	}
	st := l.Stats()
	if st.Completed != 2 || st.Failed != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestLoopPreparesAudioForTranscriber(t *testing.T) {
	src := &listSource{bufs: []capture.Buffer{stereo48k()}}
	tr := mock.NewSTT(mock.STTConfig{Transcripts: []string{"hello"}})
	l := NewLoop(src, tr, &fakeTurns{}, nil)
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	bufs := tr.Buffers()
	if len(bufs) != 1 {
		t.Fatalf("expected one transcription, got %d", len(bufs))
	}
	if bufs[0].SampleRate != stt.SampleRate || bufs[0].Channels != 1 || len(bufs[0].Samples) != 1600 {
		t.Fatalf("unexpected prepared buffer rate=%d ch=%d len=%d", bufs[0].SampleRate, bufs[0].Channels, len(bufs[0].Samples))
	}
}

func TestLoopSkipsEmptyTranscripts(t *testing.T) {
	src := &listSource{bufs: []capture.Buffer{stereo48k()}}
	tr := mock.NewSTT(mock.STTConfig{Transcripts: []string{"   "}})
	turns := &fakeTurns{}
	l := NewLoop(src, tr, turns, nil)
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(turns.utterances) != 0 || l.Stats().Skipped != 1 {
		t.Fatalf("expected the empty transcript to be skipped, stats %+v", l.Stats())
	}
}

func TestLoopStopsOnTranscriptionError(t *testing.T) {
	src := &listSource{bufs: []capture.Buffer{stereo48k()}}
	tr := mock.NewSTT(mock.STTConfig{Err: errors.New("stt down")})
	err := NewLoop(src, tr, &fakeTurns{}, nil).Run(context.Background())
	if !errorsx.HasReason(err, errorsx.ReasonSTTTranscript) {
		t.Fatalf("expected transcript reason, got %v", err)
	}
}

func TestLoopHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewLoop(&listSource{}, mock.NewSTT(mock.STTConfig{}), &fakeTurns{}, nil).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type gatedTurns struct {
	release chan struct{}
}

func (g *gatedTurns) RunTurn(ctx context.Context, utterance string) (turn.Result, error) {
	<-g.release
	return turn.Result{TurnID: utterance, State: turn.StateComplete}, nil
}

func TestStatsReadableWhileRunning(t *testing.T) {
	src := &listSource{bufs: []capture.Buffer{stereo48k(), stereo48k()}}
	tr := mock.NewSTT(mock.STTConfig{Transcripts: []string{"one", "two"}})
	gate := &gatedTurns{release: make(chan struct{})}
	l := NewLoop(src, tr, gate, nil)

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	for i := 0; i < 2; i++ {
		_ = l.Stats()
		gate.release <- struct{}{}
	}
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if st := l.Stats(); st.Completed != 2 || st.Utterances != 2 {
		t.Fatalf("unexpected stats %+v", st)
	}
}
