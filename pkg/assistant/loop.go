package assistant

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/voxlink/pkg/capture"
	"github.com/harunnryd/voxlink/pkg/errorsx"
	"github.com/harunnryd/voxlink/pkg/logging"
	"github.com/harunnryd/voxlink/pkg/metrics"
	"github.com/harunnryd/voxlink/pkg/redact"
	"github.com/harunnryd/voxlink/pkg/stt"
	"github.com/harunnryd/voxlink/pkg/turn"
)

// TurnRunner speaks one response.
type TurnRunner interface {
	RunTurn(ctx context.Context, utterance string) (turn.Result, error)
}

// FailureReporter is told about every failed turn.
type FailureReporter interface {
	ReportTurnFailure(err error)
}

// ReporterFunc adapts a function to FailureReporter.
type ReporterFunc func(err error)

func (f ReporterFunc) ReportTurnFailure(err error) { f(err) }

// Stats counts what a loop has done so far.
type Stats struct {
	Utterances int
	Skipped    int
	Completed  int
	Failed     int
}

// Loop listens, transcribes and answers until its source runs dry or the
// context is cancelled.
type Loop struct {
	source      capture.Source
	transcriber stt.Transcriber
	turns       TurnRunner
	reporter    FailureReporter
	obs         metrics.Observer
	log         *slog.Logger

	mu    sync.Mutex
	stats Stats
}

func NewLoop(source capture.Source, transcriber stt.Transcriber, turns TurnRunner, log *slog.Logger) *Loop {
	return &Loop{
		source:      source,
		transcriber: transcriber,
		turns:       turns,
		obs:         metrics.NoopObserver{},
		log:         logging.NewComponentLogger(log, "assistant"),
	}
}

func (l *Loop) SetReporter(r FailureReporter)    { l.reporter = r }
func (l *Loop) SetObserver(obs metrics.Observer) { l.obs = obs }

// Stats is safe to call while Run is in progress.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Loop) count(fn func(*Stats)) {
	l.mu.Lock()
	fn(&l.stats)
	l.mu.Unlock()
}

// Run returns nil when the source is exhausted. A failed turn is reported
// and the loop moves on; capture and transcription failures end the loop.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.step(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				st := l.Stats()
				l.log.Info("capture source exhausted",
					slog.Int("completed", st.Completed),
					slog.Int("failed", st.Failed))
				return nil
			}
			return err
		}
	}
}

func (l *Loop) step(ctx context.Context) error {
	buf, err := l.source.Capture(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return err
		}
		return errorsx.Wrap(err, errorsx.ReasonCaptureRead)
	}
	l.log.Debug("audio captured",
		slog.Int("sample_rate", buf.SampleRate),
		slog.Int("channels", buf.Channels),
		slog.Duration("duration", buf.Duration()))

	started := time.Now()
	text, err := l.transcriber.Transcribe(ctx, stt.Prepare(buf))
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSTTTranscript)
	}
	metrics.Record(l.obs, metrics.EventTranscribe, metrics.Millis(time.Since(started)),
		map[string]string{"provider": l.transcriber.Name()})

	text = strings.TrimSpace(text)
	if text == "" {
		l.count(func(st *Stats) { st.Skipped++ })
		l.log.Info("nothing transcribed, waiting for the next utterance")
		return nil
	}
	l.count(func(st *Stats) { st.Utterances++ })
	l.log.Info("utterance transcribed", slog.String("text", redact.Text(text)))

	res, err := l.turns.RunTurn(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.count(func(st *Stats) { st.Failed++ })
		l.log.Error("turn failed, continuing",
			slog.String("turn_id", res.TurnID),
			slog.String("error", err.Error()))
		if l.reporter != nil {
			l.reporter.ReportTurnFailure(err)
		}
		return nil
	}
	l.count(func(st *Stats) { st.Completed++ })
	return nil
}
