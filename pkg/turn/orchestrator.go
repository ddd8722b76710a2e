package turn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harunnryd/voxlink/pkg/chunker"
	"github.com/harunnryd/voxlink/pkg/errorsx"
	"github.com/harunnryd/voxlink/pkg/llm"
	"github.com/harunnryd/voxlink/pkg/logging"
	"github.com/harunnryd/voxlink/pkg/metrics"
	"github.com/harunnryd/voxlink/pkg/playback"
	"github.com/harunnryd/voxlink/pkg/redact"
	"github.com/harunnryd/voxlink/pkg/resilience"
	"github.com/harunnryd/voxlink/pkg/synth"
)

const DefaultTimeout = 2 * time.Minute

// Session is the duplex connection a turn runs over.
type Session interface {
	chunker.Sender
	playback.FrameSource
	Close() error
}

// Opener connects a new session. The default is synth.Open.
type Opener func(ctx context.Context, cfg synth.Config, log *slog.Logger) (Session, error)

// Generator yields the response deltas for one utterance. The channel
// closes once the response is complete; a broken response ends with an
// error Delta and fails the turn.
type Generator interface {
	Stream(ctx context.Context, utterance string) (<-chan llm.Delta, error)
}

// DeviceFactory returns the playback device for a new turn.
type DeviceFactory func() (playback.Device, error)

type Config struct {
	Synth   synth.Config
	Chunker chunker.Config
	// Decoder turns audio payloads into segments. Nil sniffs each payload.
	Decoder   playback.Decoder
	MaxQueued int
	// Timeout bounds a whole turn. Zero means DefaultTimeout.
	Timeout time.Duration
	// Breaker, when set, refuses to open sessions after repeated
	// rate-limited handshakes.
	Breaker *resilience.CircuitBreaker
}

// Result describes a finished turn, failed or not.
type Result struct {
	TurnID           string
	State            State
	Chunks           int
	SentBytes        int
	Segments         int
	AudioBytes       int
	Duration         time.Duration
	TimeToFirstAudio time.Duration
}

type Option func(*Orchestrator)

func WithOpener(open Opener) Option {
	return func(o *Orchestrator) { o.open = open }
}

func WithObserver(obs metrics.Observer) Option {
	return func(o *Orchestrator) { o.obs = obs }
}

func WithStateListener(l StateListener) Option {
	return func(o *Orchestrator) { o.listeners = append(o.listeners, l) }
}

// Orchestrator runs one turn at a time. Every turn gets its own session,
// chunker, sink and state machine.
type Orchestrator struct {
	cfg       Config
	gen       Generator
	newDevice DeviceFactory
	open      Opener
	obs       metrics.Observer
	listeners []StateListener
	base      *slog.Logger
	log       *slog.Logger
	mu        sync.Mutex
}

func NewOrchestrator(cfg Config, gen Generator, newDevice DeviceFactory, log *slog.Logger, opts ...Option) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Decoder == nil {
		cfg.Decoder, _ = playback.NewDecoder("auto")
	}
	if log == nil {
		log = slog.Default()
	}
	o := &Orchestrator{
		cfg:       cfg,
		gen:       gen,
		newDevice: newDevice,
		open:      openSynth,
		obs:       metrics.NoopObserver{},
		base:      log,
		log:       logging.NewComponentLogger(log, "turn"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if cfg.Breaker != nil {
		cfg.Breaker.OnStateChange(func(s resilience.BreakerState) {
			name := metrics.EventBreakerClose
			if s == resilience.BreakerOpen {
				name = metrics.EventBreakerOpen
			}
			o.log.Warn("synthesis circuit breaker changed", slog.String("state", s.String()))
			metrics.Record(o.obs, name, 1, map[string]string{"component": "synth"})
		})
	}
	return o
}

func openSynth(ctx context.Context, cfg synth.Config, log *slog.Logger) (Session, error) {
	s, err := synth.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// turnRun holds the per-turn state shared by the two workers.
type turnRun struct {
	id     string
	fsm    *stateMachine
	log    *slog.Logger
	cancel context.CancelFunc
	sess   Session

	once     sync.Once
	firstErr error
	failedIn State
}

// fail records the first failure, then tears the turn down so the other
// worker unblocks.
func (r *turnRun) fail(err error) {
	r.once.Do(func() {
		r.firstErr = err
		r.failedIn = r.fsm.State()
		r.cancel()
		if r.sess != nil {
			_ = r.sess.Close()
		}
	})
}

// RunTurn speaks the response to utterance and returns once playback has
// finished or the turn has failed. Failures are *errorsx.TurnError.
func (o *Orchestrator) RunTurn(ctx context.Context, utterance string) (Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := time.Now()
	id := uuid.NewString()
	log := o.log.With(slog.String("turn_id", id))
	// Workers tag their own component.
	workerLog := o.base.With(slog.String("turn_id", id))
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	run := &turnRun{
		id:     id,
		fsm:    newStateMachine(id, o.listeners),
		log:    log,
		cancel: cancel,
	}
	res := Result{TurnID: id, State: StateIdle}

	log.Info("turn started", slog.String("utterance", redact.Text(utterance)))

	dev, err := o.newDevice()
	if err != nil {
		run.fail(errorsx.Wrap(&errorsx.PlaybackError{Err: err}, errorsx.ReasonPlaybackDevice))
		return o.finish(run, res, start)
	}
	sink := playback.NewSink(dev, o.cfg.MaxQueued)
	defer sink.Close()

	if b := o.cfg.Breaker; b != nil && !b.Allow() {
		rl := resilience.RateLimitError{Provider: "elevenlabs", Message: "degraded"}
		run.fail(errorsx.Wrap(&errorsx.ConnectionError{Endpoint: o.cfg.Synth.BaseURL, Err: rl}, errorsx.ReasonSynthCircuitOpen))
		metrics.Record(o.obs, metrics.EventBreakerDenied, 1, map[string]string{"component": "synth"})
		return o.finish(run, res, start)
	}

	sess, err := o.open(ctx, o.cfg.Synth, workerLog)
	if o.cfg.Breaker != nil {
		if err != nil {
			o.cfg.Breaker.OnError(err)
		} else {
			o.cfg.Breaker.OnSuccess()
		}
	}
	if err != nil {
		if resilience.IsRateLimit(err) {
			metrics.Record(o.obs, metrics.EventRateLimit, 1, map[string]string{"component": "synth"})
		}
		run.fail(err)
		return o.finish(run, res, start)
	}
	run.sess = sess
	defer sess.Close()
	o.transition(run, StateSessionOpen, "session open")

	deltas, err := o.gen.Stream(ctx, utterance)
	if err != nil {
		run.fail(err)
		return o.finish(run, res, start)
	}

	turnCtx, cancelTurn := context.WithCancel(ctx)
	defer cancelTurn()
	run.cancel = cancelTurn

	chunks := chunker.New(o.cfg.Chunker, workerLog)
	consumer := playback.NewConsumer(o.cfg.Decoder, sink, workerLog)
	o.transition(run, StateStreaming, "streaming")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		err := chunks.Run(turnCtx, deltas, sess)
		switch {
		case err == nil:
			o.transition(run, StateDraining, "text complete")
		case errors.Is(err, synth.ErrStreamEnded):
			// The remote finished first; the consumer decides the outcome.
			log.Warn("synthesis stream ended before all text was sent")
			o.transition(run, StateDraining, "remote ended stream")
		default:
			run.fail(err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := consumer.Run(turnCtx, sess); err != nil {
			run.fail(err)
		}
	}()
	wg.Wait()

	cs := chunks.Stats()
	ps := consumer.Stats()
	res.Chunks = cs.Chunks
	res.SentBytes = cs.Bytes
	res.Segments = ps.Segments
	res.AudioBytes = ps.AudioBytes
	if !ps.FirstAudioAt.IsZero() {
		res.TimeToFirstAudio = ps.FirstAudioAt.Sub(start)
	}
	return o.finish(run, res, start)
}

func (o *Orchestrator) transition(run *turnRun, to State, reason string) {
	if err := run.fsm.Transition(to, reason); err != nil {
		run.log.Debug("state transition skipped",
			slog.String("to", to.String()),
			slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) finish(run *turnRun, res Result, start time.Time) (Result, error) {
	res.Duration = time.Since(start)
	tags := map[string]string{"voice_id": o.cfg.Synth.VoiceID}

	if run.firstErr == nil {
		o.transition(run, StateComplete, "playback finished")
		res.State = run.fsm.State()
		run.log.Info("turn complete",
			slog.Int("chunks", res.Chunks),
			slog.Int("segments", res.Segments),
			slog.Duration("duration", res.Duration),
			slog.Duration("time_to_first_audio", res.TimeToFirstAudio))
		metrics.Record(o.obs, metrics.EventTurnComplete, metrics.Millis(res.Duration), tags)
		metrics.Record(o.obs, metrics.EventChunksSent, float64(res.Chunks), tags)
		metrics.Record(o.obs, metrics.EventAudioSegments, float64(res.Segments), tags)
		if res.TimeToFirstAudio > 0 {
			metrics.Record(o.obs, metrics.EventTimeToFirstAudio, metrics.Millis(res.TimeToFirstAudio), tags)
		}
		return res, nil
	}

	cause := run.firstErr
	if errors.Is(cause, context.DeadlineExceeded) {
		cause = errorsx.Wrap(cause, errorsx.ReasonTurnTimeout)
	}
	o.transition(run, StateFailed, string(errorsx.Reason(cause)))
	res.State = run.fsm.State()

	attrs := []any{
		slog.String("state", run.failedIn.String()),
		slog.String("reason", string(errorsx.Reason(cause))),
		slog.String("error", cause.Error()),
	}
	var pe *errorsx.PlaybackError
	if errors.As(cause, &pe) && pe.ServiceMessage != "" {
		attrs = append(attrs, slog.String("service_message", pe.ServiceMessage))
	}
	run.log.Error("turn failed", attrs...)

	tags["reason"] = string(errorsx.Reason(cause))
	metrics.Record(o.obs, metrics.EventTurnFailed, 1, tags)

	return res, &errorsx.TurnError{TurnID: run.id, State: run.failedIn.String(), Err: cause}
}
