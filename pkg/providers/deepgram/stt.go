package deepgram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/voxlink/pkg/capture"
	"github.com/harunnryd/voxlink/pkg/errorsx"
	"github.com/harunnryd/voxlink/pkg/logging"
	"github.com/harunnryd/voxlink/pkg/redact"
	"github.com/harunnryd/voxlink/pkg/resilience"
	"github.com/harunnryd/voxlink/pkg/stt"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

const (
	defaultModel          = "nova-2"
	defaultUtteranceEndMS = 1000
	defaultSettle         = 1500 * time.Millisecond
)

// Config is decoded from vendors.stt.settings.
type Config struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Language       string `mapstructure:"language"`
	UtteranceEndMS int    `mapstructure:"utterance_end_ms"`
	SettleMS       int    `mapstructure:"settle_ms"`
	ConnectRetries int    `mapstructure:"connect_retries"`
}

// Transcriber runs one live session per utterance. Audio is pushed as
// 16 kHz mono linear16 and the final transcripts are joined.
type Transcriber struct {
	cfg    Config
	retry  resilience.RetryPolicy
	settle time.Duration
	logger *slog.Logger
}

func New(cfg Config, log *slog.Logger) (*Transcriber, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("deepgram: api_key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.UtteranceEndMS <= 0 {
		cfg.UtteranceEndMS = defaultUtteranceEndMS
	}
	settle := defaultSettle
	if cfg.SettleMS > 0 {
		settle = time.Duration(cfg.SettleMS) * time.Millisecond
	}
	return &Transcriber{
		cfg:    cfg,
		retry:  resilience.NewRetryPolicy(cfg.ConnectRetries, 200*time.Millisecond),
		settle: settle,
		logger: logging.NewComponentLogger(log, "deepgram_stt"),
	}, nil
}

func (t *Transcriber) Name() string { return "deepgram" }

// language maps "auto" to multilingual detection.
func (t *Transcriber) language() string {
	switch strings.ToLower(strings.TrimSpace(t.cfg.Language)) {
	case "", "auto":
		return "multi"
	default:
		return t.cfg.Language
	}
}

func (t *Transcriber) Transcribe(ctx context.Context, buf capture.Buffer) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	buf = stt.Prepare(buf)
	if buf.Empty() {
		return "", nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	clientOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	transcriptOptions := &interfaces.LiveTranscriptionOptions{
		Model:          t.cfg.Model,
		Language:       t.language(),
		Encoding:       "linear16",
		SampleRate:     stt.SampleRate,
		InterimResults: true,
		VadEvents:      true,
		SmartFormat:    true,
		UtteranceEndMs: fmt.Sprintf("%d", t.cfg.UtteranceEndMS),
	}

	cb := newCollector(t.logger)
	dgClient, err := client.NewWSUsingCallback(ctx, t.cfg.APIKey, clientOptions, transcriptOptions, cb)
	if err != nil {
		t.logger.Error("deepgram_client_create_error", slog.String("error", err.Error()))
		return "", errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}
	defer dgClient.Stop()

	err = t.retry.Do(ctx, func(attempt int) error {
		if !dgClient.Connect() {
			t.logger.Warn("deepgram_connect_failed", slog.Int("attempt", attempt))
			return errors.New("deepgram connection failed")
		}
		return nil
	})
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}

	t.logger.Info("deepgram_connected",
		slog.String("model", t.cfg.Model),
		slog.String("language", transcriptOptions.Language),
		slog.Duration("audio", buf.Duration()))

	pcm := capture.PCM16(buf)
	if err := dgClient.Stream(bytes.NewReader(pcm)); err != nil && ctx.Err() == nil {
		t.logger.Error("deepgram_stream_error", slog.String("error", err.Error()))
		return "", errorsx.Wrap(err, errorsx.ReasonSTTSend)
	}

	text, err := cb.wait(ctx, t.settle)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonSTTTranscript)
	}
	t.logger.Info("transcript_received", slog.String("transcript", redact.Text(text)))
	return text, nil
}

// collector gathers final transcripts from the callback goroutine.
type collector struct {
	logger *slog.Logger

	mu      sync.Mutex
	finals  []string
	done    bool
	err     error
	updates chan struct{}
}

func newCollector(logger *slog.Logger) *collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &collector{logger: logger, updates: make(chan struct{}, 1)}
}

func (c *collector) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// wait returns once the utterance is finished or no update arrived within
// settle.
func (c *collector) wait(ctx context.Context, settle time.Duration) (string, error) {
	timer := time.NewTimer(settle)
	defer timer.Stop()
	for {
		c.mu.Lock()
		done, err := c.done, c.err
		c.mu.Unlock()
		if err != nil {
			return "", err
		}
		if done {
			return c.text(), nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			return c.text(), nil
		case <-c.updates:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(settle)
		}
	}
}

func (c *collector) text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.TrimSpace(strings.Join(c.finals, " "))
}

func (c *collector) Open(or *msginterfaces.OpenResponse) error {
	c.logger.Debug("deepgram_connection_opened")
	return nil
}

func (c *collector) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	c.add(mr.Channel.Alternatives[0].Transcript, mr.IsFinal, mr.SpeechFinal)
	return nil
}

func (c *collector) add(transcript string, isFinal, speechFinal bool) {
	transcript = strings.TrimSpace(transcript)
	c.mu.Lock()
	if isFinal && transcript != "" {
		c.finals = append(c.finals, transcript)
	}
	if speechFinal && len(c.finals) > 0 {
		c.done = true
	}
	c.mu.Unlock()
	c.logger.Debug("transcript_part",
		slog.Bool("is_final", isFinal),
		slog.Bool("speech_final", speechFinal))
	c.notify()
}

func (c *collector) Metadata(md *msginterfaces.MetadataResponse) error {
	c.logger.Debug("deepgram_metadata_received", slog.String("request_id", md.RequestID))
	return nil
}

func (c *collector) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	c.notify()
	return nil
}

func (c *collector) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	c.mu.Lock()
	c.done = true
	c.mu.Unlock()
	c.logger.Debug("utterance_end_event")
	c.notify()
	return nil
}

func (c *collector) Close(cr *msginterfaces.CloseResponse) error {
	c.mu.Lock()
	c.done = true
	c.mu.Unlock()
	c.logger.Debug("deepgram_connection_closed")
	c.notify()
	return nil
}

func (c *collector) Error(er *msginterfaces.ErrorResponse) error {
	c.logger.Error("deepgram_error",
		slog.String("error_code", er.ErrCode),
		slog.String("error_message", er.ErrMsg))
	c.mu.Lock()
	if c.err == nil {
		c.err = fmt.Errorf("deepgram: %s: %s", er.ErrCode, er.ErrMsg)
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

func (c *collector) UnhandledEvent(byData []byte) error {
	c.logger.Debug("deepgram_unhandled_event", slog.String("data", string(byData)))
	return nil
}

var (
	_ stt.Transcriber                   = (*Transcriber)(nil)
	_ msginterfaces.LiveMessageCallback = (*collector)(nil)
)
