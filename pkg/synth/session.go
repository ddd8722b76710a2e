package synth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/voxlink/pkg/errorsx"
	"github.com/harunnryd/voxlink/pkg/logging"
	"github.com/harunnryd/voxlink/pkg/resilience"
)

var (
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("session closed")
	// ErrStreamEnded is returned by Send once the service has closed the
	// stream from its side with a normal close code.
	ErrStreamEnded = errors.New("stream ended by remote")
)

const (
	frameBuffer  = 64
	closeTimeout = time.Second
)

// Session is one live stream-input connection. Writes are serialized by an
// internal lock. The inbound side is read by a single goroutine and handed
// to a single consumer through Frames.
type Session struct {
	cfg      Config
	endpoint string
	conn     *websocket.Conn
	log      *slog.Logger

	writeMu sync.Mutex

	frames      chan InboundFrame
	done        chan struct{}
	readDone    chan struct{}
	readErr     error
	remoteEnded atomic.Bool
	closeMu     sync.Once
}

// Open dials the synthesis service and sends the initialization message.
// It returns once the initialization write has completed.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errorsx.Wrap(&errorsx.ConnectionError{Endpoint: cfg.BaseURL, Err: err}, errorsx.ReasonSynthConnect)
	}
	endpoint, err := BuildURL(cfg)
	if err != nil {
		return nil, errorsx.Wrap(&errorsx.ConnectionError{Endpoint: cfg.BaseURL, Err: err}, errorsx.ReasonSynthConnect)
	}
	log = logging.NewComponentLogger(log, "synth_session").With(
		slog.String("voice_id", cfg.VoiceID),
		slog.String("model_id", cfg.ModelID))

	log.Debug("connecting to synthesis service",
		slog.String("output_format", cfg.OutputFormat),
		slog.Int("latency", cfg.Latency))

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, http.Header{
		"xi-api-key": []string{cfg.APIKey},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			log.Error("synthesis rate limit exceeded", slog.String("status", resp.Status))
			rl := resilience.RateLimitError{
				Provider:   "elevenlabs",
				Message:    resp.Status,
				RetryAfter: resilience.ParseRetryAfter(resp.Header.Get("Retry-After")),
			}
			return nil, errorsx.Wrap(&errorsx.ConnectionError{Endpoint: cfg.BaseURL, Err: rl}, errorsx.ReasonSynthRateLimit)
		}
		if resp != nil {
			err = fmt.Errorf("%w (status %s)", err, resp.Status)
		}
		log.Error("failed to connect to synthesis service", slog.String("error", err.Error()))
		return nil, errorsx.Wrap(&errorsx.ConnectionError{Endpoint: cfg.BaseURL, Err: err}, errorsx.ReasonSynthConnect)
	}

	s := &Session{
		cfg:      cfg,
		endpoint: endpoint,
		conn:     conn,
		log:      log,
		frames:   make(chan InboundFrame, frameBuffer),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}

	opener := InitMessage{Text: initText, VoiceSettings: cfg.Voice, APIKey: cfg.APIKey}
	if err := s.write(ctx, opener); err != nil {
		_ = conn.Close()
		log.Error("failed to send initialization message", slog.String("error", err.Error()))
		return nil, errorsx.Wrap(&errorsx.ConnectionError{Endpoint: cfg.BaseURL, Err: err}, errorsx.ReasonSynthInit)
	}
	log.Info("connected to synthesis service")

	go s.readLoop()
	return s, nil
}

// Send writes one text chunk. Concurrent callers are serialized so each
// message is written whole and in lock order.
func (s *Session) Send(ctx context.Context, text string) error {
	select {
	case <-s.done:
		return errorsx.Wrap(&errorsx.SendError{Err: ErrClosed}, errorsx.ReasonSynthSend)
	default:
	}
	if s.remoteEnded.Load() {
		return errorsx.Wrap(&errorsx.SendError{Err: ErrStreamEnded}, errorsx.ReasonSynthSend)
	}
	if err := s.write(ctx, ChunkMessage{Text: text}); err != nil {
		return s.sendFailure(ctx, err)
	}
	s.log.Debug("chunk sent", slog.Int("size_bytes", len(text)), slog.Bool("terminator", text == ""))
	return nil
}

// Frames returns the inbound frame channel. The channel is closed when the
// remote closes the connection, the service marks the stream final, or
// Close is called. Every call returns the same channel; it must be drained
// by one consumer.
func (s *Session) Frames() <-chan InboundFrame { return s.frames }

// Endpoint returns the dialed URL.
func (s *Session) Endpoint() string { return s.endpoint }

// Err reports an abnormal read failure. It is only meaningful after the
// Frames channel has been closed.
func (s *Session) Err() error { return s.readErr }

// Close releases the connection. It is safe to call more than once and
// unblocks a pending read.
func (s *Session) Close() error {
	var err error
	s.closeMu.Do(func() {
		close(s.done)
		// A writer stuck on a dead socket holds the lock; skip the close
		// frame then and let conn.Close unblock it.
		if s.writeMu.TryLock() {
			_ = s.conn.SetWriteDeadline(time.Now().Add(closeTimeout))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			s.writeMu.Unlock()
		}
		err = s.conn.Close()
		s.log.Debug("session closed")
	})
	return err
}

// sendFailure classifies a failed write. The close handler answers a remote
// close frame, after which every write fails with ErrCloseSent; the reader's
// verdict on that close decides between a normal end and a receive failure.
func (s *Session) sendFailure(ctx context.Context, err error) error {
	select {
	case <-s.done:
		return errorsx.Wrap(&errorsx.SendError{Err: ErrClosed}, errorsx.ReasonSynthSend)
	default:
	}
	if !errors.Is(err, websocket.ErrCloseSent) {
		select {
		case <-s.readDone:
			if s.readErr != nil {
				return errorsx.Wrap(&errorsx.SendError{Err: s.readErr}, errorsx.ReasonSynthReceive)
			}
		default:
		}
		return errorsx.Wrap(&errorsx.SendError{Err: err}, errorsx.ReasonSynthSend)
	}
	select {
	case <-s.readDone:
	case <-ctx.Done():
		return errorsx.Wrap(&errorsx.SendError{Err: err}, errorsx.ReasonSynthSend)
	case <-time.After(closeTimeout):
		return errorsx.Wrap(&errorsx.SendError{Err: err}, errorsx.ReasonSynthSend)
	}
	if s.remoteEnded.Load() {
		return errorsx.Wrap(&errorsx.SendError{Err: ErrStreamEnded}, errorsx.ReasonSynthSend)
	}
	if s.readErr != nil {
		return errorsx.Wrap(&errorsx.SendError{Err: s.readErr}, errorsx.ReasonSynthReceive)
	}
	return errorsx.Wrap(&errorsx.SendError{Err: err}, errorsx.ReasonSynthSend)
}

func (s *Session) write(ctx context.Context, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	_ = s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Session) readLoop() {
	defer close(s.frames)
	defer close(s.readDone)
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.finishRead(err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		f := DecodeFrame(data)
		if f.Kind != FrameUnknown {
			select {
			case s.frames <- f:
			case <-s.done:
				return
			}
		}
		if f.IsFinal {
			s.log.Debug("synthesis stream final")
			return
		}
	}
}

func (s *Session) finishRead(err error) {
	select {
	case <-s.done:
		return
	default:
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		s.log.Debug("remote closed connection",
			slog.Int("code", ce.Code),
			slog.String("text", ce.Text))
		if ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway || ce.Code == websocket.CloseNoStatusReceived {
			s.remoteEnded.Store(true)
			return
		}
		s.readErr = err
		return
	}
	s.log.Error("synthesis read loop error", slog.String("error", err.Error()))
	s.readErr = err
}
