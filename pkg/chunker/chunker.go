package chunker

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/harunnryd/voxlink/pkg/errorsx"
	"github.com/harunnryd/voxlink/pkg/llm"
	"github.com/harunnryd/voxlink/pkg/logging"
	"github.com/harunnryd/voxlink/pkg/redact"
)

// DefaultSeparatorThreshold is the number of separators that triggers a
// flush. Smaller chunks cost intonation, larger ones cost time to first audio.
const DefaultSeparatorThreshold = 30

// Separator is the character counted toward the threshold.
const Separator = ' '

// Sender forwards one chunk of text. An empty string ends the turn.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type Config struct {
	Threshold int
}

// Stats summarizes what a Chunker forwarded.
type Stats struct {
	Chunks int
	Bytes  int
}

// Chunk accumulates text between flushes.
type Chunk struct {
	sb         strings.Builder
	separators int
}

// Append adds delta and returns the running separator count.
func (c *Chunk) Append(delta string) int {
	c.sb.WriteString(delta)
	c.separators += strings.Count(delta, string(Separator))
	return c.separators
}

func (c *Chunk) String() string  { return c.sb.String() }
func (c *Chunk) Len() int        { return c.sb.Len() }
func (c *Chunk) Separators() int { return c.separators }

// Reset empties the buffer and the separator count.
func (c *Chunk) Reset() {
	c.sb.Reset()
	c.separators = 0
}

// Chunker groups generation deltas into chunks worth synthesizing.
type Chunker struct {
	cfg   Config
	chunk Chunk
	stats Stats
	log   *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Chunker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultSeparatorThreshold
	}
	return &Chunker{cfg: cfg, log: logging.NewComponentLogger(log, "chunker")}
}

// Run consumes deltas until the channel closes, forwarding a chunk each time
// the separator count reaches the threshold. At the end it flushes what is
// left and sends the empty terminator. A send failure or an error Delta stops
// Run at once, and the terminator is not sent.
func (c *Chunker) Run(ctx context.Context, deltas <-chan llm.Delta, sender Sender) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delta, ok := <-deltas:
			if !ok {
				return c.finish(ctx, sender)
			}
			if delta.Err != nil {
				c.log.Warn("generation stream broke",
					slog.Int("chunks", c.stats.Chunks),
					slog.Int("pending_bytes", c.chunk.Len()))
				return errorsx.Wrap(delta.Err, errorsx.ReasonLLMStream)
			}
			if c.chunk.Append(delta.Text) >= c.cfg.Threshold {
				if err := c.flush(ctx, sender); err != nil {
					return err
				}
			}
		}
	}
}

// Stats returns counters for the chunks forwarded so far, terminator excluded.
func (c *Chunker) Stats() Stats { return c.stats }

func (c *Chunker) finish(ctx context.Context, sender Sender) error {
	if c.chunk.Len() > 0 {
		if err := c.flush(ctx, sender); err != nil {
			return err
		}
	}
	if err := c.send(ctx, sender, ""); err != nil {
		return err
	}
	c.log.Debug("text stream complete",
		slog.Int("chunks", c.stats.Chunks),
		slog.Int("bytes", c.stats.Bytes))
	return nil
}

func (c *Chunker) flush(ctx context.Context, sender Sender) error {
	text := c.chunk.String()
	c.log.Debug("sending chunk",
		slog.String("text", redact.Text(text)),
		slog.Int("separators", c.chunk.Separators()))
	if err := c.send(ctx, sender, text); err != nil {
		return err
	}
	c.stats.Chunks++
	c.stats.Bytes += len(text)
	c.chunk.Reset()
	return nil
}

func (c *Chunker) send(ctx context.Context, sender Sender, text string) error {
	if err := sender.Send(ctx, text); err != nil {
		return errorsx.Wrap(asSendError(err), errorsx.ReasonSynthSend)
	}
	return nil
}

func asSendError(err error) error {
	var se *errorsx.SendError
	if errors.As(err, &se) {
		return err
	}
	return &errorsx.SendError{Err: err}
}
