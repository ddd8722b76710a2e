package playback

import (
	"context"
	"log/slog"
	"time"

	"github.com/harunnryd/voxlink/pkg/errorsx"
	"github.com/harunnryd/voxlink/pkg/logging"
	"github.com/harunnryd/voxlink/pkg/synth"
)

// FrameSource is the inbound side of a session.
type FrameSource interface {
	Frames() <-chan synth.InboundFrame
	Err() error
}

// Stats summarizes one consumer run.
type Stats struct {
	Segments     int
	AudioBytes   int
	Ignored      int
	FirstAudioAt time.Time
}

// Consumer decodes inbound audio and feeds it to a sink in arrival order.
type Consumer struct {
	decoder Decoder
	sink    *Sink
	log     *slog.Logger
	stats   Stats
}

// NewConsumer returns a consumer feeding sink. A nil decoder sniffs each
// payload as the auto format does.
func NewConsumer(decoder Decoder, sink *Sink, log *slog.Logger) *Consumer {
	if decoder == nil {
		decoder = DecoderFunc(decodeAuto)
	}
	return &Consumer{
		decoder: decoder,
		sink:    sink,
		log:     logging.NewComponentLogger(log, "playback"),
	}
}

// Run consumes frames until the source ends, then waits for the sink to
// finish playing. A service error or an undecodable payload ends the run
// with a PlaybackError.
func (c *Consumer) Run(ctx context.Context, src FrameSource) error {
	frames := src.Frames()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return c.finish(ctx, src)
			}
			if err := c.handle(ctx, f); err != nil {
				return err
			}
		}
	}
}

// Stats returns counters for the frames handled so far.
func (c *Consumer) Stats() Stats { return c.stats }

func (c *Consumer) handle(ctx context.Context, f synth.InboundFrame) error {
	switch f.Kind {
	case synth.FrameAudio:
		raw, err := f.AudioBytes()
		if err != nil {
			return errorsx.Wrap(&errorsx.PlaybackError{Err: err}, errorsx.ReasonPlaybackDecode)
		}
		seg, err := c.decoder.Decode(raw)
		if err != nil {
			c.log.Error("audio decode failed",
				slog.Int("size_bytes", len(raw)),
				slog.String("error", err.Error()))
			return errorsx.Wrap(&errorsx.PlaybackError{Err: err}, errorsx.ReasonPlaybackDecode)
		}
		seg.Seq = c.stats.Segments
		if err := c.sink.Append(ctx, seg); err != nil {
			return err
		}
		if c.stats.Segments == 0 {
			c.stats.FirstAudioAt = time.Now()
		}
		c.stats.Segments++
		c.stats.AudioBytes += len(raw)
		c.log.Debug("audio segment queued",
			slog.Int("seq", seg.Seq),
			slog.Int("size_bytes", len(raw)),
			slog.Duration("duration", seg.Duration()))
		return nil
	case synth.FrameError:
		c.log.Error("synthesis service reported an error", slog.String("message", f.Message))
		return errorsx.Wrap(&errorsx.PlaybackError{ServiceMessage: f.Message}, errorsx.ReasonPlaybackService)
	default:
		c.stats.Ignored++
		return nil
	}
}

func (c *Consumer) finish(ctx context.Context, src FrameSource) error {
	if err := src.Err(); err != nil {
		c.log.Error("inbound stream broke", slog.String("error", err.Error()))
		return errorsx.Wrap(&errorsx.PlaybackError{Err: err}, errorsx.ReasonSynthReceive)
	}
	c.log.Debug("inbound stream ended, draining sink",
		slog.Int("segments", c.stats.Segments),
		slog.Int("queued", c.sink.Len()))
	return c.sink.Drain(ctx)
}
