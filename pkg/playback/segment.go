package playback

import (
	"encoding/binary"
	"time"

	"github.com/go-audio/audio"
)

// Segment is one decoded piece of audio, interleaved 16-bit samples.
type Segment struct {
	Buffer *audio.IntBuffer
	// Seq is the arrival index within the turn.
	Seq int
}

func (s Segment) SampleRate() int {
	if s.Buffer == nil || s.Buffer.Format == nil {
		return 0
	}
	return s.Buffer.Format.SampleRate
}

func (s Segment) Channels() int {
	if s.Buffer == nil || s.Buffer.Format == nil {
		return 0
	}
	return s.Buffer.Format.NumChannels
}

// Frames returns the number of sample frames (samples per channel).
func (s Segment) Frames() int {
	if s.Buffer == nil || s.Channels() == 0 {
		return 0
	}
	return len(s.Buffer.Data) / s.Channels()
}

// Duration is the playback length of the segment.
func (s Segment) Duration() time.Duration {
	rate := s.SampleRate()
	if rate == 0 {
		return 0
	}
	return time.Duration(s.Frames()) * time.Second / time.Duration(rate)
}

// PCM16 renders the samples as little-endian signed 16-bit PCM.
func (s Segment) PCM16() []byte {
	if s.Buffer == nil {
		return nil
	}
	out := make([]byte, len(s.Buffer.Data)*2)
	for i, v := range s.Buffer.Data {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(clamp16(v))))
	}
	return out
}

func clamp16(v int) int {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return v
}

func newSegment(data []int, rate, channels int) Segment {
	return Segment{Buffer: &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}}
}
