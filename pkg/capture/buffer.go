package capture

import (
	"encoding/binary"
	"math"
	"time"
)

// Buffer is a block of captured audio. Samples are interleaved when
// Channels > 1 and normalized to [-1, 1].
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

func (b Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

func (b Buffer) Empty() bool { return len(b.Samples) == 0 }

// ToMono averages interleaved channels into one.
func ToMono(b Buffer) Buffer {
	if b.Channels <= 1 {
		b.Channels = 1
		return b
	}
	frames := b.Frames()
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < b.Channels; c++ {
			sum += b.Samples[i*b.Channels+c]
		}
		out[i] = sum / float32(b.Channels)
	}
	return Buffer{Samples: out, SampleRate: b.SampleRate, Channels: 1}
}

// Resample converts a mono buffer to rate using linear interpolation.
func Resample(b Buffer, rate int) Buffer {
	if rate <= 0 || b.SampleRate <= 0 || b.SampleRate == rate || len(b.Samples) == 0 {
		return b
	}
	if b.Channels > 1 {
		b = ToMono(b)
	}
	ratio := float64(b.SampleRate) / float64(rate)
	n := int(math.Ceil(float64(len(b.Samples)) / ratio))
	out := make([]float32, n)
	last := len(b.Samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = b.Samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = b.Samples[idx]*(1-frac) + b.Samples[idx+1]*frac
	}
	return Buffer{Samples: out, SampleRate: rate, Channels: 1}
}

// PCM16 encodes the buffer as little-endian signed 16-bit samples.
func PCM16(b Buffer) []byte {
	out := make([]byte, len(b.Samples)*2)
	for i, s := range b.Samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*math.MaxInt16)))
	}
	return out
}

// FromInt16 normalizes signed 16-bit samples.
func FromInt16(samples []int16, sampleRate, channels int) Buffer {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return Buffer{Samples: out, SampleRate: sampleRate, Channels: channels}
}
