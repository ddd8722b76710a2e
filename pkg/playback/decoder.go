package playback

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// Decoder turns one container payload into playable samples.
type Decoder interface {
	Decode(raw []byte) (Segment, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(raw []byte) (Segment, error)

func (f DecoderFunc) Decode(raw []byte) (Segment, error) { return f(raw) }

var ErrEmptyPayload = errors.New("empty audio payload")

// NewDecoder picks a decoder for a stream-input output format such as
// "mp3_44100_128", "pcm_16000", "ulaw_8000" or "wav". An empty format or
// "auto" sniffs each payload.
func NewDecoder(format string) (Decoder, error) {
	f := strings.ToLower(strings.TrimSpace(format))
	switch {
	case f == "" || f == "auto":
		return DecoderFunc(decodeAuto), nil
	case f == "wav":
		return DecoderFunc(decodeWAV), nil
	case strings.HasPrefix(f, "mp3"):
		return DecoderFunc(decodeMP3), nil
	case strings.HasPrefix(f, "pcm_"):
		rate, err := formatRate(f)
		if err != nil {
			return nil, err
		}
		return DecoderFunc(func(raw []byte) (Segment, error) { return decodePCM(raw, rate) }), nil
	case strings.HasPrefix(f, "ulaw_"):
		rate, err := formatRate(f)
		if err != nil {
			return nil, err
		}
		return DecoderFunc(func(raw []byte) (Segment, error) { return decodeULaw(raw, rate) }), nil
	default:
		return nil, fmt.Errorf("unsupported audio format %q", format)
	}
}

func formatRate(f string) (int, error) {
	parts := strings.Split(f, "_")
	if len(parts) < 2 {
		return 0, fmt.Errorf("missing sample rate in %q", f)
	}
	rate, err := strconv.Atoi(parts[1])
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("invalid sample rate in %q", f)
	}
	return rate, nil
}

func decodeAuto(raw []byte) (Segment, error) {
	switch {
	case len(raw) >= 12 && string(raw[0:4]) == "RIFF" && string(raw[8:12]) == "WAVE":
		return decodeWAV(raw)
	default:
		return decodeMP3(raw)
	}
}

func decodeWAV(raw []byte) (Segment, error) {
	if len(raw) == 0 {
		return Segment{}, ErrEmptyPayload
	}
	d := wav.NewDecoder(bytes.NewReader(raw))
	if !d.IsValidFile() {
		return Segment{}, errors.New("invalid wav container")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Segment{}, fmt.Errorf("decode wav: %w", err)
	}
	data := buf.Data
	if shift := int(d.BitDepth) - 16; shift > 0 {
		for i, v := range data {
			data[i] = v >> shift
		}
	} else if shift < 0 {
		for i, v := range data {
			// 8-bit WAV is unsigned.
			data[i] = (v - 128) << -shift
		}
	}
	return newSegment(data, int(d.SampleRate), int(d.NumChans)), nil
}

func decodeMP3(raw []byte) (Segment, error) {
	if len(raw) == 0 {
		return Segment{}, ErrEmptyPayload
	}
	d, err := mp3.NewDecoder(bytes.NewReader(raw))
	if err != nil {
		return Segment{}, fmt.Errorf("decode mp3: %w", err)
	}
	pcm, err := io.ReadAll(d)
	if err != nil {
		return Segment{}, fmt.Errorf("decode mp3: %w", err)
	}
	// go-mp3 always yields 16-bit little-endian stereo.
	return newSegment(pcm16ToInts(pcm), d.SampleRate(), 2), nil
}

func decodePCM(raw []byte, rate int) (Segment, error) {
	if len(raw) == 0 {
		return Segment{}, ErrEmptyPayload
	}
	if len(raw)%2 != 0 {
		return Segment{}, errors.New("pcm payload not aligned")
	}
	return newSegment(pcm16ToInts(raw), rate, 1), nil
}

func decodeULaw(raw []byte, rate int) (Segment, error) {
	if len(raw) == 0 {
		return Segment{}, ErrEmptyPayload
	}
	data := make([]int, len(raw))
	for i, b := range raw {
		data[i] = ulawToLinear(b)
	}
	return newSegment(data, rate, 1), nil
}

func pcm16ToInts(pcm []byte) []int {
	out := make([]int, len(pcm)/2)
	for i := range out {
		out[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

// ulawToLinear expands one G.711 mu-law byte.
func ulawToLinear(b byte) int {
	u := ^b
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	sample := ((int(mantissa) << 3) + 0x84) << exponent
	sample -= 0x84
	if sign != 0 {
		return -sample
	}
	return sample
}
