package playback

import (
	"encoding/binary"
	"testing"

	"github.com/harunnryd/voxlink/pkg/synth/synthtest"
)

func TestDecodeWAV(t *testing.T) {
	raw, err := synthtest.WAV(16000, []int{0, 1000, -1000, 32767})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, format := range []string{"wav", "auto", ""} {
		dec, err := NewDecoder(format)
		if err != nil {
			t.Fatalf("decoder %q: %v", format, err)
		}
		seg, err := dec.Decode(raw)
		if err != nil {
			t.Fatalf("decode %q: %v", format, err)
		}
		if seg.SampleRate() != 16000 || seg.Channels() != 1 {
			t.Fatalf("unexpected format %d/%d", seg.SampleRate(), seg.Channels())
		}
		if seg.Frames() != 4 || seg.Buffer.Data[1] != 1000 || seg.Buffer.Data[2] != -1000 {
			t.Fatalf("unexpected samples %v", seg.Buffer.Data)
		}
	}
}

func TestDecodePCM(t *testing.T) {
	dec, err := NewDecoder("pcm_22050")
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	raw := make([]byte, 6)
	binary.LittleEndian.PutUint16(raw[0:], uint16(100))
	neg := int16(-200)
	binary.LittleEndian.PutUint16(raw[2:], uint16(neg))
	seg, err := dec.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if seg.SampleRate() != 22050 || seg.Frames() != 3 {
		t.Fatalf("unexpected segment %d/%d", seg.SampleRate(), seg.Frames())
	}
	if seg.Buffer.Data[0] != 100 || seg.Buffer.Data[1] != -200 {
		t.Fatalf("unexpected samples %v", seg.Buffer.Data)
	}
	if _, err := dec.Decode([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected alignment error")
	}
}

func TestDecodeULaw(t *testing.T) {
	dec, err := NewDecoder("ulaw_8000")
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	seg, err := dec.Decode([]byte{0xFF, 0x7F, 0x00, 0x80})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []int{0, 0, -32124, 32124}
	for i, v := range want {
		if seg.Buffer.Data[i] != v {
			t.Fatalf("sample %d = %d, want %d", i, seg.Buffer.Data[i], v)
		}
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	for _, format := range []string{"wav", "mp3_44100_128", "auto"} {
		dec, err := NewDecoder(format)
		if err != nil {
			t.Fatalf("decoder %q: %v", format, err)
		}
		if _, err := dec.Decode([]byte("definitely not audio")); err == nil {
			t.Fatalf("%q: expected decode error", format)
		}
		if _, err := dec.Decode(nil); err == nil {
			t.Fatalf("%q: expected empty payload error", format)
		}
	}
}

func TestNewDecoderUnsupported(t *testing.T) {
	for _, format := range []string{"opus_48000", "pcm_", "pcm_abc"} {
		if _, err := NewDecoder(format); err == nil {
			t.Fatalf("%q: expected error", format)
		}
	}
}

func TestSegmentPCM16AndDuration(t *testing.T) {
	seg := newSegment([]int{1, -1, 40000}, 8000, 1)
	pcm := seg.PCM16()
	if len(pcm) != 6 {
		t.Fatalf("unexpected length %d", len(pcm))
	}
	if int16(binary.LittleEndian.Uint16(pcm[4:])) != 32767 {
		t.Fatalf("expected clamping")
	}
	if seg.Duration() <= 0 {
		t.Fatalf("expected positive duration")
	}
}
