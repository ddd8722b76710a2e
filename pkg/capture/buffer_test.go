package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func TestToMonoAveragesChannels(t *testing.T) {
	b := Buffer{Samples: []float32{1, 0, 0.5, 0.5, -1, 1}, SampleRate: 48000, Channels: 2}
	m := ToMono(b)
	if m.Channels != 1 || len(m.Samples) != 3 {
		t.Fatalf("unexpected mono buffer %+v", m)
	}
	want := []float32{0.5, 0.5, 0}
	for i, v := range want {
		if m.Samples[i] != v {
			t.Fatalf("sample %d: got %v want %v", i, m.Samples[i], v)
		}
	}
}

func TestResampleDownsample(t *testing.T) {
	samples := make([]float32, 48000)
	b := Buffer{Samples: samples, SampleRate: 48000, Channels: 1}
	r := Resample(b, 16000)
	if r.SampleRate != 16000 || len(r.Samples) != 16000 {
		t.Fatalf("unexpected resample result rate=%d len=%d", r.SampleRate, len(r.Samples))
	}
	if r.Duration() != time.Second {
		t.Fatalf("expected 1s, got %v", r.Duration())
	}
}

func TestResampleSameRateIsNoop(t *testing.T) {
	b := Buffer{Samples: []float32{0.1, 0.2}, SampleRate: 16000, Channels: 1}
	if r := Resample(b, 16000); len(r.Samples) != 2 {
		t.Fatalf("expected unchanged buffer, got %+v", r)
	}
}

func TestPCM16Clamps(t *testing.T) {
	out := PCM16(Buffer{Samples: []float32{2, -2, 0}})
	if len(out) != 6 {
		t.Fatalf("expected 6 bytes, got %d", len(out))
	}
	if v := int16(binary.LittleEndian.Uint16(out[0:])); v != 32767 {
		t.Fatalf("expected max, got %d", v)
	}
	if v := int16(binary.LittleEndian.Uint16(out[2:])); v != -32767 {
		t.Fatalf("expected clamped min, got %d", v)
	}
}

func TestFromInt16(t *testing.T) {
	b := FromInt16([]int16{-32768, 0, 16384}, 16000, 1)
	if b.Samples[0] != -1 || b.Samples[1] != 0 || b.Samples[2] != 0.5 {
		t.Fatalf("unexpected samples %v", b.Samples)
	}
}

func writeWAV(t *testing.T, dir string, samples []int) string {
	t.Helper()
	path := filepath.Join(dir, "in.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	buf := &audio.IntBuffer{Data: samples, Format: &audio.Format{SampleRate: 16000, NumChannels: 1}, SourceBitDepth: 16}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}

func TestFileSourceYieldsOnce(t *testing.T) {
	path := writeWAV(t, t.TempDir(), []int{0, 16384, -16384, 0})
	src := NewFileSource(path)
	buf, err := src.Capture(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if buf.SampleRate != 16000 || buf.Channels != 1 || len(buf.Samples) != 4 {
		t.Fatalf("unexpected buffer %+v", buf)
	}
	if buf.Samples[1] != 0.5 {
		t.Fatalf("expected normalized sample 0.5, got %v", buf.Samples[1])
	}
	if _, err := src.Capture(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestPromptSourceReusesLastPath(t *testing.T) {
	path := writeWAV(t, t.TempDir(), []int{1, 2, 3})
	in := strings.NewReader(path + "\n\n")
	var out bytes.Buffer
	src := NewPromptSource(in, &out, "", nil)
	for i := 0; i < 2; i++ {
		if _, err := src.Capture(context.Background()); err != nil {
			t.Fatalf("capture %d: %v", i, err)
		}
	}
	if _, err := src.Capture(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
	if strings.Count(out.String(), "wav path> ") != 3 {
		t.Fatalf("unexpected prompt output %q", out.String())
	}
}

func TestPromptSourceReturnsOnCancel(t *testing.T) {
	in, w := io.Pipe()
	defer w.Close()
	src := NewPromptSource(in, nil, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := src.Capture(ctx)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("capture still blocked after cancel")
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, err := DecodeWAV(bytes.NewReader([]byte("not a wav"))); err == nil {
		t.Fatal("expected error")
	}
}
