package capture

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/harunnryd/voxlink/pkg/errorsx"
	"github.com/harunnryd/voxlink/pkg/logging"
)

// Source produces one utterance per call. io.EOF means no more input.
type Source interface {
	Capture(ctx context.Context) (Buffer, error)
}

// ReadWAV loads a whole WAV file.
func ReadWAV(path string) (Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return Buffer{}, errorsx.Wrap(err, errorsx.ReasonCaptureRead)
	}
	defer f.Close()
	return DecodeWAV(f)
}

// DecodeWAV decodes a WAV stream into a normalized buffer.
func DecodeWAV(r io.ReadSeeker) (Buffer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Buffer{}, errorsx.Errorf(errorsx.ReasonCaptureRead, "capture: not a valid wav file")
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return Buffer{}, errorsx.Errorf(errorsx.ReasonCaptureRead, "capture: decode wav: %w", err)
	}
	return fromIntBuffer(pcm, int(dec.BitDepth)), nil
}

func fromIntBuffer(pcm *audio.IntBuffer, bitDepth int) Buffer {
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))
	out := make([]float32, len(pcm.Data))
	for i, s := range pcm.Data {
		if bitDepth == 8 {
			// 8-bit WAV is unsigned.
			s -= 128
		}
		out[i] = float32(s) / scale
	}
	return Buffer{Samples: out, SampleRate: pcm.Format.SampleRate, Channels: pcm.Format.NumChannels}
}

// FileSource yields the configured WAV file once, then io.EOF.
type FileSource struct {
	path string
	used bool
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Capture(ctx context.Context) (Buffer, error) {
	if err := ctx.Err(); err != nil {
		return Buffer{}, err
	}
	if s.used {
		return Buffer{}, io.EOF
	}
	s.used = true
	return ReadWAV(s.path)
}

// PromptSource reads a WAV path per line from in. An empty line reuses
// the previous path. Lines are read by one background goroutine so that
// Capture returns as soon as ctx is done.
type PromptSource struct {
	scanner *bufio.Scanner
	out     io.Writer
	prompt  string
	last    string
	log     *slog.Logger

	start sync.Once
	lines chan promptLine
}

type promptLine struct {
	text string
	err  error
}

func NewPromptSource(in io.Reader, out io.Writer, defaultPath string, log *slog.Logger) *PromptSource {
	return &PromptSource{
		scanner: bufio.NewScanner(in),
		out:     out,
		prompt:  "wav path> ",
		last:    defaultPath,
		log:     logging.NewComponentLogger(log, "capture"),
		lines:   make(chan promptLine),
	}
}

func (s *PromptSource) Capture(ctx context.Context) (Buffer, error) {
	s.start.Do(func() { go s.readLines() })
	for {
		if err := ctx.Err(); err != nil {
			return Buffer{}, err
		}
		if s.out != nil {
			fmt.Fprint(s.out, s.prompt)
		}
		var line promptLine
		select {
		case <-ctx.Done():
			return Buffer{}, ctx.Err()
		case l, ok := <-s.lines:
			if !ok {
				return Buffer{}, io.EOF
			}
			line = l
		}
		if line.err != nil {
			return Buffer{}, errorsx.Wrap(line.err, errorsx.ReasonCaptureRead)
		}
		path := strings.TrimSpace(line.text)
		if path == "" {
			path = s.last
		}
		if path == "" {
			continue
		}
		buf, err := ReadWAV(path)
		if err != nil {
			s.log.Warn("could not read capture file", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		s.last = path
		return buf, nil
	}
}

// readLines may stay blocked on in after the last Capture returns.
func (s *PromptSource) readLines() {
	defer close(s.lines)
	for s.scanner.Scan() {
		s.lines <- promptLine{text: s.scanner.Text()}
	}
	if err := s.scanner.Err(); err != nil {
		s.lines <- promptLine{err: err}
	}
}

var (
	_ Source = (*FileSource)(nil)
	_ Source = (*PromptSource)(nil)
)
