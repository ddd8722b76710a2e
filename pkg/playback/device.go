package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"
)

// Device plays segments. Play may block for as long as the hardware needs.
type Device interface {
	Play(seg Segment) error
	Close() error
}

// Drainer is implemented by devices that buffer audio past Play and can
// wait until it has been heard.
type Drainer interface {
	Drain() error
}

// MemoryDevice records every segment it is given. Delay simulates playback
// time per segment.
type MemoryDevice struct {
	Delay time.Duration

	mu       sync.Mutex
	segments []Segment
	closed   bool
}

func NewMemoryDevice() *MemoryDevice { return &MemoryDevice{} }

func (d *MemoryDevice) Play(seg Segment) error {
	if d.Delay > 0 {
		time.Sleep(d.Delay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("device closed")
	}
	d.segments = append(d.segments, seg)
	return nil
}

func (d *MemoryDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// Segments returns what has been played, in order.
func (d *MemoryDevice) Segments() []Segment {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Segment(nil), d.segments...)
}

// DiscardDevice drops audio. With RealTime set it sleeps for each segment's
// duration so the turn still takes as long as the speech would.
type DiscardDevice struct {
	RealTime bool
}

func (d DiscardDevice) Play(seg Segment) error {
	if d.RealTime {
		time.Sleep(seg.Duration())
	}
	return nil
}

func (DiscardDevice) Close() error { return nil }

// WAVFileDevice appends every segment to one WAV file. The file takes the
// format of the first segment; later segments must match it.
type WAVFileDevice struct {
	path string

	mu   sync.Mutex
	file *os.File
	enc  *wav.Encoder
	rate int
	ch   int
}

func NewWAVFileDevice(path string) *WAVFileDevice {
	return &WAVFileDevice{path: path}
}

func (d *WAVFileDevice) Play(seg Segment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enc == nil {
		f, err := os.Create(d.path)
		if err != nil {
			return fmt.Errorf("create wav output: %w", err)
		}
		d.file = f
		d.rate, d.ch = seg.SampleRate(), seg.Channels()
		d.enc = wav.NewEncoder(f, d.rate, 16, d.ch, 1)
	}
	if seg.SampleRate() != d.rate || seg.Channels() != d.ch {
		return fmt.Errorf("segment format %dHz/%dch does not match output %dHz/%dch",
			seg.SampleRate(), seg.Channels(), d.rate, d.ch)
	}
	return d.enc.Write(seg.Buffer)
}

func (d *WAVFileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enc == nil {
		return nil
	}
	err := d.enc.Close()
	if cerr := d.file.Close(); err == nil {
		err = cerr
	}
	d.enc, d.file = nil, nil
	return err
}

// ExecDevice pipes raw PCM into an external player such as
// "aplay -q -t raw -f S16_LE -r {rate} -c {channels}". The command starts on
// the first segment and restarts when the sample format changes.
type ExecDevice struct {
	args []string
	log  *slog.Logger

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
	rate  int
	ch    int
}

// NewExecDevice parses command with shell quoting rules.
func NewExecDevice(command string, log *slog.Logger) (*ExecDevice, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse player command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("player command is empty")
	}
	if log == nil {
		log = slog.Default()
	}
	return &ExecDevice{args: args, log: log}, nil
}

func (d *ExecDevice) Play(seg Segment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cmd != nil && (seg.SampleRate() != d.rate || seg.Channels() != d.ch) {
		if err := d.stopLocked(); err != nil {
			return err
		}
	}
	if d.cmd == nil {
		if err := d.startLocked(seg.SampleRate(), seg.Channels()); err != nil {
			return err
		}
	}
	if _, err := d.stdin.Write(seg.PCM16()); err != nil {
		return fmt.Errorf("write to player: %w", err)
	}
	return nil
}

// Drain closes the player's input and waits for it to finish playing.
func (d *ExecDevice) Drain() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopLocked()
}

func (d *ExecDevice) Close() error { return d.Drain() }

func (d *ExecDevice) startLocked(rate, channels int) error {
	args := make([]string, len(d.args))
	for i, a := range d.args {
		a = strings.ReplaceAll(a, "{rate}", strconv.Itoa(rate))
		args[i] = strings.ReplaceAll(a, "{channels}", strconv.Itoa(channels))
	}
	cmd := exec.Command(args[0], args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("player stdin: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start player: %w", err)
	}
	d.log.Debug("player started",
		slog.String("command", args[0]),
		slog.Int("sample_rate", rate),
		slog.Int("channels", channels))
	d.cmd, d.stdin, d.rate, d.ch = cmd, stdin, rate, channels
	return nil
}

func (d *ExecDevice) stopLocked() error {
	if d.cmd == nil {
		return nil
	}
	_ = d.stdin.Close()
	err := d.cmd.Wait()
	d.cmd, d.stdin = nil, nil
	if err != nil {
		return fmt.Errorf("player exited: %w", err)
	}
	return nil
}
