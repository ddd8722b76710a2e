package runner

import (
	"bytes"
	"context"
	"io"

	"github.com/dimiro1/banner"
)

type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

// Work is the body a runner drives until it returns or is cancelled.
type Work func(ctx context.Context) error

type Hooks struct {
	OnStart func()
	OnStop  func()
}

// Drainer flushes whatever must survive shutdown.
type Drainer interface {
	Drain() error
}

// DrainerFunc adapts a function to Drainer.
type DrainerFunc func() error

func (f DrainerFunc) Drain() error { return f() }

var Version = "dev"

// PrintBanner writes the startup banner to w. A nil w prints nothing.
func PrintBanner(w io.Writer) {
	if w == nil {
		return
	}
	tpl := "{{ .Title \"VOXLINK\" \"\" 0 }}\nVersion: " + Version + "\n"
	banner.Init(w, true, false, bytes.NewBufferString(tpl))
}
