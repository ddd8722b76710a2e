package errorsx

import (
	"errors"
	"fmt"
)

// ConnectionError reports a failed connect or handshake with the synthesis service.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SendError reports a failed outbound write mid-turn.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// PlaybackError reports a decode failure, a sink failure or an error reported
// by the remote service. ServiceMessage holds the remote diagnostic verbatim.
type PlaybackError struct {
	ServiceMessage string
	Err            error
}

func (e *PlaybackError) Error() string {
	if e.ServiceMessage != "" {
		return "synthesis service error: " + e.ServiceMessage
	}
	return fmt.Sprintf("playback: %v", e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

// TurnError is the orchestrator-level error carrying whichever failure
// happened first during a turn.
type TurnError struct {
	TurnID string
	State  string
	Err    error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn %s failed in %s: %v", e.TurnID, e.State, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// IsServiceError reports whether err carries a remote diagnostic.
func IsServiceError(err error) bool {
	var pe *PlaybackError
	return errors.As(err, &pe) && pe.ServiceMessage != ""
}
