package errorsx

import (
	"errors"
	"fmt"
)

// ReasonedError tags an error with a reason code. The message is the
// wrapped error's; the reason travels alongside it for logs and metrics.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e ReasonedError) Unwrap() error {
	return e.Err
}

// Wrap attaches reason to err. The innermost reason wins, so wrapping an
// already reasoned error returns it unchanged. Wrap(nil, r) is nil.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var re ReasonedError
	if errors.As(err, &re) {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

// Errorf builds a new error with fmt.Errorf semantics and tags it with
// reason.
func Errorf(reason ReasonCode, format string, args ...any) error {
	return Wrap(fmt.Errorf(format, args...), reason)
}

// Reason returns the innermost reason code in err's chain.
func Reason(err error) ReasonCode {
	if err == nil {
		return ReasonUnknown
	}
	var re ReasonedError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ReasonUnknown
}

func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}
