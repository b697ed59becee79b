package errors

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
)

// Kind buckets worker failures by the handling they require.
type Kind int

const (
	// TransientInfra covers infrastructure faults such as database
	// transport errors, storage 5xx responses and broker connectivity.
	// Callers retry these with backoff, without bound.
	TransientInfra Kind = iota
	// ConcurrencyLost means the job row is no longer owned by this task.
	// Fatal for the task. Never retried, never changes job status.
	ConcurrencyLost
	// Analyze is an input rejection: the source cannot be probed or lacks
	// usable streams.
	Analyze
	// Profile means no preset profile matches the probed source.
	Profile
	// Encode is raised when ffmpeg exits non-zero or reports error lines.
	Encode
	// Validation means the output does not faithfully represent the source
	// (truncated or tampered result).
	Validation
	// Canceled marks a cooperative shutdown interrupting the job. Not a
	// failure, the job goes back to the queue.
	Canceled
)

func (k Kind) String() string {
	switch k {
	case TransientInfra:
		return "transient"
	case ConcurrencyLost:
		return "concurrency"
	case Analyze:
		return "analyze"
	case Profile:
		return "profile"
	case Encode:
		return "encode"
	case Validation:
		return "validation"
	case Canceled:
		return "canceled"
	}
	return "unknown"
}

// Error tags an underlying failure with the Kind that decides its handling.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf reports the Kind an error was tagged with.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsTransient reports whether err should be retried without bound.
func IsTransient(err error) bool {
	return IsKind(err, TransientInfra)
}

func IsConcurrencyLost(err error) bool {
	return IsKind(err, ConcurrencyLost)
}

// IsCancellation covers both the worker's own soft-stop marker and plain
// context cancellation bubbling up from blocking calls.
func IsCancellation(err error) bool {
	return IsKind(err, Canceled) || errors.Is(err, context.Canceled)
}

// Unretriable marks err as terminal for backoff retry loops.
func Unretriable(err error) error {
	return backoff.Permanent(err)
}

// IsUnretriable reports whether a retry loop should stop on err. Every
// tagged kind except TransientInfra is terminal, as is anything wrapped
// with Unretriable or backoff.Permanent.
func IsUnretriable(err error) bool {
	var permErr *backoff.PermanentError
	if errors.As(err, &permErr) {
		return true
	}
	if k, ok := KindOf(err); ok {
		return k != TransientInfra
	}
	return false
}
