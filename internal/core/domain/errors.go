package domain

import (
	"errors"
	"fmt"
)

var (
	ErrBackendUnreachable = errors.New("recording backend unreachable")
	ErrBackendRejected    = errors.New("recording backend rejected request")
	ErrInvalidState       = errors.New("invalid recording state")

	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidSessionKey = errors.New("invalid session key")
	ErrSessionClosed     = errors.New("session closed")
)

// BackendError describes a failed RecordingBackend call. Kind is one of
// ErrBackendUnreachable or ErrBackendRejected.
type BackendError struct {
	Kind       error
	Op         string
	StatusCode int
	Message    string
	Cause      error
}

func (e *BackendError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *BackendError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func Unreachable(op string, cause error) *BackendError {
	return &BackendError{Kind: ErrBackendUnreachable, Op: op, Cause: cause}
}

func Rejected(op string, status int, message string) *BackendError {
	return &BackendError{Kind: ErrBackendRejected, Op: op, StatusCode: status, Message: message}
}

// FailureKind classifies err for metrics and logs.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBackendRejected):
		return "rejected"
	case errors.Is(err, ErrBackendUnreachable):
		return "unreachable"
	default:
		return "error"
	}
}
