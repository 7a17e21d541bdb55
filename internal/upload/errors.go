package upload

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies an upload failure.
type ErrorKind string

const (
	KindNetwork        ErrorKind = "network"
	KindServerRejected ErrorKind = "server_rejected"
	KindAborted        ErrorKind = "aborted"
)

// ErrNoReplyEndpoint is returned by Reply when no follow-up endpoint is configured.
var ErrNoReplyEndpoint = errors.New("no reply endpoint configured")

// Error is an upload or follow-up failure. Detail carries the backend's own
// explanation when it sent one.
type Error struct {
	Kind   ErrorKind
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "" && e.Status != 0:
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Detail)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s (%d)", e.Kind, e.Status)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Message is the most specific human-readable reason for the failure.
func (e *Error) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	switch e.Kind {
	case KindNetwork:
		return "Backend server not available"
	case KindAborted:
		return "Upload aborted"
	}
	if e.Status != 0 {
		return fmt.Sprintf("server responded with status %d", e.Status)
	}
	return "server rejected the upload"
}

// AsError converts any transport error into an *Error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var uerr *Error
	if errors.As(err, &uerr) {
		return uerr
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindAborted, Err: err}
	}
	return &Error{Kind: KindNetwork, Err: err}
}
