package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by operations that need an open session
	ErrNotConnected = errors.New("not connected")
	// ErrMissingAppID is returned when connecting without an application ID
	ErrMissingAppID = errors.New("application id is empty")
	// ErrInvalidAppID is returned when the application ID is not a snowflake
	ErrInvalidAppID = errors.New("application id must be at least 18 digits")
	// ErrUnknownSource is returned when binding to a source that is not active
	ErrUnknownSource = errors.New("unknown media source")
	// ErrInvalidConfig is returned when a persisted form fails validation
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrTooManyButtons is returned when a presence carries more than MaxButtons
	ErrTooManyButtons = fmt.Errorf("a presence can carry at most %d buttons", MaxButtons)
	// ErrSessionClosed is reported by a sink whose session was closed by the
	// peer or the caller. The session cannot be used again.
	ErrSessionClosed = errors.New("sink session closed")
	// ErrBusUnavailable is returned by media queries when no session bus is connected
	ErrBusUnavailable = errors.New("session bus unavailable")
)

// ConnectError reports a failure to open a session with the sink
type ConnectError struct {
	AppID string
	Err   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.AppID, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// PublishError reports a failure to publish or clear a presence. Code and
// Message are set when the sink rejected the command itself.
type PublishError struct {
	Op      string
	Code    int
	Message string
	Err     error
}

func (e *PublishError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s rejected (%d): %s", e.Op, e.Code, e.Message)
}

func (e *PublishError) Unwrap() error { return e.Err }

// QueryError reports a failed media-source query. The reconciliation loop
// treats it as "no metadata" and falls back to the form values.
type QueryError struct {
	Source SourceID
	Err    error
}

func (e *QueryError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("media query: %v", e.Err)
	}
	return fmt.Sprintf("media query %s: %v", e.Source, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// ButtonError reports an invalid button in a presence or form
type ButtonError struct {
	Index  int
	Reason string
}

func (e *ButtonError) Error() string {
	return fmt.Sprintf("button %d: %s", e.Index, e.Reason)
}
