package shared

import (
	"errors"
	"fmt"
)

var (
	ErrNoLogger          = errors.New("no logger provided")
	ErrNoEditor          = errors.New("no editor provided")
	ErrEmptySessionKey   = errors.New("empty session key")
	ErrEmptyUserID       = errors.New("empty user id")
	ErrSessionClosed     = errors.New("session closed")
	ErrNotConnected      = errors.New("not connected")
	ErrAlreadyJoined     = errors.New("session already joined")
	ErrNoDeviceSource    = errors.New("no device source configured")
	ErrNegotiationClosed = errors.New("negotiation closed")
)

// DecodeError reports a malformed inbound message. The connection survives;
// the message is dropped and logged.
type DecodeError struct {
	Type string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("decoding message: %v", e.Err)
	}
	return fmt.Sprintf("decoding %q message: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ConnectionError reports an unreachable or dropped relay. Surfaced to the
// user; never retried automatically.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("relay connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// MediaAccessError reports a capture device that is unavailable or denied.
// The toggle state it interrupted is left unchanged.
type MediaAccessError struct {
	Kind string // "audio" or "video"
	Err  error
}

func (e *MediaAccessError) Error() string {
	return fmt.Sprintf("accessing %s device: %v", e.Kind, e.Err)
}

func (e *MediaAccessError) Unwrap() error { return e.Err }

// NegotiationError is fatal to the negotiation attempt that produced it; the
// state machine transitions to Closed, never left dangling.
type NegotiationError struct {
	Step string
	Err  error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation %s: %v", e.Step, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }
