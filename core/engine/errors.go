package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("engine: not found")
	// ErrConflict is returned by stores when a unique constraint is violated.
	ErrConflict = errors.New("engine: conflict")
)

// AdapterError is a transient backend or transport failure.
type AdapterError struct {
	Op  string
	Err error
}

func (e *AdapterError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("adapter: %v", e.Err)
	}
	return fmt.Sprintf("adapter %s: %v", e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// NotSubscribedError means the recipient can no longer be reached.
type NotSubscribedError struct {
	SenderID string
	Err      error
}

func (e *NotSubscribedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("recipient %s is not subscribed", e.SenderID)
	}
	return fmt.Sprintf("recipient %s is not subscribed: %v", e.SenderID, e.Err)
}

func (e *NotSubscribedError) Unwrap() error { return e.Err }

// ResolutionError reports a handler key that cannot be resolved.
type ResolutionError struct {
	Key    string
	Reason string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("handler %q: %s", e.Key, e.Reason)
}

// MessengerError wraps a failure to parse an inbound request.
type MessengerError struct {
	Err error
}

func (e *MessengerError) Error() string {
	return fmt.Sprintf("messenger: %v", e.Err)
}

func (e *MessengerError) Unwrap() error { return e.Err }

// IsNotSubscribed reports whether err carries a NotSubscribedError.
func IsNotSubscribed(err error) bool {
	var ns *NotSubscribedError
	return errors.As(err, &ns)
}
