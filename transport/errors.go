package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrStarted is returned when configuration is changed on a running transport.
	ErrStarted = errors.New("transport: already started")
	// ErrNoSockets is returned when no socket could be bound at all.
	ErrNoSockets = errors.New("transport: no socket could be bound")
	// ErrNotStarted is returned by Send when nothing is using the transport.
	ErrNotStarted = errors.New("transport: not started")
)

// BindError reports a socket that could not be bound. Other sockets are unaffected.
type BindError struct {
	Spec SocketSpec
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("transport: bind %s: %v", e.Spec, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }
