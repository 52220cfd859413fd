// Package fault defines the error taxonomy shared by the fabric components.
// Callers test error classes with errors.As (for the typed errors) or
// errors.Is against the exported sentinels.
package fault

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel values for errors.Is checks. The typed errors below all unwrap
// to one of these.
var (
	ErrNotFound = errors.New("not found")
	ErrConnect  = errors.New("connect failed")
	ErrTimeout  = errors.New("deadline exceeded")
	ErrProtocol = errors.New("protocol violation")
	ErrStorage  = errors.New("storage failure")
)

// NotFoundError reports an unknown CI, route, or message.
type NotFoundError struct {
	Kind string // "ci", "route", "message"
	Name string
}

func (e *NotFoundError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "ci"
	}
	return fmt.Sprintf("%s %q not found", kind, e.Name)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConnectError reports a failed dial to a CI endpoint.
type ConnectError struct {
	Endpoint string
	Address  string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s (%s): %v", e.Endpoint, e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error { return ErrConnect }

// TimeoutError reports a call that exceeded its deadline mid-flight.
type TimeoutError struct {
	Endpoint string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call to %s timed out after %s", e.Endpoint, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// ProtocolError reports a malformed frame on the wire.
type ProtocolError struct {
	Endpoint string
	Detail   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error from %s: %s", e.Endpoint, e.Detail)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

// StorageError reports a mailbox or route persistence failure.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return ErrStorage }
