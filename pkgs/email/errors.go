package email

import (
	"errors"
	"fmt"
)

// ErrIdleTimeout is returned by a watch cycle whose idle wait timed out,
// unless WatchOptions.TolerateTimeout is set.
var ErrIdleTimeout = errors.New("idle timed out")

// ConnectionError reports a failure while establishing a session. No session
// is held when it is returned.
type ConnectionError struct {
	Stage   string // "connect", "authenticate" or "select"
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// UnexpectedResponseError is returned when an idle wait ended with neither a
// timeout nor a change notification.
type UnexpectedResponseError struct {
	Status  IdleStatus
	Payload string
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("unexpected idle response (%s): %q", e.Status, e.Payload)
}

// MalformedMessageError is returned by a Parser when a required header is
// missing.
type MalformedMessageError struct {
	Field string
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed message: missing %s header", e.Field)
}

// IsConnectionError reports whether err (or any error in its chain) is a
// ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}
