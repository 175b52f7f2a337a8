package tier

import (
	"errors"
	"fmt"
)

// ErrorKind classifies backend failures for retry decisions.
type ErrorKind string

const (
	// KindNotFound: the record or object does not exist. Terminal.
	KindNotFound ErrorKind = "NOT_FOUND"

	// KindThrottled: the backend signalled capacity exhaustion
	// (rate limit, provisioned throughput exceeded). Retry after backing off.
	KindThrottled ErrorKind = "THROTTLED"

	// KindUnavailable: timeout, connection failure or other transient fault.
	KindUnavailable ErrorKind = "UNAVAILABLE"
)

// Sentinel errors for errors.Is matching. An *Error matches the sentinel of
// its kind.
var (
	ErrNotFound    = errors.New("not found")
	ErrThrottled   = errors.New("throttled")
	ErrUnavailable = errors.New("unavailable")
)

// Error is returned by adapters for classified backend failures.
type Error struct {
	// Backend names the adapter ("sqlite", "dynamodb", "badger", "gcs", ...).
	Backend string

	// Op is the failing operation ("get", "put", "delete", "exists", "scan").
	Op string

	// Name is the record key or object name involved, if any.
	Name string

	Kind ErrorKind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s", e.Backend, e.Op)
	if e.Name != "" {
		msg += " " + e.Name
	}
	msg += ": " + string(e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying backend error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrThrottled:
		return e.Kind == KindThrottled
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	}
	return false
}

// NotFound builds a KindNotFound error.
func NotFound(backend, op, name string) *Error {
	return &Error{Backend: backend, Op: op, Name: name, Kind: KindNotFound}
}

// Throttled builds a KindThrottled error wrapping err.
func Throttled(backend, op, name string, err error) *Error {
	return &Error{Backend: backend, Op: op, Name: name, Kind: KindThrottled, Err: err}
}

// Unavailable builds a KindUnavailable error wrapping err.
func Unavailable(backend, op, name string, err error) *Error {
	return &Error{Backend: backend, Op: op, Name: name, Kind: KindUnavailable, Err: err}
}

// IsNotFound returns true if err is a not-found error.
// Uses errors.Is to handle wrapped errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsThrottled returns true if the backend signalled capacity exhaustion.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}
