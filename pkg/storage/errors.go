package storage

import (
	"errors"
	"fmt"
)

// Sentinel errors for driver operations.
var (
	// ErrNotFound indicates the requested entry does not exist.
	ErrNotFound = errors.New("entry not found")

	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrThrottled indicates the request was rate limited by the store.
	ErrThrottled = errors.New("request throttled")

	// ErrUnavailable indicates the storage service is unavailable.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrFormat indicates a response payload that violates the documented
	// format (e.g. a credential response missing a required field).
	ErrFormat = errors.New("format violation")

	// ErrProtocol indicates the store returned a structurally invalid
	// payload. This is a defect in the server contract, not a condition
	// callers are expected to recover from.
	ErrProtocol = errors.New("protocol violation")
)

// DriverError wraps driver-specific errors with operation context.
type DriverError struct {
	// Op is the operation that failed (e.g. "GET", "List").
	Op string

	// Driver is the driver type (e.g. "azure").
	Driver DriverType

	// Container is the container or bucket name, if applicable.
	Container string

	// Key is the entry name or request path, if applicable.
	Key string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *DriverError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s %s: %s/%s: %v", e.Driver, e.Op, e.Container, e.Key, e.Err)
	}
	if e.Container != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Driver, e.Op, e.Container, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Driver, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *DriverError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates an entry was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsThrottled returns true if the error indicates the request was rate limited.
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}

// IsUnavailable returns true if the error indicates the service is unavailable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsFormat returns true if the error indicates a malformed response payload.
func IsFormat(err error) bool {
	return errors.Is(err, ErrFormat)
}

// IsProtocol returns true if the error indicates a server contract violation.
func IsProtocol(err error) bool {
	return errors.Is(err, ErrProtocol)
}
