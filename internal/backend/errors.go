package backend

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by all engines and channels.
var (
	// ErrNotReady is returned when a query or subscription is attempted without a live connection.
	ErrNotReady = errors.New("backend connection not ready")

	// ErrTokenExpired signals the bearer token was rejected as expired. Callers
	// may force a token refresh and retry once.
	ErrTokenExpired = errors.New("token expired")

	// ErrUnauthorized signals the token was rejected for a reason other than expiry.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnavailable signals a transport or server failure.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrUnknownTable is returned when a query names a table the backend does not expose.
	ErrUnknownTable = errors.New("unknown table")
)

// QueryError carries the backend's machine-readable code alongside the mapped sentinel.
type QueryError struct {
	Code    string
	Message string
	Err     error
}

func (e *QueryError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("query failed: %s", e.Message)
	}
	return fmt.Sprintf("query failed [%s]: %s", e.Code, e.Message)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
