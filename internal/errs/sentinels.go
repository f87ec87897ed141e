// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates a caller-supplied value failed a precondition.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAuthRequired indicates an operation needs an active session.
	ErrAuthRequired = errors.New("authentication required")

	// ErrInvalidCredentials indicates the backend rejected identifier/secret.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrConcurrentOperation indicates another exclusive auth operation is running.
	ErrConcurrentOperation = errors.New("operation already in progress")

	// ErrRateLimited indicates the caller exceeded its send quota.
	ErrRateLimited = errors.New("rate limited")

	// ErrUpstream matches any *UpstreamError.
	ErrUpstream = errors.New("upstream error")

	// ErrNetwork matches any *NetworkError.
	ErrNetwork = errors.New("network error")
)

// UpstreamError is a non-success answer from a remote service.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream status %d", e.Status)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Message)
}

// Is reports ErrUpstream for every status and ErrNotFound for 404.
func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrUpstream:
		return true
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

// Rejected reports whether the backend refused the request itself (bad
// credentials, expired token) rather than failing.
func (e *UpstreamError) Rejected() bool {
	return e.Status == http.StatusBadRequest ||
		e.Status == http.StatusUnauthorized ||
		e.Status == http.StatusForbidden
}

// NetworkError wraps a transport failure.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}
