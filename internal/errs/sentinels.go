// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Common sentinels across gateway/session/chat layers.
var (
	// ErrUnauthorized indicates the credential is invalid or expired and could not be refreshed.
	// Callers must treat it as "force re-login".
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates the server throttled the request. Never auto-retried.
	ErrRateLimited = errors.New("rate limited")

	// ErrNetwork indicates no HTTP response was received at all.
	ErrNetwork = errors.New("network error")

	// ErrValidation indicates caller-supplied input was rejected before or by dispatch.
	ErrValidation = errors.New("validation failed")

	// ErrServer indicates a non-2xx response not covered by a more specific sentinel.
	ErrServer = errors.New("server error")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrGatePending indicates a sensitive-content gate is awaiting resolution.
	ErrGatePending = errors.New("send gate pending")
)

// RateLimitError carries the server-advised backoff for a throttled request.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// StatusError is a non-2xx HTTP response mapped onto the sentinel taxonomy.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("http %d", e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Detail)
}

func (e *StatusError) Is(target error) bool {
	switch e.Code {
	case 400, 422:
		return target == ErrValidation
	case 404:
		return target == ErrNotFound
	}
	return target == ErrServer
}
