// Package domain provides the canonical types shared by the relay proxy and
// the streaming query client.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind categorizes a relay failure.
type ErrorKind string

const (
	// ErrKindConfigMissing indicates required server configuration is absent.
	ErrKindConfigMissing ErrorKind = "config_missing"

	// ErrKindInvalidRequest indicates a malformed client request.
	ErrKindInvalidRequest ErrorKind = "invalid_request"

	// ErrKindUpstreamUnreachable indicates the upstream call failed at the
	// network level.
	ErrKindUpstreamUnreachable ErrorKind = "upstream_unreachable"

	// ErrKindUpstreamHTTP indicates the upstream returned a non-2xx status.
	ErrKindUpstreamHTTP ErrorKind = "upstream_http_error"

	// ErrKindDecode indicates a malformed or truncated response body.
	ErrKindDecode ErrorKind = "decode_error"

	// ErrKindTimeout indicates the turn exceeded its wall-clock budget.
	ErrKindTimeout ErrorKind = "timeout"

	// ErrKindAborted indicates the caller cancelled the turn. Distinct from
	// the failure kinds so UIs can tell "you stopped it" from "it broke".
	ErrKindAborted ErrorKind = "aborted"
)

// RelayError is the canonical error surfaced by the relay proxy and the
// streaming query client. It carries the correlation id of the turn that
// produced it so callers can report it without exposing internals.
type RelayError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	CorrID  string    `json:"corr_id,omitempty"`

	// Status is the upstream HTTP status for upstream_http_error, zero
	// otherwise.
	Status int `json:"status,omitempty"`
}

func (e *RelayError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// HTTPStatusCode returns the status the relay responds with for this error.
func (e *RelayError) HTTPStatusCode() int {
	switch e.Kind {
	case ErrKindInvalidRequest:
		return http.StatusBadRequest
	case ErrKindUpstreamUnreachable:
		return http.StatusBadGateway
	case ErrKindUpstreamHTTP:
		if e.Status != 0 {
			return e.Status
		}
		return http.StatusBadGateway
	case ErrKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WithCorrID attaches the turn's correlation id.
func (e *RelayError) WithCorrID(corrID string) *RelayError {
	e.CorrID = corrID
	return e
}

// WithStatus records the upstream HTTP status.
func (e *RelayError) WithStatus(status int) *RelayError {
	e.Status = status
	return e
}

// NewRelayError creates a relay error of the given kind.
func NewRelayError(kind ErrorKind, message string) *RelayError {
	return &RelayError{Kind: kind, Message: message}
}

// ErrConfigMissing creates a missing-configuration error.
func ErrConfigMissing(message string) *RelayError {
	return NewRelayError(ErrKindConfigMissing, message)
}

// ErrInvalidRequest creates an invalid-request error.
func ErrInvalidRequest(message string) *RelayError {
	return NewRelayError(ErrKindInvalidRequest, message)
}

// ErrUpstreamUnreachable creates a network-level upstream failure.
func ErrUpstreamUnreachable(message string) *RelayError {
	return NewRelayError(ErrKindUpstreamUnreachable, message)
}

// ErrUpstreamHTTP creates an upstream non-2xx error.
func ErrUpstreamHTTP(status int, message string) *RelayError {
	return NewRelayError(ErrKindUpstreamHTTP, message).WithStatus(status)
}

// ErrDecode creates a decode error.
func ErrDecode(message string) *RelayError {
	return NewRelayError(ErrKindDecode, message)
}

// ErrTimeout creates a turn-timeout error.
func ErrTimeout(message string) *RelayError {
	return NewRelayError(ErrKindTimeout, message)
}

// ToRelayError converts any error to a *RelayError. Errors that already are
// one pass through unchanged; everything else becomes upstream_unreachable.
func ToRelayError(err error) *RelayError {
	var relayErr *RelayError
	if errors.As(err, &relayErr) {
		return relayErr
	}
	return ErrUpstreamUnreachable(err.Error())
}
