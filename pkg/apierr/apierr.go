package apierr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an upstream API failure. The subscription engine's retry
// policy keys off this classification rather than raw status codes.
type Kind string

const (
	KindAuth        Kind = "auth"
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindRateLimited Kind = "rate_limited"
	KindServer      Kind = "server"
	KindNetwork     Kind = "network"
	KindOther       Kind = "other"
)

// APIError is a structured error returned by the HTTP layer.
type APIError struct {
	Kind       Kind
	StatusCode int
	Message    string
	// RetryAfter carries the server-provided retry hint for rate-limited
	// responses. Zero when the server gave none.
	RetryAfter time.Duration
	// Data holds the decoded error response body, when the server sent one.
	Data map[string]any
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("api error (%s, status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error (%s): %s", e.Kind, e.Message)
}

// New creates an APIError without an HTTP status (e.g. network failures).
func New(kind Kind, message string) *APIError {
	return &APIError{Kind: kind, Message: message}
}

// FromStatus maps an HTTP status code to the error taxonomy.
func FromStatus(status int, message string) *APIError {
	e := &APIError{StatusCode: status, Message: message}
	switch {
	case status == 401 || status == 403:
		e.Kind = KindAuth
	case status == 400 || status == 422:
		e.Kind = KindValidation
	case status == 404:
		e.Kind = KindNotFound
	case status == 429:
		e.Kind = KindRateLimited
	case status >= 500:
		e.Kind = KindServer
	default:
		e.Kind = KindOther
	}
	return e
}

// KindOf extracts the Kind from err, or KindOther if err is not an APIError.
func KindOf(err error) Kind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindOther
}

// RetryAfterOf returns the server-provided retry hint carried by err, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Kind == KindRateLimited && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter, true
	}
	return 0, false
}

// IsAuth reports whether err is an authentication/authorization failure.
func IsAuth(err error) bool {
	return KindOf(err) == KindAuth
}
