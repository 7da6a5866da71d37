// Package gerpgo implements the client for the Gerpgo ERP aggregator API:
// token lifecycle, retry/backoff classification, and cursor pagination.
package gerpgo

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an upstream failure for callers that need to decide
// between surfacing, retrying, and giving up.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindAuth           ErrorKind = "auth"
	KindRateLimited    ErrorKind = "rate_limited"
	KindTransient      ErrorKind = "transient"
	KindRetryExhausted ErrorKind = "retry_exhausted"
	KindFatal          ErrorKind = "fatal"
)

// APIError is the terminal error surfaced by the client. Attempts counts
// requests actually sent, so RetryExhausted carries 1 + maxRetries.
type APIError struct {
	Kind       ErrorKind
	Endpoint   string
	StatusCode int
	Attempts   int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("gerpgo %s: %s (%s, HTTP %d)", e.Endpoint, msg, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("gerpgo %s: %s (%s)", e.Endpoint, msg, e.Kind)
}

func (e *APIError) Unwrap() error { return e.Err }

// KindOf extracts the classification from an error chain, or KindFatal for
// errors the client did not produce.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindFatal
}

// IsRetryExhausted reports whether a retryable condition never resolved
// within the retry budget, as opposed to the provider rejecting the request
// outright.
func IsRetryExhausted(err error) bool {
	return KindOf(err) == KindRetryExhausted
}

// IsAuthFailure reports a failed token exchange or repeated 401.
func IsAuthFailure(err error) bool {
	return KindOf(err) == KindAuth
}
