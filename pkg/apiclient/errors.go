package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is the transport-level failure for a response outside the
// 2xx range.
type StatusError struct {
	// Method and URL identify the request.
	Method string
	URL    string
	// Response is the non-2xx response.
	Response *Response
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: request failed with status code %d", e.Method, e.URL, e.Response.Status)
}

// RequestConfig is the part of a failed request that is useful when
// diagnosing it.
type RequestConfig struct {
	Headers http.Header
	Method  string
	BaseURL string
	URL     string
	Data    any
}

// Error is the normalized form of any failed request. Status is zero when no
// response was received. Fields holds the top-level keys of a JSON error
// body.
type Error struct {
	// Message is the body's "message" field when present, otherwise the
	// transport error text.
	Message string
	// Status is the HTTP status code, or zero for network failures.
	Status int
	// Config describes the request.
	Config RequestConfig
	// Response is the received response, or nil for network failures.
	Response *Response
	// Fields are the keys of the JSON error body.
	Fields map[string]any
	// Err is the transport error that was normalized.
	Err error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d: %s", e.Config.Method, e.Config.URL, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Config.Method, e.Config.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Field returns a key from the JSON error body.
func (e *Error) Field(key string) (any, bool) {
	v, ok := e.Fields[key]
	return v, ok
}

// IsAPIError marks values produced by the client's error normalization.
func (e *Error) IsAPIError() bool {
	return true
}

// StatusCode extracts the HTTP status from an error returned by the client.
// It returns zero when the error carries no response.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Response.Status
	}
	return 0
}
