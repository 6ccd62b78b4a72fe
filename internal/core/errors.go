package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies a request-fatal proxy error.
type ErrorType string

const (
	// ErrorTypeDomainRejected indicates the upstream host is not allowlisted (403).
	ErrorTypeDomainRejected ErrorType = "domain_rejected"
	// ErrorTypeInjectionDetected indicates the payload matched a blocked
	// prompt-injection pattern (400).
	ErrorTypeInjectionDetected ErrorType = "injection_detected"
	// ErrorTypeUpstreamUnavailable indicates a network error or timeout
	// talking to the provider (502).
	ErrorTypeUpstreamUnavailable ErrorType = "upstream_unavailable"
	// ErrorTypeInvalidRequest indicates a malformed client request (400).
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	// ErrorTypeAuthentication indicates a missing or invalid proxy key (401).
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeInternal indicates an unexpected failure (500). The message
	// must never contain raw or redacted payload content.
	ErrorTypeInternal ErrorType = "internal_error"
)

// ErrDetectionUnavailable signals that the detection backend has no usable
// implementation or is unreachable. It is a degradation marker, not a
// request-fatal error: redaction falls back to pass-through.
var ErrDetectionUnavailable = errors.New("pii detection unavailable")

// ProxyError is the base error type for all request-fatal gateway errors.
type ProxyError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface.
func (e *ProxyError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the HTTP status code for this error.
func (e *ProxyError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeDomainRejected:
		return http.StatusForbidden
	case ErrorTypeInjectionDetected, ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map for the response body.
func (e *ProxyError) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

// NewDomainRejectedError creates a domain allowlist rejection (403).
func NewDomainRejectedError(host string) *ProxyError {
	return &ProxyError{
		Type:       ErrorTypeDomainRejected,
		Message:    fmt.Sprintf("domain %q is not allowed", host),
		StatusCode: http.StatusForbidden,
	}
}

// NewInjectionDetectedError creates a prompt-injection rejection (400).
// The matched pattern is deliberately not echoed back.
func NewInjectionDetectedError() *ProxyError {
	return &ProxyError{
		Type:       ErrorTypeInjectionDetected,
		Message:    "potential prompt injection detected",
		StatusCode: http.StatusBadRequest,
	}
}

// NewUpstreamUnavailableError creates an upstream failure error (502).
func NewUpstreamUnavailableError(host string, err error) *ProxyError {
	return &ProxyError{
		Type:       ErrorTypeUpstreamUnavailable,
		Message:    fmt.Sprintf("upstream request to %s failed", host),
		StatusCode: http.StatusBadGateway,
		Err:        err,
	}
}

// NewInvalidRequestError creates a client error (400).
func NewInvalidRequestError(message string, err error) *ProxyError {
	return &ProxyError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// NewAuthenticationError creates an authentication error (401).
func NewAuthenticationError(message string) *ProxyError {
	return &ProxyError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// NewInternalError creates an internal error (500). The message is a fixed
// string so payload content can never leak through error responses.
func NewInternalError(err error) *ProxyError {
	return &ProxyError{
		Type:       ErrorTypeInternal,
		Message:    "an unexpected error occurred",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}
