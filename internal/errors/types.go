// Package errors classifies failures from external dependencies (LLM
// providers, the pattern store, MCP peers) into transient, permanent and
// degraded categories, and provides the retry and circuit-breaker machinery
// built on that classification.
package errors

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"syscall"
)

// ErrorType represents the classification of errors for retry logic.
type ErrorType int

const (
	// ErrorTypeTransient - retry-able errors
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent - non-retry-able errors
	ErrorTypePermanent
	// ErrorTypeDegraded - can continue with reduced functionality
	ErrorTypeDegraded
)

// TransientError represents an error that can be retried.
type TransientError struct {
	Err        error
	StatusCode int    // HTTP status code if applicable
	Message    string // human-readable summary
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError represents an error that should not be retried.
type PermanentError struct {
	Err        error
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// DegradedError represents an error where the caller can continue with
// reduced functionality, e.g. an open circuit breaker.
type DegradedError struct {
	Err      error
	Fallback string // alternative content to use, when any
	Message  string
}

func (e *DegradedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("degraded error: %v", e.Err)
}

func (e *DegradedError) Unwrap() error { return e.Err }

// IsTransient reports whether an error is retry-able.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return true
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return false
	}

	if isNetworkError(err) || isSyscallError(err) {
		return true
	}
	if code := extractHTTPStatusCode(err); code > 0 {
		return isTransientHTTPStatus(code)
	}
	return false
}

// IsPermanent reports whether an error should never be retried.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return true
	}
	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return false
	}

	if code := extractHTTPStatusCode(err); code > 0 {
		return isPermanentHTTPStatus(code)
	}

	lowerErr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"not found",
		"permission denied",
		"invalid",
		"unauthorized",
		"forbidden",
		"bad request",
	} {
		if strings.Contains(lowerErr, pattern) {
			return true
		}
	}
	return false
}

// IsDegraded reports whether an error allows degraded operation.
func IsDegraded(err error) bool {
	var degradedErr *DegradedError
	return errors.As(err, &degradedErr)
}

// GetErrorType classifies an error.
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}
	if IsDegraded(err) {
		return ErrorTypeDegraded
	}
	if IsTransient(err) {
		return ErrorTypeTransient
	}
	// Default to permanent to avoid infinite retries.
	return ErrorTypePermanent
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}

	lowerErr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"timeout",
		"deadline exceeded",
		"no such host",
	} {
		if strings.Contains(lowerErr, pattern) {
			return true
		}
	}
	return false
}

func isSyscallError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	return false
}

func isTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isPermanentHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusMethodNotAllowed,
		http.StatusConflict,
		http.StatusGone,
		http.StatusUnprocessableEntity:
		return true
	}
	return false
}

var httpStatusPattern = regexp.MustCompile(`(?i)(?:status|http|error)\s*(\d{3})\b|\b(4\d\d|5\d\d)\b`)

func extractHTTPStatusCode(err error) int {
	var transientErr *TransientError
	if errors.As(err, &transientErr) && transientErr.StatusCode > 0 {
		return transientErr.StatusCode
	}
	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) && permanentErr.StatusCode > 0 {
		return permanentErr.StatusCode
	}

	match := httpStatusPattern.FindStringSubmatch(err.Error())
	if match == nil {
		return 0
	}
	raw := match[1]
	if raw == "" {
		raw = match[2]
	}
	code, convErr := strconv.Atoi(raw)
	if convErr != nil || code < 100 || code > 599 {
		return 0
	}
	return code
}

// Helper constructors

// NewTransientError marks err as retry-able with a human-readable message.
func NewTransientError(err error, message string) *TransientError {
	return &TransientError{Err: err, Message: message}
}

// NewPermanentError marks err as non-retry-able with a human-readable message.
func NewPermanentError(err error, message string) *PermanentError {
	return &PermanentError{Err: err, Message: message}
}

// NewDegradedError marks err as degradable with optional fallback content.
func NewDegradedError(err error, message, fallback string) *DegradedError {
	return &DegradedError{Err: err, Message: message, Fallback: fallback}
}
