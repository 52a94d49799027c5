package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"explicit transient error", NewTransientError(errors.New("test"), "transient"), true},
		{"explicit permanent error", NewPermanentError(errors.New("test"), "permanent"), false},
		{"rate limit 429", fmt.Errorf("API error 429: rate limit exceeded"), true},
		{"server error 500", fmt.Errorf("HTTP 500: internal server error"), true},
		{"server error 502", fmt.Errorf("status 502 bad gateway"), true},
		{"service unavailable 503", fmt.Errorf("error 503 service unavailable"), true},
		{"timeout", fmt.Errorf("context deadline exceeded"), true},
		{"connection refused", fmt.Errorf("dial tcp 127.0.0.1:8080: connect: connection refused"), true},
		{"unauthorized 401", fmt.Errorf("HTTP 401: unauthorized"), false},
		{"not found 404", fmt.Errorf("HTTP 404: not found"), false},
		{"bad request 400", fmt.Errorf("HTTP 400: bad request"), false},
		{"plain error", errors.New("something else entirely"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.expected {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"explicit permanent error", NewPermanentError(errors.New("test"), "permanent"), true},
		{"explicit transient error", NewTransientError(errors.New("test"), "transient"), false},
		{"unauthorized text", errors.New("request unauthorized"), true},
		{"permission denied", errors.New("permission denied for path"), true},
		{"http 403", fmt.Errorf("HTTP 403: forbidden"), true},
		{"plain error", errors.New("flaky thing happened"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.expected {
				t.Errorf("IsPermanent(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestGetErrorType(t *testing.T) {
	degraded := NewDegradedError(errors.New("open"), "breaker open", "fallback")
	if got := GetErrorType(degraded); got != ErrorTypeDegraded {
		t.Errorf("GetErrorType(degraded) = %v, want ErrorTypeDegraded", got)
	}
	if got := GetErrorType(NewTransientError(errors.New("x"), "")); got != ErrorTypeTransient {
		t.Errorf("GetErrorType(transient) = %v, want ErrorTypeTransient", got)
	}
	if got := GetErrorType(errors.New("unclassified")); got != ErrorTypePermanent {
		t.Errorf("GetErrorType(unclassified) = %v, want ErrorTypePermanent", got)
	}
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("inner")
	wrapped := NewTransientError(inner, "outer message")
	if !errors.Is(wrapped, inner) {
		t.Error("TransientError does not unwrap to the inner error")
	}
}

func TestExtractHTTPStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("API error 429: too many requests"), 429},
		{fmt.Errorf("HTTP 500: boom"), 500},
		{&TransientError{Err: errors.New("x"), StatusCode: 503}, 503},
		{errors.New("no code here"), 0},
	}
	for _, tt := range tests {
		if got := extractHTTPStatusCode(tt.err); got != tt.want {
			t.Errorf("extractHTTPStatusCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
