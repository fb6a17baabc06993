// Package resilience provides the pipeline failure taxonomy plus retry,
// polling, and circuit breaker primitives for external calls.
package resilience

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// ExtractionFailure is returned when the external OCR/LLM call itself
// errors. Callers skip the current item; the batch continues.
type ExtractionFailure struct {
	Contract string
	Err      error
}

func (e *ExtractionFailure) Error() string {
	return fmt.Sprintf("extraction failed for %s: %v", e.Contract, e.Err)
}

func (e *ExtractionFailure) Unwrap() error { return e.Err }

// ParseFailure is returned when the extraction call succeeds but the
// embedded structured block is absent or malformed. Item-skip, not abort.
type ParseFailure struct {
	Contract string
	Reason   string
}

func (e *ParseFailure) Error() string {
	return fmt.Sprintf("parse failed for %s: %s", e.Contract, e.Reason)
}

// AuthenticationFailure is returned when the login sequence against a
// backend system fails. Recurring failures for one identity disable
// remote fetches for that identity for the rest of the run.
type AuthenticationFailure struct {
	Identity string
	Err      error
}

func (e *AuthenticationFailure) Error() string {
	return fmt.Sprintf("authentication failed for system %s: %v", e.Identity, e.Err)
}

func (e *AuthenticationFailure) Unwrap() error { return e.Err }

// FetchTimeout is returned when a remote navigation step exceeds its wait
// budget.
type FetchTimeout struct {
	Identity  string
	SearchKey string
	Step      string
	Attempts  int
	Interval  time.Duration
}

func (e *FetchTimeout) Error() string {
	return fmt.Sprintf("fetch timed out for %q on %s at step %s after %d attempts (%s interval)",
		e.SearchKey, e.Identity, e.Step, e.Attempts, e.Interval)
}

// FetchNotFound is returned when an expected UI affordance is absent:
// no matching result row, no record view opened.
type FetchNotFound struct {
	Identity  string
	SearchKey string
	What      string
}

func (e *FetchNotFound) Error() string {
	return fmt.Sprintf("fetch found no %s for %q on %s", e.What, e.SearchKey, e.Identity)
}

// Failure kind labels for the batch summary.
const (
	KindExtraction = "extraction_failure"
	KindParse      = "parse_failure"
	KindAuth       = "authentication_failure"
	KindTimeout    = "fetch_timeout"
	KindNotFound   = "fetch_not_found"
	KindStore      = "store_failure"
	KindOther      = "error"
)

// FailureKind maps an error chain to its summary bucket.
func FailureKind(err error) string {
	var (
		ef *ExtractionFailure
		pf *ParseFailure
		af *AuthenticationFailure
		ft *FetchTimeout
		fn *FetchNotFound
	)
	switch {
	case errors.As(err, &ef):
		return KindExtraction
	case errors.As(err, &pf):
		return KindParse
	case errors.As(err, &af):
		return KindAuth
	case errors.As(err, &ft):
		return KindTimeout
	case errors.As(err, &fn):
		return KindNotFound
	default:
		return KindOther
	}
}

// IsAuthFailure reports whether the error chain contains an
// AuthenticationFailure.
func IsAuthFailure(err error) bool {
	var af *AuthenticationFailure
	return errors.As(err, &af)
}

// TransientError wraps an error that is safe to retry (429, 5xx, network
// timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps an error as transient with an optional HTTP
// status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient reports whether the error chain contains a TransientError
// or matches common network-level transient patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Wrapped HTTP client errors only surface as strings.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus reports whether the status code indicates a
// retryable server-side condition.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
