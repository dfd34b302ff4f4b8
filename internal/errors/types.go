// Package errors carries the pipeline error taxonomy: sentinel failures for
// each stage, transient/permanent classification for the orchestrator's retry
// policy, and a bounded retry helper.
package errors

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Stage failure sentinels. Call sites wrap these with %w so handlers can
// classify without string matching.
var (
	// ErrEmptyAudio rejects a zero-length recording before any network call.
	ErrEmptyAudio = errors.New("empty audio payload")

	// ErrTranscriptionUnavailable marks a transport or auth failure talking to
	// the speech-to-text engine. The user must re-record; there is no retry loop.
	ErrTranscriptionUnavailable = errors.New("transcription engine unavailable")

	// ErrExtractionMalformed marks a model response that could not be parsed
	// even after repair. The extraction stage recovers with the keyword
	// fallback, so this never surfaces as a hard failure.
	ErrExtractionMalformed = errors.New("extraction response malformed")

	// ErrDurablePersistFailed marks a task or scheduled-action write failure.
	ErrDurablePersistFailed = errors.New("durable persist failed")

	// ErrSweepRowFailed marks one due action that broke mid-sweep. The row is
	// marked failed and the sweep continues.
	ErrSweepRowFailed = errors.New("sweep row failed")

	// ErrOptimisticWriteFailed marks a durable write behind an optimistic
	// mutation. The mutation rolls back; other pending mutations are
	// unaffected.
	ErrOptimisticWriteFailed = errors.New("optimistic write failed")
)

// TransientError wraps an error that is worth retrying.
type TransientError struct {
	Err        error
	StatusCode int // HTTP status code if applicable
	RetryAfter int // seconds, from a Retry-After header when present
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError wraps an error that must not be retried.
type PermanentError struct {
	Err        error
	StatusCode int
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient reports whether an error is worth retrying.
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

	if isNetworkError(err) {
		return true
	}
	if code := httpStatusCode(err); code > 0 {
		return isTransientHTTPStatus(code)
	}
	return false
}

// HTTPError carries a non-2xx response from an external engine.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

func httpStatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

func isTransientHTTPStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return code >= 500 && code != http.StatusNotImplemented
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{"connection refused", "connection reset", "no such host", "i/o timeout", "TLS handshake timeout"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
