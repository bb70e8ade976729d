package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel kinds for store errors. Backends wrap one of these so callers can
// classify with errors.Is.
var (
	// ErrNotFound means the document does not exist yet; recoverable by provisioning.
	ErrNotFound = errors.New("document not found")
	// ErrConflict means the revision changed since it was read; retry the cycle.
	ErrConflict = errors.New("revision conflict")
	// ErrTransient covers timeouts, connection failures and 5xx/429 responses.
	ErrTransient = errors.New("transient store error")
	// ErrFatal covers rejected credentials, malformed content and anything
	// else that retrying cannot fix.
	ErrFatal = errors.New("fatal store error")
)

// Retryable reports whether err is worth another fetch/transform/write cycle.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrTransient)
}

// Kind returns a short label for err suitable for metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrFatal):
		return "fatal"
	default:
		return "unknown"
	}
}

// ClassifyTransport wraps an error raised while talking to a backend.
// A canceled context is returned as-is so callers stop retrying; every other
// transport failure is transient.
func ClassifyTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
}

// ClassifyStatus maps an unexpected HTTP status to an error kind. A 422 is
// fatal here; backends that use it to report a lost create race map it
// themselves.
func ClassifyStatus(op string, status int, body string) error {
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w (status %d)", op, ErrNotFound, status)
	case status == http.StatusConflict, status == http.StatusPreconditionFailed:
		return fmt.Errorf("%s: %w (status %d): %s", op, ErrConflict, status, body)
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= http.StatusInternalServerError:
		return fmt.Errorf("%s: %w (status %d): %s", op, ErrTransient, status, body)
	default:
		return fmt.Errorf("%s: %w (status %d): %s", op, ErrFatal, status, body)
	}
}
