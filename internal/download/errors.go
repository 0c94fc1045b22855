package download

import (
	"errors"
	"fmt"
)

// Sentinel errors for download operations.
// Use errors.Is() to check for specific error conditions.
var (
	// ErrChecksumMismatch indicates downloaded data failed SHA-256 verification.
	ErrChecksumMismatch = errors.New("download: checksum verification failed")

	// ErrCancelled indicates the download was cancelled via Cancel().
	// It is an expected outcome, not a system fault.
	ErrCancelled = errors.New("download: cancelled")

	// ErrAlreadyActive indicates a download with the same name is in flight.
	ErrAlreadyActive = errors.New("download: already in progress")

	// ErrRetriesExhausted indicates every configured attempt failed with
	// a retryable transport error. It wraps the last such error.
	ErrRetriesExhausted = errors.New("download: retries exhausted")
)

// StatusError reports a terminal non-2xx HTTP response. The server has
// stated the file is unavailable, so the manager never retries these.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download: %s returned status %d", e.URL, e.Code)
}

// IsStatusError reports whether err carries a terminal HTTP status.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

// IsCancelled reports whether err indicates a cooperative cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
