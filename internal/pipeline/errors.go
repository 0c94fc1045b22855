package pipeline

import "errors"

// notReadyError signals an operation invoked before a package is
// downloaded and loaded, for 409 mapping.
type notReadyError struct{}

func (notReadyError) Error() string {
	return "pipeline: package not ready: download a package tier first"
}

// ErrNotReady constructs a notReadyError.
func ErrNotReady() error { return notReadyError{} }

// IsNotReady reports whether err indicates the pipeline cannot answer yet.
func IsNotReady(err error) bool {
	var e notReadyError
	return errors.As(err, &e)
}

// busyError signals an already-running package download for 429 mapping.
type busyError struct{ tier string }

func (e busyError) Error() string { return "pipeline: download already running: " + e.tier }

// ErrBusy constructs a busyError for the named tier.
func ErrBusy(tier string) error { return busyError{tier: tier} }

// IsBusy reports whether err indicates a concurrent package download.
func IsBusy(err error) bool {
	var e busyError
	return errors.As(err, &e)
}

// tierNotFoundError is returned when a requested tier is not in the manifest.
type tierNotFoundError struct{ tier string }

func (e tierNotFoundError) Error() string { return "pipeline: unknown package tier: " + e.tier }

// ErrTierNotFound constructs a tierNotFoundError.
func ErrTierNotFound(tier string) error { return tierNotFoundError{tier: tier} }

// IsTierNotFound reports whether the error indicates a missing tier.
func IsTierNotFound(err error) bool {
	var e tierNotFoundError
	return errors.As(err, &e)
}

// invalidRequestError is returned for malformed answer requests.
type invalidRequestError struct{ msg string }

func (e invalidRequestError) Error() string { return "pipeline: " + e.msg }

// IsInvalidRequest reports whether err indicates a caller-side request defect.
func IsInvalidRequest(err error) bool {
	var e invalidRequestError
	return errors.As(err, &e)
}
