package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

type ErrorCategory string

const (
	ValidationError ErrorCategory = "validation"
	PullError       ErrorCategory = "pull"
	NotFoundError   ErrorCategory = "not_found"
	StatusError     ErrorCategory = "status"
	ResolutionError ErrorCategory = "resolution"
	NetworkError    ErrorCategory = "network"
	SystemError     ErrorCategory = "system"
)

// ErrNoMatchingPlatform is returned when a manifest list has no entry for the
// requested platform.
var ErrNoMatchingPlatform = errors.New("no manifest matches the requested platform")

type ScanError struct {
	Category   ErrorCategory
	Op         string // Operation that failed
	Image      string // Image reference (when applicable)
	StatusCode int    // HTTP status for not_found and status errors
	Cause      error  // Underlying error
}

func (e *ScanError) Error() string {
	if e.Image != "" {
		return fmt.Sprintf("%s failed for image %s: %v", e.Op, e.Image, e.Cause)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Cause)
}

func (e *ScanError) Unwrap() error { return e.Cause }

func NewValidationError(op, image string, cause error) *ScanError {
	return &ScanError{
		Category: ValidationError,
		Op:       op,
		Image:    image,
		Cause:    errors.Wrap(cause, op),
	}
}

func NewPullError(op, image string, cause error) *ScanError {
	return &ScanError{
		Category: PullError,
		Op:       op,
		Image:    image,
		Cause:    errors.Wrap(cause, op),
	}
}

func NewResolutionError(op, image string, cause error) *ScanError {
	return &ScanError{
		Category: ResolutionError,
		Op:       op,
		Image:    image,
		Cause:    errors.Wrap(cause, op),
	}
}

func NewNetworkError(op, image string, cause error) *ScanError {
	return &ScanError{
		Category: NetworkError,
		Op:       op,
		Image:    image,
		Cause:    errors.Wrap(cause, op),
	}
}

func NewSystemError(op, image string, cause error) *ScanError {
	return &ScanError{
		Category: SystemError,
		Op:       op,
		Image:    image,
		Cause:    errors.Wrap(cause, op),
	}
}

// NewHTTPError classifies a non-success response. 404 becomes a not_found
// error, everything else a status error carrying the code and body.
func NewHTTPError(op, image string, statusCode int, body []byte) *ScanError {
	category := StatusError
	cause := errors.Newf("unexpected status %d %s: %s", statusCode, http.StatusText(statusCode), string(body))
	if statusCode == http.StatusNotFound {
		category = NotFoundError
		cause = errors.Newf("404 %s", http.StatusText(statusCode))
	}
	return &ScanError{
		Category:   category,
		Op:         op,
		Image:      image,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// IsCategory reports whether err or any error it wraps is a ScanError of the
// given category.
func IsCategory(err error, category ErrorCategory) bool {
	var scanErr *ScanError
	if !errors.As(err, &scanErr) {
		return false
	}
	return scanErr.Category == category
}

// IsNoMatchingPlatform reports whether err means resolution found no manifest
// for the target platform.
func IsNoMatchingPlatform(err error) bool {
	return errors.Is(err, ErrNoMatchingPlatform)
}
