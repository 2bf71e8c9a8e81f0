package fetch

import (
	"errors"
	"fmt"
)

// Error classifies a failed fetch so callers can decide on retry and logging.
type Error struct {
	URL     string
	Status  int    // HTTP status, 0 for transport-level failures
	Snippet string // response body prefix, only captured for 4xx
	Timeout bool
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("fetch %s: timeout: %v", e.URL, e.Err)
	case e.Status >= 400 && e.Status < 500:
		return fmt.Sprintf("fetch %s: client error %d: %s", e.URL, e.Status, e.Snippet)
	case e.Status >= 500:
		return fmt.Sprintf("fetch %s: server error %d", e.URL, e.Status)
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a timeout-classified fetch error.
func IsTimeout(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Timeout
}

// IsClientError reports whether err is a 4xx fetch error, which is permanent
// for this request and never retried.
func IsClientError(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Status >= 400 && fe.Status < 500
}

// IsServerError reports whether err is a 5xx fetch error.
func IsServerError(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Status >= 500
}
