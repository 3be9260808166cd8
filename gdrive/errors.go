package gdrive

import (
	"context"
	"errors"
	"net"
	"net/url"

	"google.golang.org/api/googleapi"
)

// Store errors. Callers match with errors.Is; implementations wrap these
// with context via fmt.Errorf("...: %w", err).
var (
	// ErrNotFound indicates the remote item does not exist.
	ErrNotFound = errors.New("item not found")

	// ErrPermissionDenied indicates the remote store rejected access.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrConflict indicates a revision precondition failed on upload.
	ErrConflict = errors.New("revision conflict")

	// ErrRateLimited indicates the remote quota was exceeded. Retryable.
	ErrRateLimited = errors.New("rate limited")

	// ErrNetworkUnavailable indicates a transport-level failure. Retryable.
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrUnsupportedContent indicates a native document cannot accept the
	// written byte form.
	ErrUnsupportedContent = errors.New("unsupported content")

	// ErrUnsupportedOperation indicates the remote store cannot model the
	// requested operation.
	ErrUnsupportedOperation = errors.New("unsupported operation")
)

// IsRetryable reports whether an error is transient and worth retrying
// with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrNetworkUnavailable)
}

// rateLimitReasons are the googleapi error reasons Drive uses to signal
// throttling on a 403 status.
var rateLimitReasons = map[string]bool{
	"userRateLimitExceeded": true,
	"rateLimitExceeded":     true,
	"dailyLimitExceeded":    true,
}

// mapError translates errors from the Drive API into the store error
// taxonomy. Context cancellation passes through untouched so callers can
// distinguish it from remote failures.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 404:
			return ErrNotFound
		case 429:
			return ErrRateLimited
		case 403:
			// Drive reports most throttling as 403 with a reason code,
			// not as 429.
			for _, e := range apiErr.Errors {
				if rateLimitReasons[e.Reason] {
					return ErrRateLimited
				}
			}
			return ErrPermissionDenied
		case 401:
			return ErrPermissionDenied
		case 409, 412:
			return ErrConflict
		}
		if apiErr.Code >= 500 {
			return ErrNetworkUnavailable
		}
		return err
	}

	// Transport-level failures: DNS, connection resets, timeouts.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrNetworkUnavailable
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrNetworkUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrNetworkUnavailable
	}

	return err
}
