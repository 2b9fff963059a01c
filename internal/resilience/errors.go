package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sells-group/catalog-sync/internal/model"
)

// FetchError is the closed error variant for retrieval failures. Every
// failure mode the fetcher can hit maps onto exactly one code, and callers
// branch on the Retryable/Blocked flags rather than string matching.
type FetchError struct {
	Code       string
	StatusCode int
	Location   string
	Retryable  bool
	Blocked    bool
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: http %d from %s", e.Code, e.StatusCode, e.Location)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Location, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Location)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// JobError converts the fetch error into the structured form persisted on
// job documents.
func (e *FetchError) JobError() *model.JobError {
	return &model.JobError{
		Message:   e.Error(),
		Code:      e.Code,
		Retryable: e.Retryable,
		Blocked:   e.Blocked,
	}
}

// NewBlocked reports an access-denial response (403/429). Blocked errors
// abort the whole fetch sequence; retrying without intervention is useless.
func NewBlocked(location string, statusCode int) *FetchError {
	return &FetchError{
		Code:       model.CodeBlocked,
		StatusCode: statusCode,
		Location:   location,
		Retryable:  false,
		Blocked:    true,
	}
}

// NewServerError reports a 5xx response, safe to retry with backoff.
func NewServerError(location string, statusCode int) *FetchError {
	return &FetchError{
		Code:       model.CodeServerError,
		StatusCode: statusCode,
		Location:   location,
		Retryable:  true,
	}
}

// NewTimeout reports a request that exceeded the configured deadline.
func NewTimeout(location string, err error) *FetchError {
	return &FetchError{
		Code:      model.CodeTimeout,
		Location:  location,
		Retryable: true,
		Err:       err,
	}
}

// NewNetworkError reports a transport-level failure.
func NewNetworkError(location string, err error) *FetchError {
	return &FetchError{
		Code:      model.CodeNetworkError,
		Location:  location,
		Retryable: true,
		Err:       err,
	}
}

// NewHTTPError reports any other non-success status. The location is
// skipped; the rest of the sequence continues.
func NewHTTPError(location string, statusCode int) *FetchError {
	return &FetchError{
		Code:       model.CodeHTTPError,
		StatusCode: statusCode,
		Location:   location,
		Retryable:  false,
	}
}

// ClassifyStatus maps a non-2xx status code to its FetchError. 403 and 429
// are blocks, not transient rate-limit noise: the pipeline stands down
// instead of hammering a host that told it to go away.
func ClassifyStatus(location string, statusCode int) *FetchError {
	switch {
	case statusCode == 403 || statusCode == 429:
		return NewBlocked(location, statusCode)
	case statusCode >= 500:
		return NewServerError(location, statusCode)
	default:
		return NewHTTPError(location, statusCode)
	}
}

// ClassifyTransport maps a transport error (client.Do failure) to its
// FetchError, distinguishing timeouts from other network failures.
func ClassifyTransport(location string, err error) *FetchError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTimeout(location, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeout(location, err)
	}
	return NewNetworkError(location, err)
}

// IsRetryable reports whether the error chain contains a retryable FetchError.
func IsRetryable(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Retryable
}

// IsBlocked reports whether the error chain contains a blocked FetchError.
func IsBlocked(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Blocked
}

// AsFetchError extracts the FetchError from an error chain, or nil.
func AsFetchError(err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return nil
}
