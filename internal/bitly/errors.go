package bitly

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMissingToken is returned when no access token is configured.
	ErrMissingToken = errors.New("bitly: access token is not configured")
)

const statusRateLimitExceeded = "RATE_LIMIT_EXCEEDED"

// APIError is an error reported by the bitly API, either in the response
// envelope or as a bare HTTP status.
type APIError struct {
	StatusCode int
	StatusText string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bitly: %d %s", e.StatusCode, e.StatusText)
}

// ErrorKind groups API errors by how a caller should react to them.
type ErrorKind int

const (
	// KindUnknown errors are not retried.
	KindUnknown ErrorKind = iota
	// KindRateLimited means the service is overloaded and the call can be
	// retried almost immediately.
	KindRateLimited
	// KindQuotaExceeded means the account ran out of calls for the current
	// window and the caller should back off.
	KindQuotaExceeded
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindQuotaExceeded:
		return "quota_exceeded"
	default:
		return "unknown"
	}
}

// Classify maps err onto an ErrorKind. Anything that is not an APIError,
// such as a transport failure, is KindUnknown.
func Classify(err error) ErrorKind {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return KindUnknown
	}

	switch apiErr.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return KindRateLimited
	case http.StatusForbidden, http.StatusTooManyRequests:
		return KindQuotaExceeded
	}
	if apiErr.StatusText == statusRateLimitExceeded {
		return KindQuotaExceeded
	}
	return KindUnknown
}
