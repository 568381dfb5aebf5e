package jenkins

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrUnavailable wraps every transport or HTTP-level failure talking to Jenkins
	ErrUnavailable = errors.New("jenkins unavailable")
	// ErrMalformed is returned when a response body cannot be decoded
	ErrMalformed = errors.New("jenkins response malformed")
)

// StatusReason is a coarse classification of a non-2xx response
type StatusReason string

const (
	StatusReasonUnknown            StatusReason = ""
	StatusReasonUnauthorized       StatusReason = "Unauthorized"
	StatusReasonForbidden          StatusReason = "Forbidden"
	StatusReasonNotFound           StatusReason = "NotFound"
	StatusReasonTooManyRequests    StatusReason = "TooManyRequests"
	StatusReasonInternalError      StatusReason = "InternalError"
	StatusReasonServiceUnavailable StatusReason = "ServiceUnavailable"
)

// APIError is returned for non-2xx responses. It unwraps to ErrUnavailable.
type APIError struct {
	Code   int
	Reason StatusReason
	Path   string
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("[%d %s] %s: %s", e.Code, e.Reason, e.Path, e.Detail)
}

func (e *APIError) Unwrap() error {
	return ErrUnavailable
}

// IsNotFound reports whether err is a 404 from Jenkins
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Reason == StatusReasonNotFound
}

func newAPIError(res *resty.Response) *APIError {
	code := res.StatusCode()
	reason := StatusReasonUnknown
	switch code {
	case http.StatusUnauthorized:
		reason = StatusReasonUnauthorized
	case http.StatusForbidden:
		reason = StatusReasonForbidden
	case http.StatusNotFound:
		reason = StatusReasonNotFound
	case http.StatusTooManyRequests:
		reason = StatusReasonTooManyRequests
	case http.StatusServiceUnavailable:
		reason = StatusReasonServiceUnavailable
	default:
		if code >= 500 {
			reason = StatusReasonInternalError
		}
	}

	detail := res.String()
	if len(detail) > 256 {
		detail = detail[:256]
	}

	path := ""
	if res.Request != nil {
		path = res.Request.URL
	}

	return &APIError{Code: code, Reason: reason, Path: path, Detail: detail}
}
