package requester

import (
	"errors"
	"net/http"
)

var (
	// ErrNotConfigured is returned when search.base_url is empty.
	ErrNotConfigured = errors.New("search base url is not configured")

	// ErrTimeout is returned when the upstream did not answer in time.
	ErrTimeout = errors.New("upstream request timed out")

	// ErrUnavailable is returned when the upstream could not be reached.
	ErrUnavailable = errors.New("upstream unavailable")
)

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// OK reports a 2xx status
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
