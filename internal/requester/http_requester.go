package requester

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brizzai/fluo/internal/config"
	"github.com/brizzai/fluo/internal/logger"
	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

// HTTPRequester performs GET requests against the search upstream
type HTTPRequester struct {
	client  *http.Client
	baseURL string
}

// NewHTTPRequester creates a requester for search.base_url
func NewHTTPRequester(cfg *config.Config) *HTTPRequester {
	timeout := cfg.Search.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPRequester{
		client: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(cfg.Search.BaseURL, "/"),
	}
}

// SetTimeout sets the timeout for the HTTP client
func (r *HTTPRequester) SetTimeout(timeout time.Duration) {
	r.client.Timeout = timeout
}

// Configured reports whether a base url is set
func (r *HTTPRequester) Configured() bool {
	return r.baseURL != ""
}

// Get requests path with query on the upstream. Non-2xx responses are
// returned, not treated as errors.
func (r *HTTPRequester) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	if !r.Configured() {
		return nil, ErrNotConfigured
	}

	target := r.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	logger.FromContext(ctx).Debug("upstream request", zap.String("path", path))

	resp, err := r.execute(req)
	if err != nil {
		logger.FromContext(ctx).Error("failed to execute request", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	return resp, nil
}

// execute performs the request and reads the whole body
func (r *HTTPRequester) execute(req *http.Request) (*Response, error) {
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to read response body: %w", err))
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       bodyBytes,
		Headers:    resp.Header,
	}, nil
}

func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
