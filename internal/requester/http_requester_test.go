package requester

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/brizzai/fluo/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequester(baseURL string) *HTTPRequester {
	return NewHTTPRequester(&config.Config{Search: config.SearchConfig{BaseURL: baseURL}})
}

func TestHTTPRequester(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		query          url.Values
		timeout        time.Duration
		serverResponse func(w http.ResponseWriter, r *http.Request)
		checkResponse  func(t *testing.T, response *Response, err error)
	}{
		{
			name:  "Simple GET Request",
			path:  "/search",
			query: url.Values{"query": {"quarterly report"}, "limit": {"10"}},
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/search", r.URL.Path)
				assert.Equal(t, "quarterly report", r.URL.Query().Get("query"))
				assert.Equal(t, "10", r.URL.Query().Get("limit"))
				assert.Equal(t, "application/json", r.Header.Get("Accept"))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"results":[]}`))
			},
			checkResponse: func(t *testing.T, response *Response, err error) {
				require.NoError(t, err)
				assert.True(t, response.OK())
				assert.JSONEq(t, `{"results":[]}`, string(response.Body))
				assert.Equal(t, "application/json", response.Headers.Get("Content-Type"))
			},
		},
		{
			name: "Upstream error status is returned",
			path: "/ask",
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte("bad gateway"))
			},
			checkResponse: func(t *testing.T, response *Response, err error) {
				require.NoError(t, err)
				assert.False(t, response.OK())
				assert.Equal(t, http.StatusBadGateway, response.StatusCode)
				assert.Equal(t, "bad gateway", string(response.Body))
			},
		},
		{
			name:    "Timeout",
			path:    "/ask_synapse",
			timeout: 50 * time.Millisecond,
			serverResponse: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(time.Second):
				case <-r.Context().Done():
				}
			},
			checkResponse: func(t *testing.T, response *Response, err error) {
				assert.Nil(t, response)
				assert.ErrorIs(t, err, ErrTimeout)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(tt.serverResponse))
			defer server.Close()

			r := newRequester(server.URL + "/")
			if tt.timeout > 0 {
				r.SetTimeout(tt.timeout)
			}
			response, err := r.Get(context.Background(), tt.path, tt.query)
			tt.checkResponse(t, response, err)
		})
	}
}

func TestHTTPRequesterUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	_, err := newRequester(baseURL).Get(context.Background(), "/search", nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHTTPRequesterNotConfigured(t *testing.T) {
	r := newRequester("")
	assert.False(t, r.Configured())
	_, err := r.Get(context.Background(), "/search", nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNewHTTPRequesterDefaultTimeout(t *testing.T) {
	r := newRequester("http://search.internal")
	assert.Equal(t, defaultTimeout, r.client.Timeout)
}
