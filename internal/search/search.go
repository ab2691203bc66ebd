// Package search proxies the dashboard's search and ask routes to the
// search upstream at search.base_url.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/brizzai/fluo/internal/logger"
	"github.com/brizzai/fluo/internal/requester"
	"github.com/brizzai/fluo/internal/utils"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultLimit     = "10"
	defaultThreshold = "0.8"
)

// Upstream is the requester used to reach the search service.
type Upstream interface {
	Get(ctx context.Context, path string, query url.Values) (*requester.Response, error)
}

// upstreamError is a non-2xx answer from the search service.
type upstreamError struct {
	status  int
	details any
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("search upstream responded with status %d", e.status)
}

// errInvalidFormat is returned when the upstream body is not JSON.
var errInvalidFormat = errors.New("search API returned invalid data format")

type Handler struct {
	upstream Upstream
}

func NewHandler(upstream *requester.HTTPRequester) *Handler {
	return &Handler{upstream: upstream}
}

// RegisterRoutes registers the proxy routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/search", h.HandleSearch)
	mux.HandleFunc("/api/ask", h.HandleAsk)
	mux.HandleFunc("/api/ask_synapse", h.HandleAskSynapse)
	mux.HandleFunc("/api/recent", h.HandleRecent)
	mux.HandleFunc("/api/overview", h.HandleOverview)
}

// fetch calls the upstream and returns its JSON body.
func (h *Handler) fetch(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	resp, err := h.upstream.Get(ctx, path, query)
	if err != nil {
		return nil, err
	}

	if !resp.OK() {
		ue := &upstreamError{status: resp.StatusCode}
		if json.Valid(resp.Body) && len(resp.Body) > 0 {
			ue.details = json.RawMessage(resp.Body)
		} else {
			ue.details = fmt.Sprintf("HTTP error! status: %d", resp.StatusCode)
		}
		return nil, ue
	}

	if !json.Valid(resp.Body) || len(resp.Body) == 0 {
		return nil, errInvalidFormat
	}
	return json.RawMessage(resp.Body), nil
}

func writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())

	var ue *upstreamError
	switch {
	case errors.As(err, &ue):
		log.Warn("Search API request failed", zap.Int("status", ue.status))
		utils.WriteError(w, ue.status, "Search API request failed", ue.details)
	case errors.Is(err, requester.ErrNotConfigured):
		log.Error("Search API URL not configured")
		utils.WriteError(w, http.StatusInternalServerError, "Search API URL not configured", "search.base_url is not set")
	case errors.Is(err, requester.ErrTimeout):
		log.Error("Search API timeout", zap.Error(err))
		utils.WriteJSON(w, http.StatusGatewayTimeout, utils.ErrorBody{
			Error:   "Request timeout",
			Message: "The search request took too long to complete",
		})
	case errors.Is(err, requester.ErrUnavailable):
		log.Error("Search API unreachable", zap.Error(err))
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorBody{
			Error:   "Service unavailable",
			Message: "Unable to connect to the search service",
		})
	case errors.Is(err, errInvalidFormat):
		log.Error("Search API returned invalid data", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "Invalid response format", err.Error())
	default:
		log.Error("Unexpected search error", zap.Error(err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorBody{
			Error:   "Internal server error",
			Message: "An unexpected error occurred",
		})
	}
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// requireQuery answers 400 when the query parameter is empty.
func requireQuery(w http.ResponseWriter, r *http.Request) (string, bool) {
	query := r.URL.Query().Get("query")
	if query == "" {
		utils.WriteError(w, http.StatusBadRequest, "Query parameter is required", nil)
		return "", false
	}
	return query, true
}

func (h *Handler) relay(w http.ResponseWriter, r *http.Request, path string, query url.Values) {
	body, err := h.fetch(r.Context(), path, query)
	if err != nil {
		writeUpstreamError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, body)
}

// HandleSearch handles /api/search
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.MethodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	h.relay(w, r, "/search", url.Values{
		"query": {q.Get("query")},
		"limit": {withDefault(q.Get("limit"), defaultLimit)},
	})
}

// HandleAsk handles /api/ask
func (h *Handler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.MethodNotAllowed(w, http.MethodGet)
		return
	}
	query, ok := requireQuery(w, r)
	if !ok {
		return
	}
	h.relay(w, r, "/ask", url.Values{
		"query":                {query},
		"limit":                {defaultLimit},
		"similarity_threshold": {defaultThreshold},
	})
}

func synapseQuery(r *http.Request, query string) url.Values {
	q := r.URL.Query()
	params := url.Values{"query": {query}}
	if limit := q.Get("limit"); limit != "" {
		params.Set("limit", limit)
	}
	if threshold := q.Get("similarity_threshold"); threshold != "" {
		params.Set("similarity_threshold", threshold)
	}
	return params
}

// HandleAskSynapse handles /api/ask_synapse
func (h *Handler) HandleAskSynapse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.MethodNotAllowed(w, http.MethodGet)
		return
	}
	query, ok := requireQuery(w, r)
	if !ok {
		return
	}
	h.relay(w, r, "/ask_synapse", synapseQuery(r, query))
}

// HandleRecent handles /api/recent
func (h *Handler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.MethodNotAllowed(w, http.MethodGet)
		return
	}
	h.relay(w, r, "/api/recent", nil)
}

// Overview is the combined answer of /api/overview. Synapse is null when
// the ask_synapse call failed.
type Overview struct {
	Search  json.RawMessage `json:"search"`
	Synapse json.RawMessage `json:"synapse"`
}

// HandleOverview handles /api/overview: search and ask_synapse run
// concurrently and only a search failure fails the request.
func (h *Handler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.MethodNotAllowed(w, http.MethodGet)
		return
	}
	query, ok := requireQuery(w, r)
	if !ok {
		return
	}

	var out Overview
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		body, err := h.fetch(ctx, "/search", url.Values{
			"query": {query},
			"limit": {withDefault(r.URL.Query().Get("limit"), defaultLimit)},
		})
		if err != nil {
			return err
		}
		out.Search = body
		return nil
	})
	g.Go(func() error {
		body, err := h.fetch(ctx, "/ask_synapse", synapseQuery(r, query))
		if err != nil {
			logger.FromContext(ctx).Warn("ask_synapse failed, returning overview without it", zap.Error(err))
			return nil
		}
		out.Synapse = body
		return nil
	})

	if err := g.Wait(); err != nil {
		writeUpstreamError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, out)
}

// Module provides the search proxy
var Module = fx.Module("search",
	fx.Provide(NewHandler),
)
