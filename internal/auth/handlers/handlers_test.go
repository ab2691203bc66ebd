package handlers_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/brizzai/fluo/internal/auth/constants"
	"github.com/brizzai/fluo/internal/auth/flow"
	"github.com/brizzai/fluo/internal/auth/handlers"
	"github.com/brizzai/fluo/internal/auth/middleware"
	"github.com/brizzai/fluo/internal/auth/models"
	"github.com/brizzai/fluo/internal/auth/providers/googletest"
	"github.com/brizzai/fluo/internal/auth/session"
	"github.com/brizzai/fluo/internal/config"
	"github.com/brizzai/fluo/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const siteURL = "https://fluo.example.com"

var admin = models.UserInfo{Sub: "1234567890", Email: "admin@example.com", Name: "Fluo Admin", EmailVerified: true}

// harness drives the OAuth routes like a browser, carrying cookies between
// requests.
type harness struct {
	t       *testing.T
	cfg     *config.Config
	google  *googletest.Server
	store   tokens.Store
	handler http.Handler
	cookies map[string]*http.Cookie
}

type option func(*config.Config)

func withDefaultUser(id string) option {
	return func(c *config.Config) { c.Tokens.DefaultUserID = id }
}

func withoutClientSecret() option {
	return func(c *config.Config) { c.Google.ClientSecret = "" }
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	cfg := &config.Config{
		SiteURL: siteURL,
		Google: config.GoogleConfig{
			ClientID:     googletest.ClientID,
			ClientSecret: googletest.ClientSecret,
		},
		Session: config.SessionConfig{Secret: "handler-test-secret"},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	g := googletest.New(t)
	provider := g.Provider(cfg.RedirectURI())
	store := tokens.NewMemoryStore()
	sessions, err := session.NewManager(cfg)
	require.NoError(t, err)

	h := handlers.NewHandler(cfg, provider, flow.New(provider, store), sessions)
	mux := http.NewServeMux()
	mux.HandleFunc(constants.AuthConfigPath, h.HandleAuthConfig)
	mux.HandleFunc(constants.LoginPath, h.HandleLogin)
	mux.Handle(constants.CallbackPath, middleware.SecurityHeaders(http.HandlerFunc(h.HandleCallback)))
	mux.HandleFunc(constants.RefreshPath, h.HandleRefresh)
	mux.HandleFunc(constants.SessionPath, h.HandleSession)
	mux.HandleFunc(constants.DisconnectPath, h.HandleDisconnect)
	mux.Handle(constants.TokensPath, handlers.NewTokenHandler(store))

	return &harness{
		t:       t,
		cfg:     cfg,
		google:  g,
		store:   store,
		handler: middleware.Identity(sessions, cfg.Tokens.DefaultUserID)(mux),
		cookies: make(map[string]*http.Cookie),
	}
}

func (h *harness) do(method, target string, body string) *httptest.ResponseRecorder {
	h.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	for _, c := range h.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		h.cookies[c.Name] = c
	}
	return rec
}

// login hits the login route and returns the issued state.
func (h *harness) login() string {
	h.t.Helper()
	rec := h.do(http.MethodGet, constants.LoginPath, "")
	require.Equal(h.t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(h.t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(h.t, state)
	return state
}

func (h *harness) callback(params url.Values) *httptest.ResponseRecorder {
	h.t.Helper()
	return h.do(http.MethodGet, constants.CallbackPath+"?"+params.Encode(), "")
}

func appsRedirect(t *testing.T, rec *httptest.ResponseRecorder) url.Values {
	t.Helper()
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "fluo.example.com", loc.Host)
	assert.Equal(t, constants.AppsPath, loc.Path)
	return loc.Query()
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestLoginRedirectsToGoogle(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, constants.LoginPath, "")
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	q := loc.Query()
	assert.Equal(t, "accounts.google.com", loc.Host)
	assert.Equal(t, googletest.ClientID, q.Get("client_id"))
	assert.Equal(t, siteURL+constants.CallbackPath, q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.NotEmpty(t, q.Get("state"))
	assert.Contains(t, h.cookies, "fluo_session")
}

func TestLoginWithoutClientID(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Google.ClientID = "" })

	rec := h.do(http.MethodGet, constants.LoginPath, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Server configuration error", decode(t, rec)["error"])
}

func TestLoginRejectsPost(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, constants.LoginPath, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAuthConfig(t *testing.T) {
	h := newHarness(t)
	body := decode(t, h.do(http.MethodGet, constants.AuthConfigPath, ""))
	assert.Equal(t, googletest.ClientID, body["clientId"])
	assert.Equal(t, siteURL+constants.CallbackPath, body["redirectUri"])
	assert.NotContains(t, body, "warning")

	h = newHarness(t, func(c *config.Config) { c.Google.ClientID = "" })
	body = decode(t, h.do(http.MethodGet, constants.AuthConfigPath, ""))
	assert.Equal(t, "Google Client ID is not configured", body["warning"])
}

func TestCallbackStoresTokensAndBindsSession(t *testing.T) {
	h := newHarness(t)
	state := h.login()
	h.google.AddCode("code-1", googletest.Grant{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresIn:    3599,
		Scope:        "openid email profile",
		User:         &admin,
	})

	rec := h.callback(url.Values{"code": {"code-1"}, "state": {state}, "scope": {"openid email profile"}})
	q := appsRedirect(t, rec)
	assert.Equal(t, constants.AuthStatusSuccess, q.Get("auth_status"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec2, err := h.store.Read(t.Context(), admin.Email)
	require.NoError(t, err)
	assert.Equal(t, "at-1", rec2.AccessToken)
	assert.Equal(t, "rt-1", rec2.RefreshToken)
	assert.Equal(t, tokens.ProviderGoogle, rec2.Provider)

	// the session now resolves to the Google account
	probe := decode(t, h.do(http.MethodGet, constants.SessionPath, ""))
	assert.Equal(t, string(flow.StateConnected), probe["state"])
	info := probe["userInfo"].(map[string]any)
	assert.Equal(t, admin.Email, info["email"])
}

func TestCallbackUsesDefaultUser(t *testing.T) {
	h := newHarness(t, withDefaultUser("default-admin"))
	state := h.login()
	h.google.AddCode("code-1", googletest.Grant{AccessToken: "at-1", ExpiresIn: 3599})

	q := appsRedirect(t, h.callback(url.Values{"code": {"code-1"}, "state": {state}}))
	assert.Equal(t, constants.AuthStatusSuccess, q.Get("auth_status"))

	_, err := h.store.Read(t.Context(), "default-admin")
	require.NoError(t, err)
	assert.Zero(t, h.google.UserInfoCalls())
}

func TestCallbackErrors(t *testing.T) {
	tests := []struct {
		name    string
		params  func(state string) url.Values
		message string
	}{
		{
			name:    "provider error with description",
			params:  func(string) url.Values { return url.Values{"error": {"access_denied"}, "error_description": {"User denied access"}} },
			message: "User denied access",
		},
		{
			name:    "provider error without description",
			params:  func(string) url.Values { return url.Values{"error": {"access_denied"}} },
			message: "access_denied",
		},
		{
			name:    "missing code",
			params:  func(state string) url.Values { return url.Values{"state": {state}} },
			message: "Missing authorization code",
		},
		{
			name:    "forged state",
			params:  func(string) url.Values { return url.Values{"code": {"code-1"}, "state": {"forged"}} },
			message: "Invalid state",
		},
		{
			name:    "missing state",
			params:  func(string) url.Values { return url.Values{"code": {"code-1"}} },
			message: "Invalid state",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			state := h.login()
			h.google.AddCode("code-1", googletest.Grant{AccessToken: "at-1", User: &admin, Scope: "openid"})

			q := appsRedirect(t, h.callback(tt.params(state)))
			assert.Equal(t, constants.AuthStatusError, q.Get("auth_status"))
			assert.Equal(t, tt.message, q.Get("message"))
			assert.Empty(t, h.google.TokenRequests(), "no code exchange on a rejected callback")
			_, err := h.store.Read(t.Context(), admin.Email)
			assert.ErrorIs(t, err, tokens.ErrNotFound)
		})
	}
}

func TestCallbackStateIsSingleUse(t *testing.T) {
	h := newHarness(t)
	state := h.login()
	h.google.AddCode("code-1", googletest.Grant{AccessToken: "at-1", User: &admin, Scope: "openid"})
	h.google.AddCode("code-2", googletest.Grant{AccessToken: "at-2", User: &admin, Scope: "openid"})

	q := appsRedirect(t, h.callback(url.Values{"code": {"code-1"}, "state": {state}}))
	require.Equal(t, constants.AuthStatusSuccess, q.Get("auth_status"))

	q = appsRedirect(t, h.callback(url.Values{"code": {"code-2"}, "state": {state}}))
	assert.Equal(t, "Invalid state", q.Get("message"))
	assert.Len(t, h.google.TokenRequests(), 1)
}

func TestCallbackExchangeRejected(t *testing.T) {
	h := newHarness(t, withDefaultUser(admin.Email))
	before, err := h.store.Write(t.Context(), admin.Email, tokens.Input{AccessToken: "at-0", RefreshToken: "rt-0", ExpiresIn: 3599})
	require.NoError(t, err)
	state := h.login()

	rec := h.callback(url.Values{"code": {"unknown-code"}, "state": {state}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Bad Request", body["error"])
	assert.Equal(t, "invalid_grant", body["details"])

	after, err := h.store.Read(t.Context(), admin.Email)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCallbackWithoutClientSecret(t *testing.T) {
	h := newHarness(t, withoutClientSecret())
	state := h.login()

	rec := h.callback(url.Values{"code": {"code-1"}, "state": {state}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Server configuration error", decode(t, rec)["error"])
}

func TestCallbackUnidentifiedAccount(t *testing.T) {
	h := newHarness(t)
	state := h.login()
	// no User: no id_token and userinfo rejects the token
	h.google.AddCode("code-1", googletest.Grant{AccessToken: "at-1"})

	q := appsRedirect(t, h.callback(url.Values{"code": {"code-1"}, "state": {state}}))
	assert.Equal(t, "Failed to identify Google account", q.Get("message"))
}

func TestRefresh(t *testing.T) {
	h := newHarness(t, withDefaultUser(admin.Email))
	h.google.AddRefreshToken("rt-1", googletest.Grant{AccessToken: "at-2", ExpiresIn: 3599, User: &admin})

	rec := h.do(http.MethodPost, constants.RefreshPath, `{"refresh_token":"rt-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "at-2", body["access_token"])
	assert.Equal(t, admin.Email, body["userInfo"].(map[string]any)["email"])

	stored, err := h.store.Read(t.Context(), admin.Email)
	require.NoError(t, err)
	assert.Equal(t, "at-2", stored.AccessToken)
	assert.Equal(t, "rt-1", stored.RefreshToken)
}

func TestRefreshErrors(t *testing.T) {
	tests := []struct {
		name    string
		opts    []option
		body    string
		status  int
		error   string
		details any
	}{
		{name: "invalid json", opts: []option{withDefaultUser("u")}, body: `{`, status: http.StatusBadRequest, error: "Invalid request body"},
		{name: "missing token", opts: []option{withDefaultUser("u")}, body: `{"refresh_token":""}`, status: http.StatusBadRequest, error: "Refresh token is required"},
		{name: "missing secret", opts: []option{withDefaultUser("u"), withoutClientSecret()}, body: `{"refresh_token":"rt"}`, status: http.StatusInternalServerError, error: "Server configuration error"},
		{name: "no user", body: `{"refresh_token":"rt"}`, status: http.StatusInternalServerError, error: "Server configuration error", details: "tokens.default_user_id is not set and no Google account is bound to this session"},
		{name: "oversized body", opts: []option{withDefaultUser("u")}, body: `{"refresh_token":"` + strings.Repeat("r", 1<<20) + `"}`, status: http.StatusRequestEntityTooLarge, error: "Request body too large"},
		{name: "revoked", opts: []option{withDefaultUser("u")}, body: `{"refresh_token":"rt-revoked"}`, status: http.StatusInternalServerError, error: "Token has been expired or revoked.", details: "invalid_grant"},
		{name: "user validation", opts: []option{withDefaultUser("u")}, body: `{"refresh_token":"rt-anon"}`, status: http.StatusInternalServerError, error: "Failed to refresh token", details: "user validation failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.opts...)
			h.google.AddRefreshToken("rt-revoked", googletest.Grant{Error: "invalid_grant", ErrorDescription: "Token has been expired or revoked."})
			h.google.AddRefreshToken("rt-anon", googletest.Grant{AccessToken: "at-anon"})

			rec := h.do(http.MethodPost, constants.RefreshPath, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tt.error, body["error"])
			assert.Equal(t, tt.details, body["details"])
		})
	}
}

func TestSessionWithoutUser(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, constants.SessionPath, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(flow.StateDisconnected), decode(t, rec)["state"])
}

func TestSessionExpired(t *testing.T) {
	h := newHarness(t, withDefaultUser(admin.Email))
	_, err := h.store.Write(t.Context(), admin.Email, tokens.Input{AccessToken: "at-stale"})
	require.NoError(t, err)

	body := decode(t, h.do(http.MethodGet, constants.SessionPath, ""))
	assert.Equal(t, string(flow.StateDisconnected), body["state"])
	assert.Equal(t, flow.MessageSessionExpired, body["message"])
}

func TestDisconnect(t *testing.T) {
	h := newHarness(t, withDefaultUser(admin.Email))
	_, err := h.store.Write(t.Context(), admin.Email, tokens.Input{AccessToken: "at-1"})
	require.NoError(t, err)

	rec := h.do(http.MethodPost, constants.DisconnectPath, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(flow.StateDisconnected), decode(t, rec)["state"])

	rec = h.do(http.MethodDelete, constants.DisconnectPath, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Token not found", decode(t, rec)["error"])
}
