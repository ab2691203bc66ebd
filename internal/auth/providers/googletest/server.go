// Package googletest runs an in-process stand-in for Google's OAuth token and
// userinfo endpoints.
package googletest

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brizzai/fluo/internal/auth/models"
	"github.com/brizzai/fluo/internal/auth/providers"
	"github.com/coreos/go-oidc/v3/oidc"
	jose "github.com/go-jose/go-jose/v4"
)

const (
	ClientID     = "fluo-test.apps.googleusercontent.com"
	ClientSecret = "test-secret"
	Issuer       = "https://accounts.google.com"
)

// Grant is what the token endpoint answers for a code or refresh token.
// When Error is set the endpoint answers 400 with that OAuth error. A non-zero
// Status overrides the status code; with no Error the body is plain text.
type Grant struct {
	Status           int
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int64
	Scope            string
	User             *models.UserInfo
	Error            string
	ErrorDescription string
}

// Server fakes accounts.google.com and googleapis.com for a single test.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	key           *rsa.PrivateKey
	codes         map[string]Grant
	refreshTokens map[string]Grant
	accessTokens  map[string]models.UserInfo
	tokenRequests []url.Values
	userInfoCalls int
}

func New(t testing.TB) *Server {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	s := &Server{
		key:           key,
		codes:         make(map[string]Grant),
		refreshTokens: make(map[string]Grant),
		accessTokens:  make(map[string]models.UserInfo),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", s.handleToken)
	mux.HandleFunc("/userinfo", s.handleUserInfo)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Options returns provider options pointed at this server.
func (s *Server) Options(redirectURL string) providers.GoogleOptions {
	return providers.GoogleOptions{
		ClientID:     ClientID,
		ClientSecret: ClientSecret,
		RedirectURL:  redirectURL,
		AuthURL:      Issuer + "/o/oauth2/v2/auth",
		TokenURL:     s.URL + "/token",
		UserInfoURL:  s.URL + "/userinfo",
		HTTPClient:   &http.Client{Timeout: 5 * time.Second},
		Verifier:     s.Verifier(),
	}
}

// Provider returns a GoogleProvider talking to this server.
func (s *Server) Provider(redirectURL string) *providers.GoogleProvider {
	return providers.NewGoogleProviderWithOptions(s.Options(redirectURL))
}

// Verifier checks ID tokens minted by this server.
func (s *Server) Verifier() *oidc.IDTokenVerifier {
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{s.key.Public()}}
	return oidc.NewVerifier(Issuer, keySet, &oidc.Config{ClientID: ClientID})
}

// AddCode registers an authorization code. Codes are single use.
func (s *Server) AddCode(code string, g Grant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = g
}

// AddRefreshToken registers the answer to a refresh grant.
func (s *Server) AddRefreshToken(refreshToken string, g Grant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[refreshToken] = g
}

// AddAccessToken makes userinfo accept token for user.
func (s *Server) AddAccessToken(token string, user models.UserInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens[token] = user
}

// RevokeAccessToken makes userinfo reject token.
func (s *Server) RevokeAccessToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accessTokens, token)
}

// TokenRequests returns the form bodies received by the token endpoint.
func (s *Server) TokenRequests() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.tokenRequests...)
}

func (s *Server) UserInfoCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userInfoCalls
}

// IDToken signs an ID token for user with this server's key.
func (s *Server) IDToken(user models.UserInfo) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: s.key}, nil)
	if err != nil {
		return "", err
	}
	now := time.Now()
	payload, err := json.Marshal(map[string]any{
		"iss":            Issuer,
		"aud":            ClientID,
		"sub":            user.Sub,
		"email":          user.Email,
		"email_verified": user.EmailVerified,
		"name":           user.Name,
		"picture":        user.Picture,
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	})
	if err != nil {
		return "", err
	}
	obj, err := signer.Sign(payload)
	if err != nil {
		return "", err
	}
	return obj.CompactSerialize()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	s.mu.Lock()
	s.tokenRequests = append(s.tokenRequests, r.PostForm)
	var (
		grant Grant
		ok    bool
	)
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		code := r.PostForm.Get("code")
		grant, ok = s.codes[code]
		delete(s.codes, code)
	case "refresh_token":
		grant, ok = s.refreshTokens[r.PostForm.Get("refresh_token")]
	}
	s.mu.Unlock()

	if r.PostForm.Get("client_id") != ClientID || r.PostForm.Get("client_secret") != ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":             "invalid_client",
			"error_description": "The OAuth client was not found.",
		})
		return
	}
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Bad Request",
		})
		return
	}
	if grant.Error != "" {
		status := http.StatusBadRequest
		if grant.Status != 0 {
			status = grant.Status
		}
		body := map[string]string{"error": grant.Error}
		if grant.ErrorDescription != "" {
			body["error_description"] = grant.ErrorDescription
		}
		writeJSON(w, status, body)
		return
	}
	if grant.Status >= http.StatusBadRequest {
		http.Error(w, http.StatusText(grant.Status), grant.Status)
		return
	}

	resp := map[string]any{
		"access_token": grant.AccessToken,
		"expires_in":   grant.ExpiresIn,
		"token_type":   "Bearer",
	}
	if grant.RefreshToken != "" {
		resp["refresh_token"] = grant.RefreshToken
	}
	if grant.Scope != "" {
		resp["scope"] = grant.Scope
	}
	if grant.User != nil {
		s.AddAccessToken(grant.AccessToken, *grant.User)
		if strings.Contains(grant.Scope, "openid") {
			idToken, err := s.IDToken(*grant.User)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
				return
			}
			resp["id_token"] = idToken
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	s.mu.Lock()
	s.userInfoCalls++
	user, ok := s.accessTokens[token]
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":             "invalid_request",
			"error_description": "Invalid Credentials",
		})
		return
	}
	writeJSON(w, http.StatusOK, user)
}
