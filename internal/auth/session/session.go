// Package session keeps the OAuth anti-replay state and the bound user key in
// a signed, encrypted cookie.
package session

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/brizzai/fluo/internal/config"
	"github.com/brizzai/fluo/internal/logger"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

const (
	cookieName      = "fluo_session"
	stateKey        = "oauth_state"
	stateExpiresKey = "oauth_state_expires"
	userKey         = "user_id"

	// StateTTL bounds the time between /login and the callback.
	StateTTL = 10 * time.Minute
)

// ErrInvalidState is returned when the callback state is missing, unknown,
// expired or already used.
var ErrInvalidState = errors.New("invalid oauth state")

type Manager struct {
	store sessions.Store
	now   func() time.Time
}

// NewManager builds a cookie backed manager. Without session.secret the keys
// are random and sessions do not survive a restart.
func NewManager(cfg *config.Config) (*Manager, error) {
	secret := []byte(cfg.Session.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
		logger.Warn("session.secret is not set, using a random key")
	}

	hashKey := sha256.Sum256(append([]byte("hash:"), secret...))
	blockKey := sha256.Sum256(append([]byte("block:"), secret...))

	store := sessions.NewCookieStore(hashKey[:], blockKey[:])
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 30,
		HttpOnly: true,
		Secure:   cfg.Session.Secure,
		// Lax so the cookie survives the top-level redirect back from Google.
		SameSite: http.SameSiteLaxMode,
	}
	store.MaxAge(store.Options.MaxAge)

	return NewManagerWithStore(store), nil
}

func NewManagerWithStore(store sessions.Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

func (m *Manager) session(r *http.Request) *sessions.Session {
	s, err := m.store.Get(r, cookieName)
	if err != nil {
		// Undecodable cookie (rotated key, tampering): start over.
		logger.Debug("Discarding unreadable session cookie", zap.Error(err))
	}
	return s
}

// IssueState generates a fresh state value, stores it with a StateTTL expiry
// and returns it. Any previously issued state is replaced.
func (m *Manager) IssueState(w http.ResponseWriter, r *http.Request) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(buf)

	s := m.session(r)
	s.Values[stateKey] = state
	s.Values[stateExpiresKey] = m.now().Add(StateTTL).Unix()
	if err := s.Save(r, w); err != nil {
		return "", fmt.Errorf("failed to save session: %w", err)
	}
	return state, nil
}

// ConsumeState checks state against the stored value and clears it, so each
// state is accepted at most once.
func (m *Manager) ConsumeState(w http.ResponseWriter, r *http.Request, state string) error {
	s := m.session(r)
	stored, _ := s.Values[stateKey].(string)
	expires, _ := s.Values[stateExpiresKey].(int64)

	if stored == "" {
		return ErrInvalidState
	}

	delete(s.Values, stateKey)
	delete(s.Values, stateExpiresKey)
	if err := s.Save(r, w); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	if state == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(state)) != 1 {
		return ErrInvalidState
	}
	if m.now().Unix() > expires {
		return fmt.Errorf("%w: expired", ErrInvalidState)
	}
	return nil
}

// UserID returns the user key bound to the session, if any.
func (m *Manager) UserID(r *http.Request) string {
	userID, _ := m.session(r).Values[userKey].(string)
	return userID
}

// BindUser records userID as the owner of this browser session.
func (m *Manager) BindUser(w http.ResponseWriter, r *http.Request, userID string) error {
	s := m.session(r)
	s.Values[userKey] = userID
	if err := s.Save(r, w); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}
