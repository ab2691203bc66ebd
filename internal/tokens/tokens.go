// Package tokens persists the Google OAuth credentials of the connected
// account. Every backend keeps at most one record per user key and replaces
// it with a single atomic write.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProviderGoogle is the only provider value written today.
const ProviderGoogle = "google"

// TimeLayout is the timestamp format used for createdAt and expires_at.
// UTC with millisecond precision, so values sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	// ErrNotFound is returned when no record exists for the user key.
	ErrNotFound = errors.New("token not found")
	// ErrUnavailable wraps every backend failure.
	ErrUnavailable = errors.New("token storage unavailable")
	// ErrAccessTokenRequired is returned by Write for an empty access token.
	ErrAccessTokenRequired = errors.New("access token is required")
	// ErrUserRequired is returned when the user key is empty.
	ErrUserRequired = errors.New("user id is required")
)

// Record is a stored token set. The JSON names are the wire format of
// GET /api/tokens.
type Record struct {
	ID           string `json:"id" dynamodbav:"id"`
	UserID       string `json:"userId" dynamodbav:"userId"`
	AccessToken  string `json:"access_token" dynamodbav:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty" dynamodbav:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty" dynamodbav:"expires_in,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty" dynamodbav:"expires_at,omitempty"`
	Scope        string `json:"scope,omitempty" dynamodbav:"scope,omitempty"`
	CreatedAt    string `json:"createdAt" dynamodbav:"createdAt"`
	Provider     string `json:"provider" dynamodbav:"provider"`
}

// Input is what callers hand to Write.
type Input struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Store is implemented by every token backend.
type Store interface {
	// Write replaces the record for userID with one built from in.
	Write(ctx context.Context, userID string, in Input) (*Record, error)

	// Read returns the current record for userID or ErrNotFound.
	Read(ctx context.Context, userID string) (*Record, error)

	// Delete removes the record for userID or returns ErrNotFound.
	Delete(ctx context.Context, userID string) error
}

// NewRecord builds the record stored for userID at time now.
func NewRecord(userID string, in Input, now time.Time) (*Record, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserRequired
	}
	if in.AccessToken == "" {
		return nil, ErrAccessTokenRequired
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate record id: %w", err)
	}

	now = now.UTC()
	rec := &Record{
		ID:           id.String(),
		UserID:       userID,
		AccessToken:  in.AccessToken,
		RefreshToken: in.RefreshToken,
		Scope:        in.Scope,
		CreatedAt:    now.Format(TimeLayout),
		Provider:     ProviderGoogle,
	}
	if in.ExpiresIn > 0 {
		rec.ExpiresIn = in.ExpiresIn
		rec.ExpiresAt = now.Add(time.Duration(in.ExpiresIn) * time.Second).Format(TimeLayout)
	}
	return rec, nil
}

// Expired reports whether the record carries an expiry that has passed.
func (r *Record) Expired(now time.Time) bool {
	if r.ExpiresAt == "" {
		return false
	}
	t, err := time.Parse(TimeLayout, r.ExpiresAt)
	if err != nil {
		return false
	}
	return !now.Before(t)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

func checkUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrUserRequired
	}
	return nil
}
