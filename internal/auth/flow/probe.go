package flow

import (
	"context"
	"errors"

	"github.com/brizzai/fluo/internal/auth/models"
	"github.com/brizzai/fluo/internal/auth/providers"
	"github.com/brizzai/fluo/internal/logger"
	"github.com/brizzai/fluo/internal/tokens"
	"go.uber.org/zap"
)

// State is a step of the session probe.
type State string

const (
	StateUnknown      State = "unknown"
	StateChecking     State = "checking"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// MessageSessionExpired is reported when the probe had to discard a record.
const MessageSessionExpired = "Session expired"

// Probe is the result of one run of the session state machine. Each run
// starts from StateUnknown; nothing is shared between runs.
type Probe struct {
	State    State            `json:"state"`
	UserInfo *models.UserInfo `json:"userInfo,omitempty"`
	Message  string           `json:"message,omitempty"`
}

func (p *Probe) to(ctx context.Context, next State) {
	logger.FromContext(ctx).Debug("Session probe transition",
		zap.String("from", string(p.State)),
		zap.String("to", string(next)),
	)
	p.State = next
}

// Probe decides whether userID has a usable Google connection. An access
// token rejected by userinfo, or already past its expiry, is refreshed once;
// if Google refuses that too the record is deleted and the probe ends
// disconnected with MessageSessionExpired.
// Store and transport failures are returned as errors and leave the record alone.
func (f *Flow) Probe(ctx context.Context, userID string) (*Probe, error) {
	p := &Probe{State: StateUnknown}
	p.to(ctx, StateChecking)

	if userID == "" {
		p.to(ctx, StateDisconnected)
		return p, nil
	}

	rec, err := f.store.Read(ctx, userID)
	if errors.Is(err, tokens.ErrNotFound) {
		p.to(ctx, StateDisconnected)
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.AccessToken == "" {
		p.to(ctx, StateDisconnected)
		return p, nil
	}

	// A record past expires_at goes straight to the refresh grant.
	if !rec.Expired(f.now()) || rec.RefreshToken == "" {
		info, err := f.provider.ValidateAccessToken(ctx, rec.AccessToken)
		if err == nil {
			p.UserInfo = info
			p.to(ctx, StateConnected)
			return p, nil
		}
		if !errors.Is(err, providers.ErrInvalidAccessToken) {
			return nil, err
		}
	}

	if rec.RefreshToken != "" {
		res, err := f.Refresh(ctx, userID, rec.RefreshToken)
		if err == nil {
			p.UserInfo = res.UserInfo
			p.to(ctx, StateConnected)
			return p, nil
		}
		if !refreshRejected(err) {
			return nil, err
		}
		logger.FromContext(ctx).Info("Stored refresh token rejected", zap.String("user_id", userID), zap.Error(err))
	}

	if err := f.store.Delete(ctx, userID); err != nil && !errors.Is(err, tokens.ErrNotFound) {
		logger.FromContext(ctx).Warn("Failed to delete expired token", zap.String("user_id", userID), zap.Error(err))
	}
	p.Message = MessageSessionExpired
	p.to(ctx, StateDisconnected)
	return p, nil
}

// refreshRejected reports whether Google refused the refresh itself, as
// opposed to the refresh not being attempted to completion. A 5xx from the
// token endpoint is an outage, not a verdict on the refresh token.
func refreshRejected(err error) bool {
	var pe *providers.ProviderError
	if errors.As(err, &pe) {
		return pe.Rejected()
	}
	return errors.Is(err, ErrUserValidation)
}
