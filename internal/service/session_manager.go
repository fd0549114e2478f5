package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ngthminh1709/StockExchangesBackEnd/internal/model"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/repository"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/utils"
)

// DeviceContext describes the client a login or refresh comes from.
type DeviceContext struct {
	DeviceID  string
	MacID     string
	IPAddress string
	UserAgent string
}

// Issued is the token triple produced for a device session.
type Issued struct {
	SessionID    string
	AccessToken  string
	ExpiresAt    time.Time // end of the access token window
	RefreshToken string
	RefreshExp   time.Time
	// Created is true when the login bound a new device rather than
	// rotating an existing session.
	Created bool
}

// SessionManager decides whether a login creates or rotates a device
// session and produces the tokens for it.  Every issuance generates a new
// per-session secret, which invalidates all access tokens previously
// issued for that session.
type SessionManager struct {
	sessions SessionStore
	tokens   *utils.TokenIssuer
	secrets  SecretCache
}

// NewSessionManager wires a manager.  secrets may be nil.
func NewSessionManager(sessions SessionStore, tokens *utils.TokenIssuer, secrets SecretCache) *SessionManager {
	if secrets == nil {
		secrets = noopSecretCache{}
	}
	return &SessionManager{sessions: sessions, tokens: tokens, secrets: secrets}
}

// HandleDeviceSession serves both first login on a device and repeat login
// on a known one: the session for (user, device) is created if absent or
// overwritten in place, keeping its id.
func (m *SessionManager) HandleDeviceSession(ctx context.Context, user model.User, dc DeviceContext) (Issued, error) {
	id := uuid.NewString()
	created := true
	existing, err := m.sessions.GetByUserAndDevice(ctx, user.ID, dc.DeviceID)
	switch {
	case err == nil:
		id = existing.ID
		created = false
	case !errors.Is(err, repository.ErrNotFound):
		return Issued{}, fmt.Errorf("load device session: %w", err)
	}

	secret := uuid.NewString()
	issued, err := m.issue(user, dc.DeviceID, secret)
	if err != nil {
		return Issued{}, err
	}

	storedID, err := m.sessions.Upsert(ctx, model.DeviceSession{
		ID:               id,
		UserID:           user.ID,
		DeviceID:         dc.DeviceID,
		MacID:            dc.MacID,
		IPAddress:        dc.IPAddress,
		UserAgent:        dc.UserAgent,
		SecretKey:        secret,
		RefreshTokenHash: utils.HashRefreshRaw(issued.RefreshToken),
		ExpiredAt:        issued.ExpiresAt,
	})
	if err != nil {
		return Issued{}, fmt.Errorf("upsert device session: %w", err)
	}
	m.secrets.Invalidate(ctx, user.ID, dc.DeviceID)

	issued.SessionID = storedID
	issued.Created = created && storedID == id
	return issued, nil
}

// Rotate replaces the secret and refresh token of sess.  The write only
// succeeds while the stored refresh hash is still the one that was looked
// up, so two concurrent refreshes with the same token cannot both win.
func (m *SessionManager) Rotate(ctx context.Context, sess model.DeviceSession, user model.User) (Issued, error) {
	secret := uuid.NewString()
	issued, err := m.issue(user, sess.DeviceID, secret)
	if err != nil {
		return Issued{}, err
	}

	err = m.sessions.Rotate(ctx, sess.ID, sess.RefreshTokenHash, repository.Rotation{
		SecretKey:        secret,
		RefreshTokenHash: utils.HashRefreshRaw(issued.RefreshToken),
		ExpiredAt:        issued.ExpiresAt,
	})
	switch {
	case errors.Is(err, repository.ErrStaleSession):
		return Issued{}, ErrInvalidRefreshToken
	case err != nil:
		return Issued{}, fmt.Errorf("rotate device session: %w", err)
	}
	m.secrets.Invalidate(ctx, user.ID, sess.DeviceID)

	issued.SessionID = sess.ID
	return issued, nil
}

func (m *SessionManager) issue(user model.User, deviceID, secret string) (Issued, error) {
	access, err := m.tokens.IssueAccessToken(user.ID, user.Role, deviceID, secret)
	if err != nil {
		return Issued{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := m.tokens.IssueRefreshToken(user.ID, deviceID)
	if err != nil {
		return Issued{}, fmt.Errorf("issue refresh token: %w", err)
	}
	return Issued{
		AccessToken:  access.Token,
		ExpiresAt:    access.Exp,
		RefreshToken: refresh.Raw,
		RefreshExp:   refresh.Exp,
	}, nil
}
