package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ngthminh1709/StockExchangesBackEnd/internal/model"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/queue"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/repository"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/utils"
)

// maxTokenLen bounds the refresh token accepted from a cookie before any
// hashing or parsing is done.
const maxTokenLen = 4096

// RegisterInput is the data needed to create an account.
type RegisterInput struct {
	AccountName string
	Password    string
	Profile     model.Profile
}

// LoginInput carries the credentials presented at login.
type LoginInput struct {
	AccountName string
	Password    string
}

// LoginResult is the authenticated user plus the tokens of its device session.
type LoginResult struct {
	User model.User
	Issued
}

// SessionView is the externally visible part of a device session.  The
// secret key and refresh token hash are deliberately absent.
type SessionView struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	MacID     string    `json:"mac_id"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	ExpiredAt time.Time `json:"expired_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuthService implements register, login, logout, refresh and session
// history on top of the credential and device session stores.
type AuthService struct {
	users    UserStore
	sessions SessionStore
	tokens   *utils.TokenIssuer
	manager  *SessionManager
	secrets  SecretCache
	events   EventPublisher
	log      *slog.Logger
	cost     int
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// Option customises an AuthService.
type Option func(*AuthService)

// WithSecretCache puts a read-through cache in front of session secret lookups.
func WithSecretCache(c SecretCache) Option {
	return func(s *AuthService) {
		if c != nil {
			s.secrets = c
		}
	}
}

// WithEvents publishes session lifecycle events to p.
func WithEvents(p EventPublisher) Option {
	return func(s *AuthService) { s.events = p }
}

// WithLogger sets the logger used for non-fatal failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *AuthService) {
		if l != nil {
			s.log = l
		}
	}
}

// NewAuthService wires the service.  bcryptCost <= 0 selects the default cost.
func NewAuthService(users UserStore, sessions SessionStore, tokens *utils.TokenIssuer, bcryptCost int, opts ...Option) *AuthService {
	s := &AuthService{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		secrets:  noopSecretCache{},
		log:      slog.Default(),
		cost:     bcryptCost,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.manager = NewSessionManager(sessions, tokens, s.secrets)
	return s
}

// Register creates an account and its placeholder device session.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (uint64, error) {
	_, err := s.users.GetByAccountName(ctx, in.AccountName)
	switch {
	case err == nil:
		return 0, ErrDuplicateAccount
	case !errors.Is(err, repository.ErrNotFound):
		return 0, fmt.Errorf("lookup account: %w", err)
	}

	id, err := s.users.Create(ctx, model.User{
		AccountName: in.AccountName,
		Role:        model.RoleMember,
		Profile:     in.Profile,
	}, in.Password, s.cost)
	if errors.Is(err, repository.ErrAccountExists) {
		return 0, ErrDuplicateAccount
	}
	if err != nil {
		return 0, fmt.Errorf("create account: %w", err)
	}

	s.publish(ctx, queue.SessionEvent{
		Type:        queue.EventUserRegistered,
		UserID:      id,
		AccountName: repository.NormalizeAccountName(in.AccountName),
	})
	return id, nil
}

// Login verifies credentials and creates or rotates the session of the
// calling device.
func (s *AuthService) Login(ctx context.Context, in LoginInput, dc DeviceContext) (LoginResult, error) {
	if dc.DeviceID == "" {
		return LoginResult{}, ErrMissingDeviceID
	}
	user, err := s.users.GetByAccountName(ctx, in.AccountName)
	if errors.Is(err, repository.ErrNotFound) {
		// Spend the same bcrypt time as a real comparison.
		utils.VerifyPassword(s.dummy(), in.Password)
		return LoginResult{}, ErrAccountNotFound
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("lookup account: %w", err)
	}
	if !utils.VerifyPassword(user.PasswordHash, in.Password) {
		return LoginResult{}, ErrInvalidCredentials
	}

	issued, err := s.manager.HandleDeviceSession(ctx, user, dc)
	if err != nil {
		return LoginResult{}, err
	}

	evType := queue.EventSessionRotated
	if issued.Created {
		evType = queue.EventSessionCreated
	}
	s.publish(ctx, queue.SessionEvent{
		Type:        evType,
		UserID:      user.ID,
		AccountName: user.AccountName,
		SessionID:   issued.SessionID,
		DeviceID:    dc.DeviceID,
		IPAddress:   dc.IPAddress,
		UserAgent:   dc.UserAgent,
	})
	return LoginResult{User: user, Issued: issued}, nil
}

// Logout deletes the caller's session on deviceID.  A user with no session
// on that device gets ErrForbidden and nothing is changed.
func (s *AuthService) Logout(ctx context.Context, userID uint64, deviceID string) error {
	sess, err := s.sessions.GetByUserAndDevice(ctx, userID, deviceID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrForbidden
	}
	if err != nil {
		return fmt.Errorf("load device session: %w", err)
	}

	err = s.sessions.Delete(ctx, sess.ID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrForbidden
	}
	if err != nil {
		return fmt.Errorf("delete device session: %w", err)
	}
	s.secrets.Invalidate(ctx, userID, deviceID)

	s.publish(ctx, queue.SessionEvent{
		Type:      queue.EventSessionRevoked,
		UserID:    userID,
		SessionID: sess.ID,
		DeviceID:  deviceID,
	})
	return nil
}

// Refresh exchanges a valid refresh token presented from deviceID for a new
// token pair.  The presented token is invalid from then on.
func (s *AuthService) Refresh(ctx context.Context, token, deviceID string) (Issued, error) {
	if token == "" {
		return Issued{}, ErrMissingRefreshToken
	}
	if deviceID == "" {
		return Issued{}, ErrMissingDeviceID
	}
	if len(token) > maxTokenLen {
		return Issued{}, ErrInvalidRefreshToken
	}

	sess, err := s.sessions.GetByRefreshHash(ctx, utils.HashRefreshRaw(token), deviceID)
	if errors.Is(err, repository.ErrNotFound) {
		return Issued{}, ErrInvalidRefreshToken
	}
	if err != nil {
		return Issued{}, fmt.Errorf("load device session: %w", err)
	}

	decoded, err := s.tokens.Decode(token)
	if err != nil || decoded.ExpiresAt == nil || !decoded.ExpiresAt.After(s.now()) {
		return Issued{}, ErrInvalidRefreshToken
	}
	claims, err := s.tokens.VerifyRefresh(token)
	if err != nil || claims.UserID != sess.UserID || claims.DeviceID != sess.DeviceID {
		return Issued{}, ErrInvalidRefreshToken
	}

	user, err := s.users.GetByID(ctx, sess.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return Issued{}, ErrInvalidRefreshToken
	}
	if err != nil {
		return Issued{}, fmt.Errorf("load user: %w", err)
	}

	issued, err := s.manager.Rotate(ctx, sess, user)
	if err != nil {
		return Issued{}, err
	}
	s.publish(ctx, queue.SessionEvent{
		Type:      queue.EventSessionRotated,
		UserID:    user.ID,
		SessionID: sess.ID,
		DeviceID:  deviceID,
	})
	return issued, nil
}

// History lists the device sessions of userID, most recently used first.
func (s *AuthService) History(ctx context.Context, userID uint64) ([]SessionView, error) {
	list, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list device sessions: %w", err)
	}
	out := make([]SessionView, 0, len(list))
	for _, d := range list {
		if d.IsPlaceholder() {
			continue
		}
		out = append(out, SessionView{
			ID:        d.ID,
			DeviceID:  d.DeviceID,
			MacID:     d.MacID,
			IPAddress: d.IPAddress,
			UserAgent: d.UserAgent,
			ExpiredAt: d.ExpiredAt,
			UpdatedAt: d.UpdatedAt,
		})
	}
	return out, nil
}

// SecretKey resolves the access token secret of a user's device session.
// It returns repository.ErrNotFound when no such session exists.
func (s *AuthService) SecretKey(ctx context.Context, userID uint64, deviceID string) (string, error) {
	secret, gen, ok := s.secrets.Get(ctx, userID, deviceID)
	if ok {
		return secret, nil
	}
	secret, err := s.sessions.GetSecretKey(ctx, userID, deviceID)
	if err != nil {
		return "", err
	}
	s.secrets.Set(ctx, userID, deviceID, secret, gen)
	return secret, nil
}

// AuthenticateAccess verifies an access token against the current secret
// of the session it names.  Tokens of rotated or deleted sessions fail.
func (s *AuthService) AuthenticateAccess(ctx context.Context, token string) (*utils.AccessClaims, error) {
	if token == "" || len(token) > maxTokenLen {
		return nil, ErrInvalidAccessToken
	}
	decoded, err := utils.DecodeAccess(token)
	if err != nil || decoded.UserID == 0 || decoded.DeviceID == "" {
		return nil, ErrInvalidAccessToken
	}
	secret, err := s.SecretKey(ctx, decoded.UserID, decoded.DeviceID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidAccessToken
	}
	if err != nil {
		return nil, fmt.Errorf("resolve session secret: %w", err)
	}
	claims, err := s.tokens.VerifyAccess(token, secret)
	if err != nil {
		return nil, ErrInvalidAccessToken
	}
	return claims, nil
}

// Me returns the profile of an authenticated user.
func (s *AuthService) Me(ctx context.Context, userID uint64) (model.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.User{}, ErrAccountNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

func (s *AuthService) publish(ctx context.Context, ev queue.SessionEvent) {
	if s.events == nil {
		return
	}
	if ev.OccurredAt == "" {
		ev.OccurredAt = s.now().Format(time.RFC3339)
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("publish session event failed", "type", ev.Type, "user_id", ev.UserID, "err", err)
	}
}

func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := utils.HashPassword("not-a-real-password", s.cost)
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}
