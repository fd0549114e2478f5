package utils // package utils provides helper functions for token creation and hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned when a token is malformed, expired or
// signed with an unexpected key or algorithm.
var ErrInvalidToken = errors.New("invalid token")

// ErrMissingSecret is returned when the refresh signing secret is empty.
var ErrMissingSecret = errors.New("refresh token secret is empty")

// AccessClaims is the payload of an access token.  It binds the bearer to
// one user, role tier and device.
type AccessClaims struct {
	UserID   uint64 `json:"userId"`
	Role     uint8  `json:"role"`
	DeviceID string `json:"deviceId"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token.
type RefreshClaims struct {
	UserID   uint64 `json:"userId"`
	DeviceID string `json:"deviceId"`
	jwt.RegisteredClaims
}

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// RefreshToken represents a signed refresh JWT returned to the client in
// a cookie.  Only its SHA‑256 hash is persisted.
type RefreshToken struct {
	Raw string    // raw token string returned to the client
	Exp time.Time // UTC expiration time
}

type refreshKeys struct {
	current  []byte
	previous []byte
}

// TokenIssuer signs and validates access and refresh tokens.  Access
// tokens are signed with a per-session secret supplied by the caller.
// Refresh tokens are signed with the process-wide refresh secret, which is
// injected at construction and may be swapped at runtime with
// SetRefreshSecrets.  It is safe for concurrent use.
type TokenIssuer struct {
	accessTTL  time.Duration
	refreshTTL time.Duration
	keys       atomic.Pointer[refreshKeys]
	now        func() time.Time
}

// NewTokenIssuer returns an issuer using the given refresh secrets and
// lifetimes.  previous may be empty.
func NewTokenIssuer(refreshSecret, previous string, accessTTL, refreshTTL time.Duration) (*TokenIssuer, error) {
	i := &TokenIssuer{
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if err := i.SetRefreshSecrets(refreshSecret, previous); err != nil {
		return nil, err
	}
	return i, nil
}

// SetRefreshSecrets replaces the refresh keyset.  New refresh tokens are
// signed with current; verification accepts current and then previous so
// tokens issued before a rotation stay valid until they expire.
func (i *TokenIssuer) SetRefreshSecrets(current, previous string) error {
	if current == "" {
		return ErrMissingSecret
	}
	k := &refreshKeys{current: []byte(current)}
	if previous != "" && previous != current {
		k.previous = []byte(previous)
	}
	i.keys.Store(k)
	return nil
}

// AccessTTL is the lifetime of issued access tokens.
func (i *TokenIssuer) AccessTTL() time.Duration { return i.accessTTL }

// IssueAccessToken builds and signs an HS256 access token for a device
// session using that session's secret key.
func (i *TokenIssuer) IssueAccessToken(userID uint64, role uint8, deviceID, secretKey string) (AccessToken, error) {
	if secretKey == "" {
		return AccessToken{}, ErrMissingSecret
	}
	now := i.now()
	exp := now.Add(i.accessTTL)
	claims := AccessClaims{
		UserID:   userID,
		Role:     role,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secretKey))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// IssueRefreshToken signs a refresh token with the current refresh
// secret.  Each token carries a random jti so a rotated token never
// equals the one it replaces.
func (i *TokenIssuer) IssueRefreshToken(userID uint64, deviceID string) (RefreshToken, error) {
	now := i.now()
	exp := now.Add(i.refreshTTL)
	claims := RefreshClaims{
		UserID:   userID,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.keys.Load().current)
	if err != nil {
		return RefreshToken{}, err
	}
	return RefreshToken{Raw: signed, Exp: exp}, nil
}

// Decode parses a refresh token without checking its signature.  It is
// only suitable for reading claims such as the expiry.
func (i *TokenIssuer) Decode(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// DecodeAccess parses an access token without checking its signature.
// Callers use it to find the session whose secret verifies the token.
func DecodeAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyAccess checks signature and expiry of an access token against a
// session secret and returns its claims.
func (i *TokenIssuer) VerifyAccess(token, secretKey string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := i.parse(token, claims, []byte(secretKey)); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefresh checks signature and expiry of a refresh token against
// the current refresh secret, falling back to the previous one.
func (i *TokenIssuer) VerifyRefresh(token string) (*RefreshClaims, error) {
	keys := i.keys.Load()
	claims := &RefreshClaims{}
	err := i.parse(token, claims, keys.current)
	if err == nil {
		return claims, nil
	}
	if keys.previous == nil {
		return nil, err
	}
	claims = &RefreshClaims{}
	if err := i.parse(token, claims, keys.previous); err != nil {
		return nil, err
	}
	return claims, nil
}

// Verify reports whether token has a valid signature under secret and is
// not expired.
func (i *TokenIssuer) Verify(token, secret string) bool {
	return i.parse(token, &jwt.RegisteredClaims{}, []byte(secret)) == nil
}

func (i *TokenIssuer) parse(token string, claims jwt.Claims, key []byte) error {
	if len(key) == 0 {
		return ErrInvalidToken
	}
	tok, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !tok.Valid {
		return ErrInvalidToken
	}
	return nil
}

// HashRefreshRaw returns the SHA‑256 hash of the raw refresh token as a hex
// string.  Storing only the hash in the database prevents attackers from
// using stolen database entries to refresh sessions.
func HashRefreshRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
