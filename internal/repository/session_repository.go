package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ngthminh1709/StockExchangesBackEnd/internal/model"
)

const (
	sessionColumns = "id,user_id,device_id,mac_id,ip_address,user_agent,secret_key,refresh_token_hash,expired_at,created_at,updated_at"

	selectSessionByDeviceSQL  = "SELECT " + sessionColumns + " FROM device_sessions WHERE user_id=? AND device_id=? LIMIT 1"
	selectSessionByRefreshSQL = "SELECT " + sessionColumns + " FROM device_sessions WHERE refresh_token_hash=? AND device_id=? LIMIT 1"
	selectSessionsByUserSQL   = "SELECT " + sessionColumns + " FROM device_sessions WHERE user_id=? AND device_id IS NOT NULL ORDER BY updated_at DESC, id"
	selectSecretKeySQL        = "SELECT secret_key FROM device_sessions WHERE user_id=? AND device_id=? LIMIT 1"
	selectSessionIDSQL        = "SELECT id FROM device_sessions WHERE user_id=? AND device_id=? LIMIT 1"

	// The unique key on (user_id, device_id) turns the insert into an
	// in-place update for a known device; id is left untouched.
	upsertSessionSQL = `INSERT INTO device_sessions (id,user_id,device_id,mac_id,ip_address,user_agent,secret_key,refresh_token_hash,expired_at)
VALUES (?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE mac_id=VALUES(mac_id), ip_address=VALUES(ip_address), user_agent=VALUES(user_agent),
secret_key=VALUES(secret_key), refresh_token_hash=VALUES(refresh_token_hash), expired_at=VALUES(expired_at), updated_at=CURRENT_TIMESTAMP`

	rotateSessionSQL = "UPDATE device_sessions SET secret_key=?, refresh_token_hash=?, expired_at=?, updated_at=CURRENT_TIMESTAMP WHERE id=? AND refresh_token_hash=?"
	deleteSessionSQL = "DELETE FROM device_sessions WHERE id=? AND user_id=?"
)

// SessionRepo is the device session store backed by `device_sessions`.
// All lookups are scoped so placeholder rows (device_id NULL) never match.
type SessionRepo struct{ DB *sql.DB }

func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{DB: db} }

// Rotation carries the values written on every token issuance.
type Rotation struct {
	SecretKey        string
	RefreshTokenHash string
	ExpiredAt        time.Time
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (model.DeviceSession, error) {
	var (
		s        model.DeviceSession
		deviceID sql.NullString
		expired  sql.NullTime
	)
	err := row.Scan(&s.ID, &s.UserID, &deviceID, &s.MacID, &s.IPAddress, &s.UserAgent,
		&s.SecretKey, &s.RefreshTokenHash, &expired, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return model.DeviceSession{}, err
	}
	s.DeviceID = deviceID.String
	if expired.Valid {
		s.ExpiredAt = expired.Time
	}
	return s, nil
}

func (r *SessionRepo) getOne(ctx context.Context, query string, args ...any) (model.DeviceSession, error) {
	s, err := scanSession(r.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.DeviceSession{}, ErrNotFound
	}
	return s, err
}

// GetByUserAndDevice returns the session a user holds on a device.
func (r *SessionRepo) GetByUserAndDevice(ctx context.Context, userID uint64, deviceID string) (model.DeviceSession, error) {
	if deviceID == "" {
		return model.DeviceSession{}, ErrNotFound
	}
	return r.getOne(ctx, selectSessionByDeviceSQL, userID, deviceID)
}

// GetByRefreshHash returns the session whose current refresh token hashes
// to tokenHash on the given device.
func (r *SessionRepo) GetByRefreshHash(ctx context.Context, tokenHash, deviceID string) (model.DeviceSession, error) {
	if tokenHash == "" || deviceID == "" {
		return model.DeviceSession{}, ErrNotFound
	}
	return r.getOne(ctx, selectSessionByRefreshSQL, tokenHash, deviceID)
}

// Upsert creates the session for (s.UserID, s.DeviceID) with id s.ID, or
// overwrites the existing row's device metadata, secret, refresh hash and
// expiry while keeping its id.  It returns the id of the stored row.
func (r *SessionRepo) Upsert(ctx context.Context, s model.DeviceSession) (string, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, upsertSessionSQL,
		s.ID, s.UserID, s.DeviceID, s.MacID, s.IPAddress, s.UserAgent,
		s.SecretKey, s.RefreshTokenHash, s.ExpiredAt.UTC()); err != nil {
		return "", err
	}
	var id string
	if err := tx.QueryRowContext(ctx, selectSessionIDSQL, s.UserID, s.DeviceID).Scan(&id); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// Rotate writes next onto session id only if its stored refresh hash still
// equals expectedHash.  ErrStaleSession means another request won.
func (r *SessionRepo) Rotate(ctx context.Context, id, expectedHash string, next Rotation) error {
	res, err := r.DB.ExecContext(ctx, rotateSessionSQL,
		next.SecretKey, next.RefreshTokenHash, next.ExpiredAt.UTC(), id, expectedHash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleSession
	}
	return nil
}

// Delete removes session id if it belongs to userID.
func (r *SessionRepo) Delete(ctx context.Context, id string, userID uint64) error {
	res, err := r.DB.ExecContext(ctx, deleteSessionSQL, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByUser returns every device-bound session of a user, most recently
// used first.
func (r *SessionRepo) ListByUser(ctx context.Context, userID uint64) ([]model.DeviceSession, error) {
	rows, err := r.DB.QueryContext(ctx, selectSessionsByUserSQL, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.DeviceSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSecretKey returns the access-token secret of a user's device session.
func (r *SessionRepo) GetSecretKey(ctx context.Context, userID uint64, deviceID string) (string, error) {
	if deviceID == "" {
		return "", ErrNotFound
	}
	var secret string
	err := r.DB.QueryRowContext(ctx, selectSecretKeySQL, userID, deviceID).Scan(&secret)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && secret == "") {
		return "", ErrNotFound
	}
	return secret, err
}
