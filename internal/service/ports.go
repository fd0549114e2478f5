package service

import (
	"context"

	"github.com/ngthminh1709/StockExchangesBackEnd/internal/model"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/queue"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/repository"
)

// UserStore is the credential store.  *repository.UserRepo implements it.
type UserStore interface {
	Create(ctx context.Context, u model.User, password string, cost int) (uint64, error)
	GetByAccountName(ctx context.Context, name string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// SessionStore is the device session store.  *repository.SessionRepo
// implements it.
type SessionStore interface {
	GetByUserAndDevice(ctx context.Context, userID uint64, deviceID string) (model.DeviceSession, error)
	GetByRefreshHash(ctx context.Context, tokenHash, deviceID string) (model.DeviceSession, error)
	Upsert(ctx context.Context, s model.DeviceSession) (string, error)
	Rotate(ctx context.Context, id, expectedHash string, next repository.Rotation) error
	Delete(ctx context.Context, id string, userID uint64) error
	ListByUser(ctx context.Context, userID uint64) ([]model.DeviceSession, error)
	GetSecretKey(ctx context.Context, userID uint64, deviceID string) (string, error)
}

// SecretCache keeps per-session secrets close to the access guard.
// Implementations are best effort: a miss or a failure falls back to the
// session store.  Get reports a generation on a miss; Set writes only if
// no Invalidate happened since, so a slow lookup cannot cache a secret
// that was already rotated.
type SecretCache interface {
	Get(ctx context.Context, userID uint64, deviceID string) (secret string, gen int64, ok bool)
	Set(ctx context.Context, userID uint64, deviceID, secret string, gen int64)
	Invalidate(ctx context.Context, userID uint64, deviceID string)
}

// EventPublisher emits session lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.SessionEvent) error
}

type noopSecretCache struct{}

func (noopSecretCache) Get(context.Context, uint64, string) (string, int64, bool) {
	return "", 0, false
}
func (noopSecretCache) Set(context.Context, uint64, string, string, int64) {}
func (noopSecretCache) Invalidate(context.Context, uint64, string)        {}
