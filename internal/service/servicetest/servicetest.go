// Package servicetest provides in-memory implementations of the service
// store, cache and publisher ports for tests.
package servicetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ngthminh1709/StockExchangesBackEnd/internal/model"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/queue"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/repository"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/utils"
)

// Store is an in-memory stand-in for the MySQL stores.  It keeps the
// same uniqueness and conditional-update rules as the SQL.
type Store struct {
	mu       sync.Mutex
	nextID   uint64
	users    map[uint64]model.User
	sessions map[string]model.DeviceSession
	clock    time.Time
}

func NewStore() *Store {
	return &Store{
		users:    map[uint64]model.User{},
		sessions: map[string]model.DeviceSession{},
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *Store) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *Store) Create(ctx context.Context, u model.User, password string, cost int) (uint64, error) {
	hash, err := utils.HashPasswordContext(ctx, password, cost)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u.AccountName = repository.NormalizeAccountName(u.AccountName)
	for _, existing := range m.users {
		if repository.SameAccountName(existing.AccountName, u.AccountName) {
			return 0, repository.ErrAccountExists
		}
	}
	m.nextID++
	u.ID = m.nextID
	u.PasswordHash = hash
	u.CreatedAt = m.tick()
	u.UpdatedAt = u.CreatedAt
	m.users[u.ID] = u
	id := uuid.NewString()
	m.sessions[id] = model.DeviceSession{ID: id, UserID: u.ID, CreatedAt: u.CreatedAt, UpdatedAt: u.CreatedAt}
	return u.ID, nil
}

func (m *Store) GetByAccountName(_ context.Context, name string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if repository.SameAccountName(u.AccountName, name) {
			return u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (m *Store) GetByID(_ context.Context, id uint64) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (m *Store) find(match func(model.DeviceSession) bool) (model.DeviceSession, error) {
	for _, s := range m.sessions {
		if !s.IsPlaceholder() && match(s) {
			return s, nil
		}
	}
	return model.DeviceSession{}, repository.ErrNotFound
}

func (m *Store) GetByUserAndDevice(_ context.Context, userID uint64, deviceID string) (model.DeviceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if deviceID == "" {
		return model.DeviceSession{}, repository.ErrNotFound
	}
	return m.find(func(s model.DeviceSession) bool { return s.UserID == userID && s.DeviceID == deviceID })
}

func (m *Store) GetByRefreshHash(_ context.Context, tokenHash, deviceID string) (model.DeviceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tokenHash == "" || deviceID == "" {
		return model.DeviceSession{}, repository.ErrNotFound
	}
	return m.find(func(s model.DeviceSession) bool { return s.RefreshTokenHash == tokenHash && s.DeviceID == deviceID })
}

func (m *Store) Upsert(_ context.Context, s model.DeviceSession) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	if existing, err := m.find(func(e model.DeviceSession) bool {
		return e.UserID == s.UserID && e.DeviceID == s.DeviceID
	}); err == nil {
		existing.MacID, existing.IPAddress, existing.UserAgent = s.MacID, s.IPAddress, s.UserAgent
		existing.SecretKey, existing.RefreshTokenHash, existing.ExpiredAt = s.SecretKey, s.RefreshTokenHash, s.ExpiredAt
		existing.UpdatedAt = now
		m.sessions[existing.ID] = existing
		return existing.ID, nil
	}
	s.CreatedAt, s.UpdatedAt = now, now
	m.sessions[s.ID] = s
	return s.ID, nil
}

func (m *Store) Rotate(_ context.Context, id, expectedHash string, next repository.Rotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.RefreshTokenHash != expectedHash {
		return repository.ErrStaleSession
	}
	s.SecretKey, s.RefreshTokenHash, s.ExpiredAt = next.SecretKey, next.RefreshTokenHash, next.ExpiredAt
	s.UpdatedAt = m.tick()
	m.sessions[id] = s
	return nil
}

func (m *Store) Delete(_ context.Context, id string, userID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.UserID != userID {
		return repository.ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *Store) ListByUser(_ context.Context, userID uint64) ([]model.DeviceSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.DeviceSession{}
	for _, s := range m.sessions {
		if s.UserID == userID && !s.IsPlaceholder() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *Store) GetSecretKey(_ context.Context, userID uint64, deviceID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.find(func(s model.DeviceSession) bool { return s.UserID == userID && s.DeviceID == deviceID })
	if err != nil || s.SecretKey == "" {
		return "", repository.ErrNotFound
	}
	return s.SecretKey, nil
}

// Count returns the number of rows, placeholders included, owned by userID.
func (m *Store) Count(userID uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.UserID == userID {
			n++
		}
	}
	return n
}

// Publisher records published events and returns Err from every call.
type Publisher struct {
	mu     sync.Mutex
	events []queue.SessionEvent
	Err    error
}

func (p *Publisher) Publish(_ context.Context, ev queue.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.Err
}

func (p *Publisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

// SecretCache is a map-backed secret cache that counts hits.  It applies
// the same generation rule as the Redis cache.
type SecretCache struct {
	mu   sync.Mutex
	data map[string]string
	gens map[string]int64
	Hits int
}

func NewSecretCache() *SecretCache {
	return &SecretCache{data: map[string]string{}, gens: map[string]int64{}}
}

func cacheKey(userID uint64, deviceID string) string {
	return fmt.Sprintf("%d:%s", userID, deviceID)
}

func (c *SecretCache) Get(_ context.Context, userID uint64, deviceID string) (string, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := cacheKey(userID, deviceID)
	v, ok := c.data[k]
	if ok {
		c.Hits++
	}
	return v, c.gens[k], ok
}

func (c *SecretCache) Set(_ context.Context, userID uint64, deviceID, secret string, gen int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := cacheKey(userID, deviceID)
	if c.gens[k] != gen {
		return
	}
	c.data[k] = secret
}

func (c *SecretCache) Invalidate(_ context.Context, userID uint64, deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := cacheKey(userID, deviceID)
	c.gens[k]++
	delete(c.data, k)
}
