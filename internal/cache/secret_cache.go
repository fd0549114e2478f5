// Package cache keeps per-session access token secrets in Redis so the
// access guard does not hit MySQL on every request.
package cache

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ngthminh1709/StockExchangesBackEnd/internal/config"
)

// SecretCache is a read-through cache of session secrets keyed by user and
// device.  A nil *SecretCache is valid and always misses.  Errors are
// logged and treated as misses.
//
// Each entry has a generation counter that Invalidate bumps.  A miss hands
// out the current generation and Set only writes while it is unchanged, so
// a lookup that read the database before a rotation cannot put the old
// secret back after the rotation invalidated it.
type SecretCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	genTTL time.Duration
	prefix string
	log    *slog.Logger
}

// setIfGen writes KEYS[1]=ARGV[2] with a PX of ARGV[3] only while the
// generation in KEYS[2] (absent means 0) equals ARGV[1].
var setIfGen = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// minGenTTL keeps generation counters well past any in-flight lookup.
const minGenTTL = time.Hour

// NewSecretCache returns nil when the cache is disabled or rdb is nil.
func NewSecretCache(cfg config.SecretCacheConfig, rdb *redis.Client, logger *slog.Logger) *SecretCache {
	if !cfg.Enabled || rdb == nil || cfg.TTL <= 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "auth:secret"
	}
	genTTL := cfg.TTL
	if genTTL < minGenTTL {
		genTTL = minGenTTL
	}
	return &SecretCache{rdb: rdb, ttl: cfg.TTL, genTTL: genTTL, prefix: prefix, log: logger}
}

func (s *SecretCache) key(userID uint64, deviceID string) string {
	return s.prefix + ":" + strconv.FormatUint(userID, 10) + ":" + deviceID
}

func (s *SecretCache) genKey(userID uint64, deviceID string) string {
	return s.key(userID, deviceID) + ":gen"
}

// Get returns the cached secret.  On a miss it returns the generation a
// following Set must present.
func (s *SecretCache) Get(ctx context.Context, userID uint64, deviceID string) (string, int64, bool) {
	if s == nil || deviceID == "" {
		return "", 0, false
	}
	vals, err := s.rdb.MGet(ctx, s.key(userID, deviceID), s.genKey(userID, deviceID)).Result()
	if err != nil {
		s.log.Warn("secret cache get failed", "user_id", userID, "err", err)
		return "", -1, false
	}
	var gen int64
	if g, ok := vals[1].(string); ok {
		if gen, err = strconv.ParseInt(g, 10, 64); err != nil {
			return "", -1, false
		}
	}
	if secret, ok := vals[0].(string); ok && secret != "" {
		return secret, gen, true
	}
	return "", gen, false
}

// Set stores secret if the entry has not been invalidated since the Get
// that returned gen.  A negative gen never writes.
func (s *SecretCache) Set(ctx context.Context, userID uint64, deviceID, secret string, gen int64) {
	if s == nil || deviceID == "" || secret == "" || gen < 0 {
		return
	}
	keys := []string{s.key(userID, deviceID), s.genKey(userID, deviceID)}
	err := setIfGen.Run(ctx, s.rdb, keys, strconv.FormatInt(gen, 10), secret, s.ttl.Milliseconds()).Err()
	if err != nil {
		s.log.Warn("secret cache set failed", "user_id", userID, "err", err)
	}
}

// Invalidate drops the cached secret and bumps its generation.
func (s *SecretCache) Invalidate(ctx context.Context, userID uint64, deviceID string) {
	if s == nil || deviceID == "" {
		return
	}
	gk := s.genKey(userID, deviceID)
	pipe := s.rdb.TxPipeline()
	pipe.Incr(ctx, gk)
	pipe.PExpire(ctx, gk, s.genTTL)
	pipe.Del(ctx, s.key(userID, deviceID))
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn("secret cache invalidate failed", "user_id", userID, "err", err)
	}
}
