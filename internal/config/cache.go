package config

import "time"

// SecretCacheConfig defines settings for the Redis cache of per-session
// access token secrets.  Entries are dropped on every rotation and logout;
// TTL bounds how long a stale entry can live if an invalidation is lost.
type SecretCacheConfig struct {
	Enabled bool
	TTL     time.Duration
	Prefix  string
}

// LoadSecretCacheConfig reads SECRET_CACHE_* variables.
func LoadSecretCacheConfig() SecretCacheConfig {
	c := SecretCacheConfig{
		Enabled: envBool("SECRET_CACHE_ENABLED", true),
		TTL:     envDur("SECRET_CACHE_TTL", 30*time.Second),
		Prefix:  envStr("SECRET_CACHE_PREFIX", "auth:secret"),
	}
	if c.TTL <= 0 {
		c.Enabled = false
	}
	return c
}
