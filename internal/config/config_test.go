package config

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("APP_PORT", "8080")
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", "3306")
	t.Setenv("DB_NAME", "auth")
	t.Setenv("REFRESH_TOKEN_SECRET", "s3cret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTTL)
	assert.Equal(t, 10, cfg.BcryptCost)
	assert.Equal(t, http.SameSiteLaxMode, cfg.CookieSameSite)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "direct", cfg.IPSource)
	assert.Equal(t, "mysql://root@tcp(127.0.0.1:3306)/auth?multiStatements=true", cfg.DatabaseURL())
}

func TestLoad_ReportsAllMissing(t *testing.T) {
	for _, k := range []string{"APP_PORT", "DB_USER", "DB_HOST", "DB_PORT", "DB_NAME", "REFRESH_TOKEN_SECRET"} {
		t.Setenv(k, "")
	}

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APP_PORT")
	assert.Contains(t, err.Error(), "REFRESH_TOKEN_SECRET")
}

func TestLoad_InvalidInt(t *testing.T) {
	setRequired(t)
	t.Setenv("BCRYPT_COST", "ten")

	_, err := Load()
	assert.ErrorContains(t, err, "BCRYPT_COST")
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("ACCESS_TOKEN_TTL_MIN", "15")
	t.Setenv("COOKIE_SAMESITE", "strict")
	t.Setenv("CORS_ALLOW_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("AMQP_URL", "amqp://localhost")
	t.Setenv("DB_PASS", "pw")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, http.SameSiteStrictMode, cfg.CookieSameSite)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, "amqp://localhost", cfg.AMQPURL)
	assert.Contains(t, cfg.DatabaseURL(), "root:pw@tcp")
}

func TestRefreshSecrets(t *testing.T) {
	t.Setenv("REFRESH_TOKEN_SECRET", "new")
	t.Setenv("REFRESH_TOKEN_SECRET_PREVIOUS", "old")
	cur, prev, err := RefreshSecrets()
	require.NoError(t, err)
	assert.Equal(t, "new", cur)
	assert.Equal(t, "old", prev)

	t.Setenv("REFRESH_TOKEN_SECRET", "")
	_, _, err = RefreshSecrets()
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("DOTENV_SAMPLE_KEY=from-file\n"), 0o600))
	t.Setenv("DOTENV_SAMPLE_KEY", "")
	require.NoError(t, os.Unsetenv("DOTENV_SAMPLE_KEY"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("DOTENV_SAMPLE_KEY"))
}

func TestReloadRefreshSecrets_OverridesEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("REFRESH_TOKEN_SECRET=old\n"), 0o600))
	t.Setenv("REFRESH_TOKEN_SECRET", "")
	t.Setenv("REFRESH_TOKEN_SECRET_PREVIOUS", "")
	require.NoError(t, os.Unsetenv("REFRESH_TOKEN_SECRET"))
	require.NoError(t, os.Unsetenv("REFRESH_TOKEN_SECRET_PREVIOUS"))
	require.NoError(t, LoadDotEnv(path))

	require.NoError(t, os.WriteFile(path, []byte("REFRESH_TOKEN_SECRET=new\nREFRESH_TOKEN_SECRET_PREVIOUS=old\n"), 0o600))
	cur, prev, err := ReloadRefreshSecrets(path)
	require.NoError(t, err)
	assert.Equal(t, "new", cur)
	assert.Equal(t, "old", prev)
	assert.Equal(t, "new", os.Getenv("REFRESH_TOKEN_SECRET"))

	// Dropping the previous secret from the file retires it.
	require.NoError(t, os.WriteFile(path, []byte("REFRESH_TOKEN_SECRET=newer\n"), 0o600))
	cur, prev, err = ReloadRefreshSecrets(path)
	require.NoError(t, err)
	assert.Equal(t, "newer", cur)
	assert.Empty(t, prev)
}

func TestReloadRefreshSecrets_NoFileKeepsEnv(t *testing.T) {
	t.Setenv("REFRESH_TOKEN_SECRET", "from-env")
	t.Setenv("REFRESH_TOKEN_SECRET_PREVIOUS", "older")

	cur, prev, err := ReloadRefreshSecrets(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cur)
	assert.Equal(t, "older", prev)
}

func TestLoadRateLimitConfig_Clamps(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	c := LoadRateLimitConfig()
	assert.Equal(t, 1, c.Capacity)
	assert.Equal(t, 10*time.Second, c.TTL)
	assert.Equal(t, "ip_device_route", c.KeyStrategy)
}

func TestLoadSecretCacheConfig(t *testing.T) {
	t.Setenv("SECRET_CACHE_TTL", "0s")
	assert.False(t, LoadSecretCacheConfig().Enabled)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	client := NewRedisClient(RedisConfig{Addr: addr})
	require.NotNil(t, client)
	_ = client.Close()

	mr.Close()
	assert.Nil(t, NewRedisClient(RedisConfig{Addr: addr}))
}
