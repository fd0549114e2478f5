// Package config loads application configuration from environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env  string // APP_ENV (dev, test, prod)
	Port string // APP_PORT

	DBUser string // DB_USER
	DBPass string // DB_PASS, empty allowed
	DBHost string // DB_HOST
	DBPort string // DB_PORT
	DBName string // DB_NAME

	RefreshSecret         string        // REFRESH_TOKEN_SECRET
	RefreshSecretPrevious string        // REFRESH_TOKEN_SECRET_PREVIOUS, accepted for verification only
	AccessTTL             time.Duration // ACCESS_TOKEN_TTL_MIN, default 24h
	RefreshTTL            time.Duration // REFRESH_TOKEN_TTL_DAYS, default 7 days
	BcryptCost            int           // BCRYPT_COST, default 10

	CookieSecure   bool          // COOKIE_SECURE
	CookieSameSite http.SameSite // COOKIE_SAMESITE: lax, strict, none
	CORSOrigins    []string      // CORS_ALLOW_ORIGINS, comma separated
	IPSource       string        // CLIENT_IP_SOURCE: direct, xff, real_ip

	AMQPURL     string // RABBITMQ_URL or AMQP_URL; empty disables session events
	EventsQueue string // EVENTS_QUEUE
	AuditLogDir string // AUDIT_LOG_DIR, used by the worker

	LogLevel string // LOG_LEVEL
}

// LoadDotEnv loads variables from the given files (".env" when none) into
// the process environment.  Variables that are already set win.  A missing
// file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from the environment.  Every missing or
// malformed required variable is reported in the returned error.
func Load() (Config, error) {
	r := &reader{}
	cfg := Config{
		Env:  envStr("APP_ENV", "dev"),
		Port: r.must("APP_PORT"),

		DBUser: r.must("DB_USER"),
		DBPass: os.Getenv("DB_PASS"),
		DBHost: r.must("DB_HOST"),
		DBPort: r.must("DB_PORT"),
		DBName: r.must("DB_NAME"),

		RefreshSecret:         r.must("REFRESH_TOKEN_SECRET"),
		RefreshSecretPrevious: os.Getenv("REFRESH_TOKEN_SECRET_PREVIOUS"),
		AccessTTL:             time.Duration(r.optInt("ACCESS_TOKEN_TTL_MIN", 24*60)) * time.Minute,
		RefreshTTL:            time.Duration(r.optInt("REFRESH_TOKEN_TTL_DAYS", 7)) * 24 * time.Hour,
		BcryptCost:            r.optInt("BCRYPT_COST", 10),

		CookieSecure:   envBool("COOKIE_SECURE", false),
		CookieSameSite: parseSameSite(envStr("COOKIE_SAMESITE", "lax")),
		CORSOrigins:    splitList(envStr("CORS_ALLOW_ORIGINS", "*")),
		IPSource:       envStr("CLIENT_IP_SOURCE", "direct"),

		AMQPURL:     firstEnv("RABBITMQ_URL", "AMQP_URL"),
		EventsQueue: envStr("EVENTS_QUEUE", "auth.session_events"),
		AuditLogDir: envStr("AUDIT_LOG_DIR", "logs"),

		LogLevel: envStr("LOG_LEVEL", "info"),
	}
	if cfg.AccessTTL <= 0 {
		r.fail("ACCESS_TOKEN_TTL_MIN must be positive")
	}
	if cfg.RefreshTTL <= 0 {
		r.fail("REFRESH_TOKEN_TTL_DAYS must be positive")
	}
	if err := r.err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ReloadRefreshSecrets re-reads the refresh signing secrets from the given
// files (".env" when none), overriding the process environment.  When a
// file sets REFRESH_TOKEN_SECRET, REFRESH_TOKEN_SECRET_PREVIOUS is taken
// from the same file and cleared if the file omits it.  With no file
// defining the secret the current environment is used as is.
func ReloadRefreshSecrets(files ...string) (current, previous string, err error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		vals, err := godotenv.Read(f)
		if err != nil {
			return "", "", fmt.Errorf("read %s: %w", f, err)
		}
		cur, ok := vals["REFRESH_TOKEN_SECRET"]
		if !ok {
			continue
		}
		if err := os.Setenv("REFRESH_TOKEN_SECRET", cur); err != nil {
			return "", "", err
		}
		if prev, ok := vals["REFRESH_TOKEN_SECRET_PREVIOUS"]; ok {
			err = os.Setenv("REFRESH_TOKEN_SECRET_PREVIOUS", prev)
		} else {
			err = os.Unsetenv("REFRESH_TOKEN_SECRET_PREVIOUS")
		}
		if err != nil {
			return "", "", err
		}
	}
	return RefreshSecrets()
}

// RefreshSecrets returns the refresh signing secrets currently in the
// environment.
func RefreshSecrets() (current, previous string, err error) {
	current = os.Getenv("REFRESH_TOKEN_SECRET")
	if current == "" {
		return "", "", errors.New("missing required env var: REFRESH_TOKEN_SECRET")
	}
	return current, os.Getenv("REFRESH_TOKEN_SECRET_PREVIOUS"), nil
}

// DatabaseURL renders the golang-migrate URL for the configured database.
func (c Config) DatabaseURL() string {
	auth := c.DBUser
	if c.DBPass != "" {
		auth += ":" + c.DBPass
	}
	return fmt.Sprintf("mysql://%s@tcp(%s:%s)/%s?multiStatements=true", auth, c.DBHost, c.DBPort, c.DBName)
}

// reader collects problems so they can be reported together.
type reader struct{ problems []string }

func (r *reader) fail(msg string) { r.problems = append(r.problems, msg) }

func (r *reader) must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		r.fail("missing required env var: " + key)
	}
	return v
}

func (r *reader) optInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		r.fail(fmt.Sprintf("invalid int for %s: %q", key, s))
		return def
	}
	return n
}

func (r *reader) err() error {
	if len(r.problems) == 0 {
		return nil
	}
	return errors.New("config: " + strings.Join(r.problems, "; "))
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseSameSite(s string) http.SameSite {
	switch strings.ToLower(s) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
