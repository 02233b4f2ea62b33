package core

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime settings for the portal and the development backend.
type Config struct {
	Port                     string        // HTTP listen port (e.g., "3000")
	SessionKey               string        // Cookie signing key
	CookieSecure             bool          // Whether to set Secure flag on session cookie
	CookieSameSite           string        // SameSite policy: Strict/Lax/None
	LogDir                   string        // Directory to write application logs
	LogLevel                 string        // zap level name (debug, info, warn, error)
	BackendURL               string        // REST backend base URL
	BackendTimeout           time.Duration // per-attempt timeout for backend calls
	BackendRetries           int           // retries after a failed idempotent call (one-shot by default)
	SessionBackend           string        // "cookie" or "redis"
	RedisURL                 string        // Redis URL (redis://host:port/db), used when SessionBackend=redis
	IdentityTTL              time.Duration // how long a resolved identity is reused before asking the backend again
	AllowedOrigins           []string      // extra origins allowed besides the portal's own host
	RoutesFile               string        // optional route table override; embedded table when empty
	DevAPIPort               string        // listen port of the development backend
	DevAPISecret             string        // HS256 secret for development backend tokens
	DevAPITokenTTL           time.Duration // lifetime of development backend tokens
	DevAPISeedFile           string        // optional seed override for the development backend
	InitialAdminPasswordPath string        // where to write generated admin password (if empty -> log output)
	BootstrapAdminEnabled    bool          // whether the development backend creates an admin when none is seeded
}

// Load populates Config from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port:                     firstNonEmpty(os.Getenv("PORT"), "3000"),
		SessionKey:               firstNonEmpty(os.Getenv("SESSION_KEY"), "change-this-session-key"),
		CookieSecure:             boolFromEnv("COOKIE_SECURE", false),
		CookieSameSite:           firstNonEmpty(os.Getenv("COOKIE_SAMESITE"), "Lax"),
		LogDir:                   firstNonEmpty(os.Getenv("LOG_DIR"), "./log"),
		LogLevel:                 firstNonEmpty(os.Getenv("LOG_LEVEL"), "info"),
		BackendURL:               strings.TrimRight(firstNonEmpty(os.Getenv("BACKEND_URL"), "http://localhost:8000"), "/"),
		BackendTimeout:           durationFromEnv("BACKEND_TIMEOUT", 10*time.Second),
		BackendRetries:           intFromEnv("BACKEND_RETRIES", 1),
		SessionBackend:           strings.ToLower(firstNonEmpty(os.Getenv("SESSION_BACKEND"), "cookie")),
		RedisURL:                 firstNonEmpty(os.Getenv("REDIS_URL"), "redis://localhost:6379/0"),
		IdentityTTL:              durationFromEnv("IDENTITY_TTL", 5*time.Minute),
		AllowedOrigins:           parseCSV(os.Getenv("ALLOWED_ORIGINS")),
		RoutesFile:               os.Getenv("ROUTES_FILE"),
		DevAPIPort:               firstNonEmpty(os.Getenv("DEVAPI_PORT"), "8000"),
		DevAPISecret:             firstNonEmpty(os.Getenv("DEVAPI_SECRET"), "change-this-devapi-secret"),
		DevAPITokenTTL:           durationFromEnv("DEVAPI_TOKEN_TTL", 8*time.Hour),
		DevAPISeedFile:           os.Getenv("DEVAPI_SEED_FILE"),
		InitialAdminPasswordPath: os.Getenv("INITIAL_ADMIN_PASSWORD_PATH"),
		BootstrapAdminEnabled:    boolFromEnv("BOOTSTRAP_ADMIN", true),
	}
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error; variables already set win.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// boolFromEnv reads a boolean from env var name, falling back to defaultVal when empty or invalid.
func boolFromEnv(name string, defaultVal bool) bool {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// intFromEnv reads an int from env var name, falling back to defaultVal when empty or invalid.
func intFromEnv(name string, defaultVal int) int {
	if v := os.Getenv(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

// durationFromEnv accepts Go durations ("90s") or plain seconds ("90").
func durationFromEnv(name string, defaultVal time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}

// parseCSV splits comma-separated list and trims spaces; empty entries are skipped.
func parseCSV(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
