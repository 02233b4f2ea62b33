package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, name := range []string{"PORT", "BACKEND_URL", "BACKEND_TIMEOUT", "BACKEND_RETRIES", "SESSION_BACKEND", "IDENTITY_TTL", "ALLOWED_ORIGINS", "BOOTSTRAP_ADMIN"} {
		t.Setenv(name, "")
	}

	cfg := Load()

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, "http://localhost:8000", cfg.BackendURL)
	assert.Equal(t, 10*time.Second, cfg.BackendTimeout)
	assert.Equal(t, 1, cfg.BackendRetries)
	assert.Equal(t, "cookie", cfg.SessionBackend)
	assert.Equal(t, 5*time.Minute, cfg.IdentityTTL)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.True(t, cfg.BootstrapAdminEnabled)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("BACKEND_URL", "http://api.internal:9000/")
	t.Setenv("BACKEND_TIMEOUT", "3s")
	t.Setenv("BACKEND_RETRIES", "0")
	t.Setenv("SESSION_BACKEND", "Redis")
	t.Setenv("IDENTITY_TTL", "90")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("BOOTSTRAP_ADMIN", "false")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "http://api.internal:9000", cfg.BackendURL)
	assert.Equal(t, 3*time.Second, cfg.BackendTimeout)
	assert.Equal(t, 0, cfg.BackendRetries)
	assert.Equal(t, "redis", cfg.SessionBackend)
	assert.Equal(t, 90*time.Second, cfg.IdentityTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.False(t, cfg.BootstrapAdminEnabled)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("BACKEND_TIMEOUT", "soon")
	t.Setenv("BACKEND_RETRIES", "many")
	t.Setenv("BOOTSTRAP_ADMIN", "maybe")

	cfg := Load()

	assert.Equal(t, 10*time.Second, cfg.BackendTimeout)
	assert.Equal(t, 1, cfg.BackendRetries)
	assert.True(t, cfg.BootstrapAdminEnabled)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "portal.env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=4100\nLOG_LEVEL=debug\n"), 0o600))
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "warn")
	os.Unsetenv("PORT")

	require.NoError(t, LoadEnvFile(path))

	assert.Equal(t, "4100", os.Getenv("PORT"))
	assert.Equal(t, "warn", os.Getenv("LOG_LEVEL"))
	assert.NoError(t, LoadEnvFile(filepath.Join(dir, "missing.env")))
}
