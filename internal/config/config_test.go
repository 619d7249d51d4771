package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "STORE_BACKEND", "REDIS_URL", "JWT_TTL", "ENFORCE_SENDER_DELETE", "DEBUG_ROUTES"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "8083", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Empty(t, cfg.Redis.URL)
	assert.Equal(t, 7*24*time.Hour, cfg.JWT.TTL)
	assert.False(t, cfg.Chat.EnforceSenderDelete)
	assert.False(t, cfg.Server.DebugRoutes)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_TTL", "1h")
	t.Setenv("ENFORCE_SENDER_DELETE", "true")
	t.Setenv("READ_TIMEOUT", "not-a-duration")

	cfg := Load()

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, time.Hour, cfg.JWT.TTL)
	assert.True(t, cfg.Chat.EnforceSenderDelete)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
}
