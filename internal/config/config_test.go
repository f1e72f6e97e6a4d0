package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bcrypt hash of "secret" with cost 10, used only as a syntactically valid hash.
const testHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 50, cfg.OfflineQueueCap)
	assert.Equal(t, 100, cfg.HistoryLimit)
	assert.Equal(t, int64(10000), cfg.MaxConnections)
	assert.Empty(t, cfg.APIKeys)
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoad_ShortJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "tooshort")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 16 characters")
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef")
	t.Setenv("SESSION_TTL", "banana")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_TTL")
}

func TestLoad_NegativeHeartbeat(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef")
	t.Setenv("HEARTBEAT_INTERVAL", "-5s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HEARTBEAT_INTERVAL")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef")
	t.Setenv("SESSION_TTL", "15m")
	t.Setenv("OFFLINE_QUEUE_CAPACITY", "10")
	t.Setenv("MAX_CONNECTIONS", "250")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 10, cfg.OfflineQueueCap)
	assert.Equal(t, int64(250), cfg.MaxConnections)
}

func TestParseAPIKeys_Valid(t *testing.T) {
	keys, err := parseAPIKeys("svc-1:alice:member:" + testHash + ",svc-2:ops:admin:" + testHash)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	assert.Equal(t, "alice", keys["svc-1"].Identity)
	assert.Equal(t, "member", keys["svc-1"].Role)
	assert.Equal(t, "admin", keys["svc-2"].Role)
	assert.Equal(t, testHash, keys["svc-2"].SecretHash)
}

func TestParseAPIKeys_Malformed(t *testing.T) {
	_, err := parseAPIKeys("svc-1:alice:member")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keyID:identity:role:hash")
}

func TestParseAPIKeys_UnknownRole(t *testing.T) {
	_, err := parseAPIKeys("svc-1:alice:root:" + testHash)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown role")
}

func TestParseAPIKeys_NotBcrypt(t *testing.T) {
	_, err := parseAPIKeys("svc-1:alice:member:plaintext")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bcrypt")
}

func TestParseAPIKeys_Duplicate(t *testing.T) {
	_, err := parseAPIKeys("svc-1:alice:member:" + testHash + ",svc-1:bob:member:" + testHash)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate key ID")
}
