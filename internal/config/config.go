package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// APIKeyEntry is one configured API credential. The secret is stored as a
// bcrypt hash, never in the clear.
type APIKeyEntry struct {
	Identity   string
	Role       string
	SecretHash string
}

type Config struct {
	AppEnv    string
	Port      string
	LogLevel  string
	LogFormat string

	// Optional backends. With an empty RedisURL sessions and offline queues
	// live in process memory; with an empty DatabaseURL channel history does.
	RedisURL    string
	DatabaseURL string

	JWTSecret string
	APIKeys   map[string]APIKeyEntry

	SessionTTL        time.Duration
	HeartbeatInterval time.Duration
	OfflineQueueCap   int
	HistoryLimit      int

	MaxConnections      int64
	MaxConnectionsPerIP int
	DialRate            float64
	DialBurst           int
	DialsPerMinute      int
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
		RedisURL:    getEnv("REDIS_URL", ""),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),
	}

	var err error
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval, err = getDuration("HEARTBEAT_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.OfflineQueueCap, err = getInt("OFFLINE_QUEUE_CAPACITY", 50); err != nil {
		return nil, err
	}
	if cfg.HistoryLimit, err = getInt("HISTORY_LIMIT", 100); err != nil {
		return nil, err
	}
	if cfg.MaxConnections, err = getInt64("MAX_CONNECTIONS", 10000); err != nil {
		return nil, err
	}
	if cfg.MaxConnectionsPerIP, err = getInt("MAX_CONNECTIONS_PER_IP", 100); err != nil {
		return nil, err
	}
	if cfg.DialRate, err = getFloat("CONNECTION_RATE", 10); err != nil {
		return nil, err
	}
	if cfg.DialBurst, err = getInt("CONNECTION_BURST", 10); err != nil {
		return nil, err
	}
	if cfg.DialsPerMinute, err = getInt("DIALS_PER_MINUTE", 30); err != nil {
		return nil, err
	}

	if cfg.APIKeys, err = parseAPIKeys(getEnv("API_KEYS", "")); err != nil {
		return nil, err
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if len(cfg.JWTSecret) < 16 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 16 characters, got %d", len(cfg.JWTSecret))
	}
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be positive")
	}
	if cfg.HeartbeatInterval <= 0 {
		return nil, fmt.Errorf("HEARTBEAT_INTERVAL must be positive")
	}
	if cfg.OfflineQueueCap <= 0 {
		return nil, fmt.Errorf("OFFLINE_QUEUE_CAPACITY must be positive")
	}
	if cfg.HistoryLimit <= 0 {
		return nil, fmt.Errorf("HISTORY_LIMIT must be positive")
	}
	if cfg.MaxConnections <= 0 {
		return nil, fmt.Errorf("MAX_CONNECTIONS must be positive")
	}
	if cfg.MaxConnectionsPerIP <= 0 {
		return nil, fmt.Errorf("MAX_CONNECTIONS_PER_IP must be positive")
	}

	return cfg, nil
}

// parseAPIKeys decodes the API_KEYS variable. Format: comma-separated
// entries of "keyID:identity:role:bcryptHash". Bcrypt hashes contain no
// colons or commas, so plain splitting is safe.
func parseAPIKeys(raw string) (map[string]APIKeyEntry, error) {
	keys := make(map[string]APIKeyEntry)
	if raw == "" {
		return keys, nil
	}

	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 4)
		if len(parts) != 4 {
			return nil, fmt.Errorf("API_KEYS entry %q must have form keyID:identity:role:hash", entry)
		}
		keyID, identity, role, hash := parts[0], parts[1], parts[2], parts[3]
		if keyID == "" || identity == "" {
			return nil, fmt.Errorf("API_KEYS entry %q has empty key ID or identity", entry)
		}
		if role != "member" && role != "admin" {
			return nil, fmt.Errorf("API_KEYS entry %q has unknown role %q", entry, role)
		}
		if !strings.HasPrefix(hash, "$2") {
			return nil, fmt.Errorf("API_KEYS entry %q: secret must be a bcrypt hash", entry)
		}
		if _, dup := keys[keyID]; dup {
			return nil, fmt.Errorf("API_KEYS contains duplicate key ID %q", keyID)
		}
		keys[keyID] = APIKeyEntry{Identity: identity, Role: role, SecretHash: hash}
	}
	return keys, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like \"30s\": %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getInt64(key string, defaultValue int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return f, nil
}
