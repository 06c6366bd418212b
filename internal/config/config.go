package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port         int
	MasterSecret string
	// MasterSecretParam names an SSM parameter that holds the master secret.
	MasterSecretParam string
	GinMode           string
	TLSCertFile       string
	TLSKeyFile        string
	TokenExpiry       time.Duration

	LogLevel  string
	LogFormat string

	RepositoryBackend string
	DatabaseURL       string
	SessionsStateFile string

	HotStoreBackend string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int

	SnapshotBackend    string
	SnapshotSQLitePath string
	SnapshotTable      string

	BlobBackend string
	BlobDir     string
	BlobBaseURL string
	BlobBucket  string

	ConnectorURL        string
	ReconnectPolicyFile string
	ReconnectBase       time.Duration
	ReconnectCap        time.Duration

	QRTTL               time.Duration
	InboundDedupeTTL    time.Duration
	OutboundDedupeTTL   time.Duration
	OutboundFallbackTTL time.Duration
	SendRateLimitPerMin int
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

// LoadConfig reads a .env file when one exists, without overriding variables
// that are already set, and then loads the environment.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return LoadConfigFromEnv(osEnv{})
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Port:                3000,
		GinMode:             "release",
		TokenExpiry:         7 * 24 * time.Hour,
		LogLevel:            "info",
		LogFormat:           "json",
		RepositoryBackend:   "memory",
		HotStoreBackend:     "memory",
		SnapshotBackend:     "sqlite",
		SnapshotSQLitePath:  "data/auth.db",
		SnapshotTable:       "wa-auth-snapshots",
		BlobBackend:         "fs",
		BlobDir:             "data/media",
		BlobBaseURL:         "/media",
		ReconnectBase:       2 * time.Second,
		ReconnectCap:        30 * time.Second,
		QRTTL:               60 * time.Second,
		InboundDedupeTTL:    24 * time.Hour,
		OutboundDedupeTTL:   24 * time.Hour,
		OutboundFallbackTTL: 10 * time.Second,
		SendRateLimitPerMin: 60,
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	cfg.MasterSecret = env.Getenv("MASTER_SECRET")
	cfg.MasterSecretParam = env.Getenv("MASTER_SECRET_PARAM")
	if cfg.MasterSecret == "" && cfg.MasterSecretParam == "" {
		return Config{}, fmt.Errorf("MASTER_SECRET is required")
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")

	var err error
	if cfg.TokenExpiry, err = seconds(env, "TOKEN_EXPIRY_SECONDS", cfg.TokenExpiry); err != nil {
		return Config{}, err
	}

	if raw := env.Getenv("LOG_LEVEL"); raw != "" {
		cfg.LogLevel = strings.ToLower(raw)
	}
	if raw := env.Getenv("LOG_FORMAT"); raw != "" {
		cfg.LogFormat = strings.ToLower(raw)
		if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
			return Config{}, fmt.Errorf("invalid LOG_FORMAT")
		}
	}

	if cfg.RepositoryBackend, err = oneOf(env, "REPOSITORY_BACKEND", cfg.RepositoryBackend, "memory", "postgres"); err != nil {
		return Config{}, err
	}
	cfg.DatabaseURL = env.Getenv("DATABASE_URL")
	if cfg.RepositoryBackend == "postgres" && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required for the postgres repository backend")
	}
	cfg.SessionsStateFile = env.Getenv("SESSIONS_STATE_FILE")

	if cfg.HotStoreBackend, err = oneOf(env, "HOT_STORE_BACKEND", cfg.HotStoreBackend, "memory", "redis"); err != nil {
		return Config{}, err
	}
	cfg.RedisAddr = env.Getenv("REDIS_ADDR")
	cfg.RedisPassword = env.Getenv("REDIS_PASSWORD")
	if cfg.HotStoreBackend == "redis" && cfg.RedisAddr == "" {
		return Config{}, fmt.Errorf("REDIS_ADDR is required for the redis hot store")
	}
	if raw := env.Getenv("REDIS_DB"); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil || db < 0 {
			return Config{}, fmt.Errorf("invalid REDIS_DB")
		}
		cfg.RedisDB = db
	}

	if cfg.SnapshotBackend, err = oneOf(env, "SNAPSHOT_BACKEND", cfg.SnapshotBackend, "sqlite", "dynamodb"); err != nil {
		return Config{}, err
	}
	if raw := env.Getenv("SNAPSHOT_SQLITE_PATH"); raw != "" {
		cfg.SnapshotSQLitePath = raw
	}
	if raw := env.Getenv("SNAPSHOT_TABLE"); raw != "" {
		cfg.SnapshotTable = raw
	}

	if cfg.BlobBackend, err = oneOf(env, "BLOB_BACKEND", cfg.BlobBackend, "fs", "s3"); err != nil {
		return Config{}, err
	}
	if raw := env.Getenv("BLOB_DIR"); raw != "" {
		cfg.BlobDir = raw
	}
	if raw, ok := lookup(env, "BLOB_BASE_URL"); ok {
		cfg.BlobBaseURL = raw
	}
	cfg.BlobBucket = env.Getenv("BLOB_BUCKET")
	if cfg.BlobBackend == "s3" && cfg.BlobBucket == "" {
		return Config{}, fmt.Errorf("BLOB_BUCKET is required for the s3 blob backend")
	}

	cfg.ConnectorURL = env.Getenv("CONNECTOR_URL")
	if cfg.ConnectorURL == "" {
		return Config{}, fmt.Errorf("CONNECTOR_URL is required")
	}
	cfg.ReconnectPolicyFile = env.Getenv("RECONNECT_POLICY_FILE")
	if cfg.ReconnectBase, err = seconds(env, "RECONNECT_BASE_SECONDS", cfg.ReconnectBase); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectCap, err = seconds(env, "RECONNECT_CAP_SECONDS", cfg.ReconnectCap); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectCap < cfg.ReconnectBase {
		return Config{}, fmt.Errorf("invalid RECONNECT_CAP_SECONDS")
	}

	if cfg.QRTTL, err = seconds(env, "QR_TTL_SECONDS", cfg.QRTTL); err != nil {
		return Config{}, err
	}
	if cfg.InboundDedupeTTL, err = seconds(env, "INBOUND_DEDUPE_TTL_SECONDS", cfg.InboundDedupeTTL); err != nil {
		return Config{}, err
	}
	if cfg.OutboundDedupeTTL, err = seconds(env, "OUTBOUND_DEDUPE_TTL_SECONDS", cfg.OutboundDedupeTTL); err != nil {
		return Config{}, err
	}
	if cfg.OutboundFallbackTTL, err = seconds(env, "OUTBOUND_FALLBACK_TTL_SECONDS", cfg.OutboundFallbackTTL); err != nil {
		return Config{}, err
	}

	if raw := env.Getenv("SEND_RATE_LIMIT_PER_MINUTE"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid SEND_RATE_LIMIT_PER_MINUTE")
		}
		cfg.SendRateLimitPerMin = n
	}

	return cfg, nil
}

func seconds(env Env, key string, def time.Duration) (time.Duration, error) {
	raw := env.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return time.Duration(n) * time.Second, nil
}

func oneOf(env Env, key, def string, allowed ...string) (string, error) {
	raw := strings.ToLower(strings.TrimSpace(env.Getenv(key)))
	if raw == "" {
		return def, nil
	}
	for _, a := range allowed {
		if raw == a {
			return raw, nil
		}
	}
	return "", fmt.Errorf("invalid %s", key)
}

// lookup distinguishes an unset variable from one set to "".
func lookup(env Env, key string) (string, bool) {
	if l, ok := env.(interface {
		LookupEnv(string) (string, bool)
	}); ok {
		return l.LookupEnv(key)
	}
	v := env.Getenv(key)
	return v, v != ""
}

func (osEnv) LookupEnv(key string) (string, bool) { return os.LookupEnv(key) }
