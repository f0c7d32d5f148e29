package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"llm_router/internal/auth"
	"llm_router/internal/ranking"
)

// Config holds configuration for the router.
type Config struct {
	HTTP     HTTPConfig
	Log      LogConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Redis    RedisConfig
	Provider ProviderConfig
	Usage    UsageConfig

	// EncryptionKey is the 32-byte master key for credential payloads.
	EncryptionKey []byte

	// JWTSecret signs service tokens. Derived from EncryptionKey when unset.
	JWTSecret []byte

	RateLimitPerMinute int
	DefaultStrategy    ranking.Strategy

	// PricingFile optionally replaces the embedded price table.
	PricingFile string
}

// HTTPConfig holds server settings
type HTTPConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// LogConfig selects the zap level and encoder
type LogConfig struct {
	Level  string
	Format string // json or console
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// CacheConfig holds cache settings
type CacheConfig struct {
	APIKeyCacheSize int
	APIKeyCacheTTL  time.Duration
	RankingTTL      time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled      bool
	URL          string
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ProviderConfig holds upstream call settings
type ProviderConfig struct {
	RequestTimeout  time.Duration // per attempt
	MaxAttempts     int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
	DispatchTimeout time.Duration // whole dispatch, all retries and fallback stages
}

// UsageConfig controls how usage records are written
type UsageConfig struct {
	Async        bool
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvList(key string, defaultValue []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	keyHex := os.Getenv("ENCRYPTION_KEY")
	if keyHex == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	encryptionKey, err := hex.DecodeString(keyHex)
	if err != nil || len(encryptionKey) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be 64 hex characters (32 bytes)")
	}

	var jwtSecret []byte
	if s := os.Getenv("JWT_SECRET"); s != "" {
		jwtSecret = []byte(s)
	} else {
		jwtSecret, err = auth.DeriveJWTSecret(encryptionKey)
		if err != nil {
			return nil, err
		}
	}

	strategy, err := ranking.ParseStrategy(getEnvString("DEFAULT_STRATEGY", string(ranking.StrategyBalanced)))
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_STRATEGY: %w", err)
	}

	redisURL := os.Getenv("REDIS_URL")

	cfg := &Config{
		HTTP: HTTPConfig{
			Port:            getEnvString("HTTP_PORT", "8080"),
			ReadTimeout:     getEnvDuration("HTTP_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("HTTP_WRITE_TIMEOUT", 5*time.Minute),
			IdleTimeout:     getEnvDuration("HTTP_IDLE_TIMEOUT", 2*time.Minute),
			ShutdownTimeout: getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 30*time.Second),
			CORSOrigins:     getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Log: LogConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
		},
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Cache: CacheConfig{
			APIKeyCacheSize: getEnvInt("CACHE_API_KEY_SIZE", 1000),
			APIKeyCacheTTL:  getEnvDuration("CACHE_API_KEY_TTL", 1*time.Minute),
			RankingTTL:      getEnvDuration("RANKING_CACHE_TTL", ranking.DefaultTTL),
		},
		Redis: RedisConfig{
			Enabled:      getEnvBool("REDIS_ENABLED", true),
			URL:          redisURL,
			Address:      getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Provider: ProviderConfig{
			RequestTimeout:  getEnvDuration("PROVIDER_REQUEST_TIMEOUT", 60*time.Second),
			MaxAttempts:     getEnvInt("PROVIDER_MAX_ATTEMPTS", 3),
			BaseBackoff:     getEnvDuration("PROVIDER_BASE_BACKOFF", 500*time.Millisecond),
			MaxBackoff:      getEnvDuration("PROVIDER_MAX_BACKOFF", 8*time.Second),
			DispatchTimeout: getEnvDuration("PROVIDER_DISPATCH_TIMEOUT", 4*time.Minute),
		},
		Usage: UsageConfig{
			Async:        getEnvBool("USAGE_ASYNC", true),
			BatchSize:    getEnvInt("USAGE_BATCH_SIZE", 100),
			BatchTimeout: getEnvDuration("USAGE_BATCH_TIMEOUT", 5*time.Second),
			MaxRetries:   getEnvInt("USAGE_MAX_RETRIES", 3),
		},
		EncryptionKey:      encryptionKey,
		JWTSecret:          jwtSecret,
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_RPM", 60),
		DefaultStrategy:    strategy,
		PricingFile:        os.Getenv("PRICING_FILE"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Log.Format)
	}
	if c.Provider.MaxAttempts < 1 {
		return fmt.Errorf("PROVIDER_MAX_ATTEMPTS must be at least 1")
	}
	if c.Provider.RequestTimeout <= 0 || c.Provider.DispatchTimeout <= 0 {
		return fmt.Errorf("provider timeouts must be positive")
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must not be negative")
	}
	if c.Usage.BatchSize < 1 {
		return fmt.Errorf("USAGE_BATCH_SIZE must be at least 1")
	}
	return nil
}
