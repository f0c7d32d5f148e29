package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient wraps the Redis connection shared by the rate limiter, the
// usage queue and ranking invalidation.
type RedisClient struct {
	client *redis.Client
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	// URL takes precedence over Address/Password/DB when set,
	// e.g. redis://:secret@localhost:6379/0
	URL string

	Address  string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
}

// DefaultRedisConfig returns default Redis configuration
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Address: "localhost:6379",

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	}
}

func (cfg RedisConfig) options() (*redis.Options, error) {
	opts := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.ConnMaxLifetime = cfg.ConnMaxLifetime
	opts.ConnMaxIdleTime = cfg.ConnMaxIdleTime
	opts.MaxRetries = cfg.MaxRetries
	opts.MinRetryBackoff = cfg.MinRetryBackoff
	opts.MaxRetryBackoff = cfg.MaxRetryBackoff
	return opts, nil
}

// NewRedisClient connects and pings once.
func NewRedisClient(cfg RedisConfig) (*RedisClient, error) {
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// NewRedisClientFrom wraps an existing client. Used by tests with miniredis.
func NewRedisClientFrom(client *redis.Client) *RedisClient {
	return &RedisClient{client: client}
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Health pings Redis and round-trips a short-lived key.
func (r *RedisClient) Health(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	if err := r.client.Set(ctx, "health_check", "ok", 5*time.Second).Err(); err != nil {
		return fmt.Errorf("redis write failed: %w", err)
	}

	val, err := r.client.Get(ctx, "health_check").Result()
	if err != nil {
		return fmt.Errorf("redis read failed: %w", err)
	}
	if val != "ok" {
		return fmt.Errorf("redis health check value mismatch")
	}
	return nil
}

// Client returns the underlying Redis client
func (r *RedisClient) Client() *redis.Client {
	return r.client
}
