package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"llm_router/internal/models"
)

// DB wraps the database connection and the API key lookup cache.
type DB struct {
	conn *sqlx.DB

	apiKeyCache *LRUCache[*models.UniversalAPIKey]

	// keyEvictor, when set, tells other replicas about revoked keys.
	keyEvictor KeyEvictor
}

// DBConfig holds database configuration
type DBConfig struct {
	URL string

	// Pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Cache settings
	APIKeyCacheSize int
	APIKeyCacheTTL  time.Duration
}

// DefaultDBConfig returns default database configuration
func DefaultDBConfig() DBConfig {
	return DBConfig{
		URL:             "postgres://postgres@localhost:5432/llmrouter?sslmode=disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
		APIKeyCacheSize: 1000,
		APIKeyCacheTTL:  1 * time.Minute,
	}
}

// NewDB connects to Postgres and configures the pool.
func NewDB(cfg DBConfig) (*DB, error) {
	conn, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return NewDBFromConn(conn, cfg), nil
}

// NewDBFromConn wraps an existing connection. Used by tests with sqlmock.
func NewDBFromConn(conn *sqlx.DB, cfg DBConfig) *DB {
	return &DB{
		conn:        conn,
		apiKeyCache: NewLRUCache[*models.UniversalAPIKey](cfg.APIKeyCacheSize, cfg.APIKeyCacheTTL),
	}
}

// SetKeyEvictor makes revocations through this DB's repositories reach other
// replicas' key caches. Call it before serving.
func (db *DB) SetKeyEvictor(e KeyEvictor) {
	db.keyEvictor = e
}

// Close closes the database connection and clears caches
func (db *DB) Close() error {
	db.apiKeyCache.Clear()
	return db.conn.Close()
}

// Ping checks if the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Health returns the health status of the database
func (db *DB) Health(ctx context.Context) error {
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := db.conn.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}

	return nil
}

// DBStats is a point-in-time view of the pool and caches.
type DBStats struct {
	MaxOpenConnections int
	OpenConnections    int
	InUse              int
	Idle               int
	WaitCount          int64
	WaitDuration       time.Duration

	APIKeyCacheStats CacheStats
}

// GetStats returns current database and cache statistics
func (db *DB) GetStats() DBStats {
	stats := db.conn.Stats()

	return DBStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
		APIKeyCacheStats:   db.apiKeyCache.GetStats(),
	}
}

// WithTx runs fn inside a transaction, committing on success.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Conn returns the underlying sqlx connection
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// CleanupExpiredCacheEntries removes expired entries from the key cache.
func (db *DB) CleanupExpiredCacheEntries() int {
	return db.apiKeyCache.CleanupExpired()
}

// RunCacheJanitor drops expired key cache entries every interval until ctx
// ends. It blocks.
func (db *DB) RunCacheJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			db.CleanupExpiredCacheEntries()
		}
	}
}

// Repository factory methods

func (db *DB) NewAPIKeyRepository() *APIKeyRepository {
	return NewAPIKeyRepository(db)
}

func (db *DB) NewCredentialRepository() *CredentialRepository {
	return NewCredentialRepository(db)
}

func (db *DB) NewPreferenceRepository() *PreferenceRepository {
	return NewPreferenceRepository(db)
}

func (db *DB) NewRankingRepository() *RankingRepository {
	return NewRankingRepository(db)
}

func (db *DB) NewUsageRepository() *UsageRepository {
	return NewUsageRepository(db)
}
