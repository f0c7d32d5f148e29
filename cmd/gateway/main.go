package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"llm_router/internal/auth"
	"llm_router/internal/config"
	"llm_router/internal/gateway"
	"llm_router/internal/httpapi"
	"llm_router/internal/logging"
	"llm_router/internal/metrics"
	"llm_router/internal/models"
	"llm_router/internal/pricing"
	"llm_router/internal/providers"
	"llm_router/internal/queue"
	"llm_router/internal/ranking"
	"llm_router/internal/ratelimit"
	"llm_router/internal/selector"
	"llm_router/internal/storage"
)

func main() {
	// A missing .env is fine; the environment wins anyway.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("router exited with error", zap.Error(err))
	}
	logger.Info("Server exited")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.NewDB(storage.DBConfig{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		APIKeyCacheSize: cfg.Cache.APIKeyCacheSize,
		APIKeyCacheTTL:  cfg.Cache.APIKeyCacheTTL,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	codec, err := storage.NewEncryption(cfg.EncryptionKey)
	if err != nil {
		return err
	}

	prices := pricing.Default()
	if cfg.PricingFile != "" {
		if prices, err = pricing.Load(cfg.PricingFile); err != nil {
			return err
		}
	}

	m := metrics.New()
	registerDBGauges(m, db)
	go db.RunCacheJanitor(ctx, cfg.Cache.APIKeyCacheTTL)

	keyRepo := db.NewAPIKeyRepository()
	credRepo := db.NewCredentialRepository()
	prefRepo := db.NewPreferenceRepository()
	usageRepo := db.NewUsageRepository()

	rankings := ranking.NewCache(db.NewRankingRepository(), prices,
		ranking.WithTTL(cfg.Cache.RankingTTL),
		ranking.WithMetrics(m),
		ranking.WithLogger(logger),
	)

	healthChecks := map[string]httpapi.HealthChecker{"database": db}

	var limiter ratelimit.Limiter = ratelimit.NewNoopLimiter()
	var publisher httpapi.RankingPublisher = ranking.Local{Invalidator: rankings}
	var usage storage.UsageWriter = usageRepo
	var redis *storage.RedisClient

	if cfg.Redis.Enabled {
		redis, err = storage.NewRedisClient(redisConfig(cfg.Redis))
		if err != nil {
			return err
		}
		defer redis.Close()
		healthChecks["redis"] = redis

		if cfg.RateLimitPerMinute > 0 {
			limiter = ratelimit.NewRateLimiter(redis.Client(), cfg.RateLimitPerMinute)
		}

		broadcaster := ranking.NewBroadcaster(redis.Client(), rankings, logger)
		if err := broadcaster.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = broadcaster.Stop() }()
		publisher = broadcaster

		evictions := db.NewKeyEvictions(redis.Client(), logger)
		if err := evictions.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = evictions.Stop() }()
		db.SetKeyEvictor(evictions)
	} else {
		logger.Warn("redis disabled: rate limiting off, ranking invalidation is local only")
	}

	if cfg.Usage.Async {
		worker, err := newUsageWorker(cfg, redis, usageRepo, logger)
		if err != nil {
			return err
		}
		if moved, err := worker.RetryDeadLetters(ctx); err != nil {
			logger.Warn("failed to requeue dead usage records", zap.Error(err))
		} else if moved > 0 {
			logger.Info("requeued dead usage records", zap.Int("records", moved))
		}
		registerUsageGauges(m, worker)

		// The worker outlives the signal so Stop can drain it after the
		// server has finished its in-flight requests.
		worker.Start(context.Background())
		defer func() {
			if err := worker.Stop(); err != nil {
				logger.Error("usage worker did not drain", zap.Error(err))
			}
		}()
		usage = worker
	}

	sel := selector.New(rankings, credRepo, prefRepo, cfg.DefaultStrategy, logger)

	httpClient := providers.NewPublicHTTPClient()
	retry := providers.RetryPolicy{
		MaxAttempts:    cfg.Provider.MaxAttempts,
		BaseDelay:      cfg.Provider.BaseBackoff,
		MaxDelay:       cfg.Provider.MaxBackoff,
		AttemptTimeout: cfg.Provider.RequestTimeout,
	}

	keyStore := auth.NewRepositoryKeyStore(keyRepo)
	gw := gateway.NewService(gateway.Dependencies{
		APIKeys:         keyStore,
		KeyToucher:      keyRepo,
		RateLimit:       limiter,
		Selector:        sel,
		Credentials:     credRepo,
		Codec:           codec,
		Factory:         providers.New,
		Prices:          prices,
		Usage:           usage,
		Metrics:         m,
		Logger:          logger,
		HTTPClient:      httpClient,
		Retry:           retry,
		DispatchTimeout: cfg.Provider.DispatchTimeout,
	})

	handler := httpapi.NewRouter(httpapi.Dependencies{
		Gateway:      gw,
		APIKeys:      keyStore,
		Keys:         keyRepo,
		Credentials:  credRepo,
		Preferences:  prefRepo,
		Usage:        usageRepo,
		Codec:        codec,
		Rankings:     publisher,
		Metrics:      m,
		Logger:       logger,
		Factory:      providers.New,
		HTTPClient:   httpClient,
		HealthChecks: healthChecks,
		JWTSecret:    cfg.JWTSecret,
		CORSOrigins:  cfg.HTTP.CORSOrigins,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("LLM router listening",
			zap.String("addr", server.Addr),
			zap.String("default_strategy", string(cfg.DefaultStrategy)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	return nil
}

const gaugeTimeout = 2 * time.Second

func redisConfig(c config.RedisConfig) storage.RedisConfig {
	rc := storage.DefaultRedisConfig()
	rc.URL = c.URL
	rc.Address = c.Address
	rc.Password = c.Password
	rc.DB = c.DB
	rc.PoolSize = c.PoolSize
	rc.MinIdleConns = c.MinIdleConns
	rc.DialTimeout = c.DialTimeout
	rc.ReadTimeout = c.ReadTimeout
	rc.WriteTimeout = c.WriteTimeout
	return rc
}

// newUsageWorker queues usage records in Redis when it is available so a
// restart does not lose them, and in memory otherwise.
func newUsageWorker(cfg *config.Config, redis *storage.RedisClient, writer storage.UsageWriter, logger *zap.Logger) (*storage.UsageQueueWorker, error) {
	qcfg := queue.DefaultConfig("usage")
	qcfg.BatchSize = cfg.Usage.BatchSize
	qcfg.BatchTimeout = cfg.Usage.BatchTimeout
	qcfg.MaxRetries = cfg.Usage.MaxRetries
	qcfg.DrainTimeout = cfg.HTTP.ShutdownTimeout

	if redis == nil {
		q := queue.NewMemoryQueue[*models.UsageRecord](qcfg)
		dlq := queue.NewMemoryDeadLetterQueue[*models.UsageRecord]()
		return storage.NewUsageQueueWorker(q, dlq, writer, qcfg, logger), nil
	}

	q, err := queue.NewRedisQueue[*models.UsageRecord](redis.Client(), qcfg)
	if err != nil {
		return nil, err
	}
	dlq, err := queue.NewRedisDeadLetterQueue[*models.UsageRecord](redis.Client(), qcfg)
	if err != nil {
		return nil, err
	}
	return storage.NewUsageQueueWorker(q, dlq, writer, qcfg, logger), nil
}

func registerDBGauges(m *metrics.Metrics, db *storage.DB) {
	m.GaugeFunc("db_open_connections", "Open database connections.", func() float64 {
		return float64(db.GetStats().OpenConnections)
	})
	m.GaugeFunc("db_in_use_connections", "Database connections in use.", func() float64 {
		return float64(db.GetStats().InUse)
	})
	m.GaugeFunc("api_key_cache_entries", "Entries in the API key lookup cache.", func() float64 {
		return float64(db.GetStats().APIKeyCacheStats.Size)
	})
}

// registerUsageGauges reports -1 when the queue cannot be read.
func registerUsageGauges(m *metrics.Metrics, worker *storage.UsageQueueWorker) {
	m.GaugeFunc("usage_queue_length", "Usage records waiting to be written.", func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), gaugeTimeout)
		defer cancel()
		n, err := worker.GetQueueLength(ctx)
		if err != nil {
			return -1
		}
		return float64(n)
	})
	m.GaugeFunc("usage_dead_letters", "Usage records parked after failed writes.", func() float64 {
		ctx, cancel := context.WithTimeout(context.Background(), gaugeTimeout)
		defer cancel()
		items, err := worker.GetDeadLetterItems(ctx, 0)
		if err != nil {
			return -1
		}
		return float64(len(items))
	})
}
