package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"llm_router/internal/models"
)

// KeyEvictChannel carries key hashes to drop from every replica's cache.
const KeyEvictChannel = "apikeys:evict"

// KeyEvictor announces that a key hash must leave the lookup caches.
type KeyEvictor interface {
	Evict(ctx context.Context, keyHash string)
}

// KeyEvictions spreads key cache evictions over Redis pub/sub so a revoked
// key stops authenticating on every replica, not only the one that served
// the revoke.
type KeyEvictions struct {
	client *redis.Client
	cache  *LRUCache[*models.UniversalAPIKey]
	logger *zap.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewKeyEvictions creates a broadcaster that evicts from db's key cache.
func (db *DB) NewKeyEvictions(client *redis.Client, logger *zap.Logger) *KeyEvictions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyEvictions{
		client: client,
		cache:  db.apiKeyCache,
		logger: logger.Named("key-evictions"),
	}
}

// Evict publishes keyHash. A failed publish is logged; the other replicas
// then hold the key until their cache TTL expires.
func (e *KeyEvictions) Evict(ctx context.Context, keyHash string) {
	if err := e.client.Publish(ctx, KeyEvictChannel, keyHash).Err(); err != nil {
		e.logger.Warn("failed to publish key eviction", zap.Error(err))
	}
}

// Start subscribes and applies incoming evictions until Stop or ctx is
// done. It returns once the subscription is confirmed.
func (e *KeyEvictions) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pubsub != nil {
		return nil
	}

	pubsub := e.client.Subscribe(ctx, KeyEvictChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", KeyEvictChannel, err)
	}
	e.pubsub = pubsub
	e.done = make(chan struct{})

	go e.run(ctx, pubsub.Channel(), e.done)
	return nil
}

func (e *KeyEvictions) run(ctx context.Context, msgs <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			e.cache.Delete(msg.Payload)
		}
	}
}

// Stop closes the subscription and waits for the receive loop.
func (e *KeyEvictions) Stop() error {
	e.mu.Lock()
	pubsub, done := e.pubsub, e.done
	e.pubsub, e.done = nil, nil
	e.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-done
	return err
}
