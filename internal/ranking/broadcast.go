package ranking

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// InvalidateChannel carries suite names to drop. An empty payload drops
// every suite.
const InvalidateChannel = "rankings:invalidate"

// Invalidator is the local side of a broadcast.
type Invalidator interface {
	Invalidate(suite string)
}

// Broadcaster fans cache invalidations out to every replica over Redis
// pub/sub.
type Broadcaster struct {
	client *redis.Client
	local  Invalidator
	logger *zap.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

// NewBroadcaster creates a broadcaster for local.
func NewBroadcaster(client *redis.Client, local Invalidator, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		client: client,
		local:  local,
		logger: logger.Named("rankings-broadcast"),
	}
}

// Publish applies the invalidation locally and announces it to other
// replicas.
func (b *Broadcaster) Publish(ctx context.Context, suite string) error {
	b.local.Invalidate(suite)
	if err := b.client.Publish(ctx, InvalidateChannel, suite).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	return nil
}

// Start subscribes and applies incoming invalidations until Stop or ctx is
// done. It returns once the subscription is confirmed.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub != nil {
		return nil
	}

	pubsub := b.client.Subscribe(ctx, InvalidateChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", InvalidateChannel, err)
	}
	b.pubsub = pubsub
	b.done = make(chan struct{})

	go b.run(ctx, pubsub.Channel(), b.done)
	b.logger.Info("subscribed", zap.String("channel", InvalidateChannel))
	return nil
}

func (b *Broadcaster) run(ctx context.Context, msgs <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			b.local.Invalidate(msg.Payload)
			b.logger.Debug("rankings invalidated", zap.String("suite", msg.Payload))
		}
	}
}

// Stop closes the subscription and waits for the receive loop.
func (b *Broadcaster) Stop() error {
	b.mu.Lock()
	pubsub, done := b.pubsub, b.done
	b.pubsub, b.done = nil, nil
	b.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-done
	return err
}

// Local applies invalidations to this process only. It stands in for a
// Broadcaster when Redis is disabled.
type Local struct {
	Invalidator
}

// Publish invalidates suite locally.
func (l Local) Publish(ctx context.Context, suite string) error {
	l.Invalidate(suite)
	return nil
}
