package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue on a Redis list. Items are stored as JSON.
type RedisQueue[T any] struct {
	client *redis.Client
	qKey   string
}

// NewRedisQueue wraps an existing client. The caller owns the client.
func NewRedisQueue[T any](client *redis.Client, config *Config) (*RedisQueue[T], error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	return &RedisQueue[T]{
		client: client,
		qKey:   fmt.Sprintf("queue:%s", config.QueueName),
	}, nil
}

// Enqueue adds an item to the queue
func (q *RedisQueue[T]) Enqueue(ctx context.Context, item T) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	if err := q.client.RPush(ctx, q.qKey, data).Err(); err != nil {
		return fmt.Errorf("failed to push to Redis: %w", err)
	}
	return nil
}

// DequeueWithTimeout retrieves items with a timeout. Entries that no longer
// decode are dropped.
func (q *RedisQueue[T]) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]T, error) {
	items := make([]T, 0, maxItems)

	result, err := q.client.BLPop(ctx, timeout, q.qKey).Result()
	if errors.Is(err, redis.Nil) {
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop from Redis: %w", err)
	}

	// result[0] is the key, result[1] is the value
	if item, ok := decode[T](result[1]); ok {
		items = append(items, item)
	}

	for len(items) < maxItems {
		raw, err := q.client.LPop(ctx, q.qKey).Result()
		if err != nil {
			// redis.Nil means drained; anything else keeps what we have
			break
		}
		if item, ok := decode[T](raw); ok {
			items = append(items, item)
		}
	}

	return items, nil
}

// Length returns the current queue length
func (q *RedisQueue[T]) Length(ctx context.Context) (int, error) {
	length, err := q.client.LLen(ctx, q.qKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue length: %w", err)
	}
	return int(length), nil
}

// Close is a no-op; the shared client is closed by its owner.
func (q *RedisQueue[T]) Close() error {
	return nil
}

// RedisDeadLetterQueue implements DeadLetterQueue on a Redis hash.
type RedisDeadLetterQueue[T any] struct {
	client *redis.Client
	dlKey  string
}

// NewRedisDeadLetterQueue creates a new Redis-backed dead letter queue
func NewRedisDeadLetterQueue[T any](client *redis.Client, config *Config) (*RedisDeadLetterQueue[T], error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	return &RedisDeadLetterQueue[T]{
		client: client,
		dlKey:  fmt.Sprintf("dlq:%s", config.QueueName),
	}, nil
}

// Add adds a failed item to the dead letter queue
func (q *RedisDeadLetterQueue[T]) Add(ctx context.Context, item T, err error) error {
	dlItem := newDeadLetterItem(item, err)

	data, marshalErr := json.Marshal(dlItem)
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal dead letter item: %w", marshalErr)
	}

	if err := q.client.HSet(ctx, q.dlKey, dlItem.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to add to dead letter queue: %w", err)
	}
	return nil
}

// List returns up to maxItems entries, oldest first.
func (q *RedisDeadLetterQueue[T]) List(ctx context.Context, maxItems int) ([]DeadLetterItem[T], error) {
	results, err := q.client.HGetAll(ctx, q.dlKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter items: %w", err)
	}

	items := make([]DeadLetterItem[T], 0, len(results))
	for _, data := range results {
		var dlItem DeadLetterItem[T]
		if err := json.Unmarshal([]byte(data), &dlItem); err != nil {
			continue
		}
		items = append(items, dlItem)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Timestamp.Before(items[j].Timestamp)
	})

	if maxItems > 0 && len(items) > maxItems {
		items = items[:maxItems]
	}
	return items, nil
}

// Remove removes an item from the dead letter queue
func (q *RedisDeadLetterQueue[T]) Remove(ctx context.Context, id string) error {
	removed, err := q.client.HDel(ctx, q.dlKey, id).Result()
	if err != nil {
		return fmt.Errorf("failed to remove from dead letter queue: %w", err)
	}
	if removed == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Close is a no-op; the shared client is closed by its owner.
func (q *RedisDeadLetterQueue[T]) Close() error {
	return nil
}

func decode[T any](raw string) (T, bool) {
	var item T
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return item, false
	}
	return item, true
}
