// Package queue buffers work for background writers. Two backends exist:
// an in-memory channel queue for single-node deployments and a Redis list
// queue that survives restarts and can be drained by several replicas.
//
// Items that a consumer gives up on go to a DeadLetterQueue so they can be
// inspected or replayed later.
package queue

import (
	"context"
	"time"
)

// Queue is a typed FIFO with batched reads.
type Queue[T any] interface {
	// Enqueue adds an item to the queue
	Enqueue(ctx context.Context, item T) error

	// DequeueWithTimeout waits up to timeout for the first item, then drains
	// up to maxItems without blocking. An empty slice means the wait expired.
	DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]T, error)

	// Length returns the current queue length
	Length(ctx context.Context) (int, error)

	Close() error
}

// DeadLetterQueue holds items a consumer failed to process.
type DeadLetterQueue[T any] interface {
	Add(ctx context.Context, item T, err error) error
	List(ctx context.Context, maxItems int) ([]DeadLetterItem[T], error)
	Remove(ctx context.Context, id string) error
	Close() error
}

// DeadLetterItem is one failed item and the error that sent it there.
type DeadLetterItem[T any] struct {
	ID        string    `json:"id"`
	Item      T         `json:"item"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Config holds queue and consumer settings.
type Config struct {
	// BatchSize is the maximum number of items handed to a consumer at once
	BatchSize int

	// BatchTimeout is how long to wait before processing a partial batch
	BatchTimeout time.Duration

	MaxRetries   int
	RetryBackoff time.Duration

	// DrainTimeout bounds how long a stopping consumer keeps writing what
	// is still queued
	DrainTimeout time.Duration

	// QueueName is used for Redis key names
	QueueName string
}

// DefaultConfig returns default queue configuration
func DefaultConfig(queueName string) *Config {
	return &Config{
		BatchSize:    100,
		BatchTimeout: 5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 1 * time.Second,
		DrainTimeout: 10 * time.Second,
		QueueName:    queueName,
	}
}
