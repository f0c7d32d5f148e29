package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue implements Queue with a buffered channel.
type MemoryQueue[T any] struct {
	items  chan T
	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue creates a queue buffering ten batches.
func NewMemoryQueue[T any](config *Config) *MemoryQueue[T] {
	if config == nil {
		config = DefaultConfig("memory")
	}

	return &MemoryQueue[T]{
		items: make(chan T, config.BatchSize*10),
	}
}

// Enqueue blocks while the buffer is full until ctx is done.
func (q *MemoryQueue[T]) Enqueue(ctx context.Context, item T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DequeueWithTimeout retrieves items with a timeout
func (q *MemoryQueue[T]) DequeueWithTimeout(ctx context.Context, maxItems int, timeout time.Duration) ([]T, error) {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return nil, ErrQueueClosed
	}
	q.mu.RUnlock()

	items := make([]T, 0, maxItems)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case item, ok := <-q.items:
		if !ok {
			return nil, ErrQueueClosed
		}
		items = append(items, item)
	case <-timer.C:
		return items, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for len(items) < maxItems {
		select {
		case item, ok := <-q.items:
			if !ok {
				return items, nil
			}
			items = append(items, item)
		default:
			return items, nil
		}
	}

	return items, nil
}

// Length returns the current queue length
func (q *MemoryQueue[T]) Length(ctx context.Context) (int, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return 0, ErrQueueClosed
	}
	return len(q.items), nil
}

// Close stops accepting items. Buffered items are discarded.
func (q *MemoryQueue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.items)
	return nil
}

// MemoryDeadLetterQueue implements DeadLetterQueue in process memory.
type MemoryDeadLetterQueue[T any] struct {
	items  []DeadLetterItem[T]
	mu     sync.RWMutex
	closed bool
}

// NewMemoryDeadLetterQueue creates a new in-memory dead letter queue
func NewMemoryDeadLetterQueue[T any]() *MemoryDeadLetterQueue[T] {
	return &MemoryDeadLetterQueue[T]{}
}

// Add adds a failed item to the dead letter queue
func (q *MemoryDeadLetterQueue[T]) Add(ctx context.Context, item T, err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.items = append(q.items, newDeadLetterItem(item, err))
	return nil
}

// List returns up to maxItems entries, oldest first. maxItems <= 0 means all.
func (q *MemoryDeadLetterQueue[T]) List(ctx context.Context, maxItems int) ([]DeadLetterItem[T], error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	if maxItems <= 0 || maxItems > len(q.items) {
		maxItems = len(q.items)
	}

	result := make([]DeadLetterItem[T], maxItems)
	copy(result, q.items[:maxItems])
	return result, nil
}

// Remove removes an item from the dead letter queue
func (q *MemoryDeadLetterQueue[T]) Remove(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return nil
		}
	}
	return ErrItemNotFound
}

// Close shuts down the dead letter queue
func (q *MemoryDeadLetterQueue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.items = nil
	return nil
}

func newDeadLetterItem[T any](item T, err error) DeadLetterItem[T] {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return DeadLetterItem[T]{
		ID:        uuid.NewString(),
		Item:      item,
		Error:     msg,
		Timestamp: time.Now().UTC(),
	}
}
