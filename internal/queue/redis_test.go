package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testPayload struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestNewRedisQueue_RequiresClientAndConfig(t *testing.T) {
	_, client := newTestRedis(t)

	if _, err := NewRedisQueue[int](nil, DefaultConfig("x")); err == nil {
		t.Error("expected error for nil client")
	}
	if _, err := NewRedisQueue[int](client, nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewRedisDeadLetterQueue[int](nil, DefaultConfig("x")); err == nil {
		t.Error("expected error for nil client")
	}
}

func TestRedisQueue_EnqueueDequeue(t *testing.T) {
	mr, client := newTestRedis(t)

	q, err := NewRedisQueue[testPayload](client, DefaultConfig("usage"))
	if err != nil {
		t.Fatalf("NewRedisQueue failed: %v", err)
	}
	defer q.Close()

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		if err := q.Enqueue(ctx, testPayload{ID: i, Name: "item"}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	if !mr.Exists("queue:usage") {
		t.Fatal("expected queue:usage key to exist")
	}

	length, err := q.Length(ctx)
	if err != nil {
		t.Fatalf("Length failed: %v", err)
	}
	if length != 3 {
		t.Errorf("Expected length 3, got %d", length)
	}

	items, err := q.DequeueWithTimeout(ctx, 10, time.Second)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(items))
	}
	for i, item := range items {
		if item.ID != i+1 {
			t.Errorf("position %d: expected id %d, got %d", i, i+1, item.ID)
		}
	}
}

func TestRedisQueue_SkipsUndecodableEntries(t *testing.T) {
	mr, client := newTestRedis(t)

	q, _ := NewRedisQueue[testPayload](client, DefaultConfig("usage"))

	mr.RPush("queue:usage", "not json")
	ctx := context.Background()
	if err := q.Enqueue(ctx, testPayload{ID: 7}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	items, err := q.DequeueWithTimeout(ctx, 10, time.Second)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != 7 {
		t.Errorf("expected only the valid item, got %+v", items)
	}
}

func TestRedisQueue_TimeoutReturnsEmpty(t *testing.T) {
	_, client := newTestRedis(t)

	q, _ := NewRedisQueue[testPayload](client, DefaultConfig("empty"))

	items, err := q.DequeueWithTimeout(context.Background(), 5, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected no items, got %d", len(items))
	}
}

func TestRedisDeadLetterQueue(t *testing.T) {
	_, client := newTestRedis(t)

	dlq, err := NewRedisDeadLetterQueue[testPayload](client, DefaultConfig("usage"))
	if err != nil {
		t.Fatalf("NewRedisDeadLetterQueue failed: %v", err)
	}

	ctx := context.Background()
	if err := dlq.Add(ctx, testPayload{ID: 1}, errors.New("db down")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := dlq.Add(ctx, testPayload{ID: 2}, errors.New("db still down")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	items, err := dlq.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].Item.ID != 1 || items[0].Error != "db down" {
		t.Errorf("unexpected oldest item: %+v", items[0])
	}

	if err := dlq.Remove(ctx, items[0].ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := dlq.Remove(ctx, items[0].ID); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Expected ErrItemNotFound, got %v", err)
	}

	limited, _ := dlq.List(ctx, 1)
	if len(limited) != 1 || limited[0].Item.ID != 2 {
		t.Errorf("unexpected remaining items: %+v", limited)
	}
}
