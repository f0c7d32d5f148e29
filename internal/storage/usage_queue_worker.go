package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"llm_router/internal/models"
	"llm_router/internal/queue"
)

// UsageWriter persists one usage record. *UsageRepository satisfies it.
type UsageWriter interface {
	Record(ctx context.Context, record *models.UsageRecord) error
}

// UsageQueueWorker drains queued usage records into a UsageWriter. Records
// that keep failing are parked in the dead letter queue.
type UsageQueueWorker struct {
	queue  queue.Queue[*models.UsageRecord]
	dlq    queue.DeadLetterQueue[*models.UsageRecord]
	writer UsageWriter
	config *queue.Config
	logger *zap.Logger

	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewUsageQueueWorker creates a new usage queue worker
func NewUsageQueueWorker(
	q queue.Queue[*models.UsageRecord],
	dlq queue.DeadLetterQueue[*models.UsageRecord],
	writer UsageWriter,
	config *queue.Config,
	logger *zap.Logger,
) *UsageQueueWorker {
	if config == nil {
		config = queue.DefaultConfig("usage")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &UsageQueueWorker{
		queue:       q,
		dlq:         dlq,
		writer:      writer,
		config:      config,
		logger:      logger.Named("usage-worker"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *UsageQueueWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop ends the consume loop, then writes whatever is still queued until
// the queue is empty or the drain timeout passes.
func (w *UsageQueueWorker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return w.drain()
}

func (w *UsageQueueWorker) drain() error {
	timeout := w.config.DrainTimeout
	if timeout <= 0 {
		timeout = queue.DefaultConfig("").DrainTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	drained := 0
	for {
		n, err := w.queue.Length(ctx)
		if errors.Is(err, queue.ErrQueueClosed) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("usage drain: %w", err)
		}
		if n == 0 {
			if drained > 0 {
				w.logger.Info("usage queue drained", zap.Int("records", drained))
			}
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("usage drain stopped with %d records queued: %w", n, ctx.Err())
		}
		if err := w.processBatch(ctx); err != nil {
			return fmt.Errorf("usage drain: %w", err)
		}
		drained += n
	}
}

// Enqueue adds a usage record to the queue
func (w *UsageQueueWorker) Enqueue(ctx context.Context, record *models.UsageRecord) error {
	return w.queue.Enqueue(ctx, record)
}

// Record lets the worker stand in for a synchronous writer.
func (w *UsageQueueWorker) Record(ctx context.Context, record *models.UsageRecord) error {
	return w.Enqueue(ctx, record)
}

func (w *UsageQueueWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("usage worker stopping")
			return
		case <-ctx.Done():
			w.logger.Info("usage worker context cancelled")
			return
		default:
			if err := w.processBatch(ctx); errors.Is(err, queue.ErrQueueClosed) {
				w.logger.Info("usage queue closed")
				return
			}
		}
	}
}

func (w *UsageQueueWorker) processBatch(ctx context.Context) error {
	records, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		if errors.Is(err, queue.ErrQueueClosed) || ctx.Err() != nil {
			return err
		}
		w.logger.Error("failed to dequeue usage records", zap.Error(err))
		sleepCtx(ctx, time.Second)
		return err
	}

	if len(records) == 0 {
		return nil
	}

	w.logger.Debug("processing usage batch", zap.Int("count", len(records)))

	for _, record := range records {
		if record == nil {
			continue
		}
		if err := w.processItem(ctx, record); err != nil {
			w.logger.Error("failed to process usage record",
				zap.String("request_id", record.RequestID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// processItem writes one record with exponential backoff between attempts.
func (w *UsageQueueWorker) processItem(ctx context.Context, record *models.UsageRecord) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			w.logger.Debug("retrying usage record",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
			)
			if !sleepCtx(ctx, backoff) {
				lastErr = ctx.Err()
				break
			}
		}

		if err := w.writer.Record(ctx, record); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	if w.dlq != nil {
		dlqCtx := context.WithoutCancel(ctx)
		if err := w.dlq.Add(dlqCtx, record, lastErr); err != nil {
			w.logger.Error("failed to add to dead letter queue", zap.Error(err))
		} else {
			w.logger.Warn("usage record moved to DLQ",
				zap.String("request_id", record.RequestID),
				zap.Error(lastErr),
			)
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// GetQueueLength returns the current queue length
func (w *UsageQueueWorker) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// GetDeadLetterItems returns items from the dead letter queue
func (w *UsageQueueWorker) GetDeadLetterItems(ctx context.Context, maxItems int) ([]queue.DeadLetterItem[*models.UsageRecord], error) {
	if w.dlq == nil {
		return nil, fmt.Errorf("dead letter queue not configured")
	}
	return w.dlq.List(ctx, maxItems)
}

// RetryDeadLetters moves every parked record back onto the queue and
// returns how many were moved.
func (w *UsageQueueWorker) RetryDeadLetters(ctx context.Context) (int, error) {
	if w.dlq == nil {
		return 0, nil
	}

	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list dead letter items: %w", err)
	}

	moved := 0
	for _, dlItem := range items {
		if err := w.queue.Enqueue(ctx, dlItem.Item); err != nil {
			return moved, fmt.Errorf("failed to re-enqueue item: %w", err)
		}
		if err := w.dlq.Remove(ctx, dlItem.ID); err != nil {
			return moved, fmt.Errorf("failed to remove from DLQ: %w", err)
		}
		moved++
	}
	return moved, nil
}

// sleepCtx reports false if ctx ended before d elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
