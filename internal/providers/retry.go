package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// RetryPolicy bounds how an adapter retries one upstream call.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration // zero means no per-attempt deadline

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy is used when a Config leaves Retry zero.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       8 * time.Second,
		AttemptTimeout: 60 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		d := DefaultRetryPolicy()
		d.sleep = p.sleep
		return d
	}
	return p
}

var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// isRetryable decides whether a failed attempt may be repeated. parent is
// the caller's context; attempt deadlines are retryable, caller ones are not.
func isRetryable(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	if IsCreditExhausted(err) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return retryableStatus[pe.Status]
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

// backoff returns a full-jitter delay for the given zero-based attempt.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	ceiling := p.BaseDelay << attempt
	if ceiling <= 0 || (p.MaxDelay > 0 && ceiling > p.MaxDelay) {
		ceiling = p.MaxDelay
	}
	if ceiling <= 0 {
		return 0
	}
	return rand.N(ceiling)
}

// withRetry runs fn until it succeeds, fails permanently or runs out of
// attempts.
func withRetry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := p.backoff(attempt - 1)
			var pe *ProviderError
			if errors.As(lastErr, &pe) && pe.RetryAfter > wait {
				wait = pe.RetryAfter
				if p.MaxDelay > 0 && wait > p.MaxDelay {
					wait = p.MaxDelay
				}
			}
			if err := sleep(ctx, wait); err != nil {
				return zero, err
			}
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		out, err := fn(attemptCtx)
		cancel()
		if err == nil {
			return out, nil
		}
		if !isRetryable(ctx, err) {
			return zero, err
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// parseRetryAfter reads a Retry-After header (seconds or HTTP date) and
// falls back to the retryDelay hint Google puts in error details.
func parseRetryAfter(h http.Header, body []byte) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
		}
	}
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return 0
	}
	var delay time.Duration
	gjson.GetBytes(body, "error.details").ForEach(func(_, detail gjson.Result) bool {
		for _, path := range []string{"retryDelay", "metadata.retryDelay"} {
			if s := detail.Get(path).String(); s != "" {
				if d, err := time.ParseDuration(s); err == nil && d > 0 {
					delay = d
					return false
				}
			}
		}
		return true
	})
	return delay
}
