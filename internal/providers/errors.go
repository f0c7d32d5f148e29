package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrRetriesExhausted    = errors.New("provider retries exhausted")
	ErrNoAlternateModel    = errors.New("no alternate model available")
)

// maxErrorBody caps how much of an upstream error body is kept.
const maxErrorBody = 2 << 10

// ProviderError is a non-2xx upstream reply.
type ProviderError struct {
	Provider   Type
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: upstream status %d: %s", e.Provider, e.Status, e.Message)
}

// newProviderError builds a ProviderError from a raw reply body.
func newProviderError(provider Type, status int, header http.Header, body []byte) *ProviderError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &ProviderError{
		Provider:   provider,
		Status:     status,
		Message:    errorMessage(body),
		RetryAfter: parseRetryAfter(header, body),
	}
}

// errorMessage checks the common error envelopes before falling back to the
// raw body.
func errorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(body))
	}
	root := gjson.ParseBytes(body)
	msg := firstString(root, "error.message", "message", "error", "detail")
	if msg == "" {
		return strings.TrimSpace(string(body))
	}
	// keep machine codes such as insufficient_quota next to the prose
	if code := firstString(root, "error.code", "error.type", "error.status", "code"); code != "" && !strings.Contains(msg, code) {
		msg += " (" + code + ")"
	}
	return msg
}

func firstString(root gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := root.Get(p); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

// EmptyResponseError is a structurally valid reply with no text and no tool
// calls.
type EmptyResponseError struct {
	Provider    Type
	Model       string
	BlockReason string
}

func (e *EmptyResponseError) Error() string {
	if e.BlockReason != "" {
		return fmt.Sprintf("%s: empty response from %s (block reason %s)", e.Provider, e.Model, e.BlockReason)
	}
	return fmt.Sprintf("%s: empty response from %s", e.Provider, e.Model)
}

// StageError is the outcome of one resilience stage.
type StageError struct {
	Stage Stage
	Model string
	Err   error
}

// FallbackExhaustedError is returned once every resilience stage failed.
type FallbackExhaustedError struct {
	Provider Type
	Model    string
	Stages   []StageError
}

func (e *FallbackExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Stages))
	for _, s := range e.Stages {
		parts = append(parts, fmt.Sprintf("%s: %v", s.Stage, s.Err))
	}
	return fmt.Sprintf("%s: all fallback stages failed for %s [%s]", e.Provider, e.Model, strings.Join(parts, "; "))
}

func (e *FallbackExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Stages))
	for _, s := range e.Stages {
		errs = append(errs, s.Err)
	}
	return errs
}

var creditMarkers = []string{
	"quota",
	"billing",
	"insufficient",
	"payment required",
	"insufficient_quota",
	"credit",
	"exceeded your current",
}

// IsCreditExhausted reports whether err means the account is out of credit or
// quota. Such errors are never retried.
func IsCreditExhausted(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.Status {
	case http.StatusPaymentRequired:
		return true
	case http.StatusTooManyRequests, http.StatusForbidden:
		msg := strings.ToLower(pe.Message)
		for _, m := range creditMarkers {
			if strings.Contains(msg, m) {
				return true
			}
		}
	}
	return false
}
