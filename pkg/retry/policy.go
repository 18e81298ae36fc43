// Package retry provides generic retry logic with exponential backoff and
// condition polling for flaky cross-process calls.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/StevenAri1995/RetailAgent/pkg/llmerrors"
)

// jitterFraction bounds the random jitter added to each delay. Up to 30%
// spreads concurrent callers enough to avoid synchronized retry storms.
const jitterFraction = 0.3

// Policy defines retry behavior for a single call site. Value object; no
// shared mutable state between callers.
type Policy struct {
	MaxRetries   int           // Retries after the initial attempt
	InitialDelay time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Cap on computed delay
	Multiplier   float64       // Exponential backoff multiplier
	Classifier   Classifier    // Decides retryability; nil means ShouldRetry
}

// DefaultPolicy provides reasonable defaults for page-agent round-trips.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultPolicy = Policy{
	MaxRetries:   3,
	InitialDelay: 1 * time.Second,
	MaxDelay:     30 * time.Second,
	Multiplier:   2.0,
}

// Classifier determines if an error should be retried.
type Classifier func(error) bool

// ShouldRetry is the default classifier. Network-class errors, HTTP 5xx and
// 429 are retryable; everything else is not unless a call site allows it
// explicitly with its own classifier.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	// Never retry context cancellation; the caller is gone.
	if errors.Is(err, context.Canceled) {
		return false
	}

	// Classified model errors carry their own retryability.
	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return llmErr.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Per-request timeouts wrap DeadlineExceeded; the parent context may
	// still be live, so these retry.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "temporary") {
		return true
	}
	if strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") {
		return true
	}
	if strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return true
	}

	return false
}

// Delay computes the backoff delay before retry n (1-based), with jitter.
func (p Policy) Delay(retry int) time.Duration {
	if retry <= 0 {
		return 0
	}

	base := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(retry-1))
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && base > max {
		base = max
	}

	//nolint:gosec // Jitter does not need a cryptographic source
	jitter := base * jitterFraction * rand.Float64()
	return time.Duration(base + jitter)
}

// configFor maps an error to its classified retry configuration. Classified
// model errors carry their own budget; anything else the default classifier
// accepts falls through to the unknown-type schedule.
func configFor(err error) (llmerrors.RetryConfig, bool) {
	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return llmErr.GetRetryConfig(), llmErr.IsRetryable()
	}
	if !ShouldRetry(err) {
		return llmerrors.RetryConfig{}, false
	}
	return llmerrors.DefaultRetryConfigs[llmerrors.ErrorTypeUnknown], true
}

// configDelay mirrors Policy.Delay for a classified retry configuration.
func configDelay(cfg llmerrors.RetryConfig, retry int) time.Duration {
	if retry <= 0 {
		return 0
	}

	base := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(retry-1))
	if max := float64(cfg.MaxDelay); cfg.MaxDelay > 0 && base > max {
		base = max
	}

	if cfg.Jitter {
		//nolint:gosec // Jitter does not need a cryptographic source
		base += base * jitterFraction * rand.Float64()
	}
	return time.Duration(base)
}

func (p Policy) shouldRetry(err error) bool {
	if p.Classifier != nil {
		return p.Classifier(err)
	}
	return ShouldRetry(err)
}
