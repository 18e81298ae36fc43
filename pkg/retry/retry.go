package retry

import (
	"context"
	"fmt"
	"time"
)

// ConditionTimeoutError indicates a polled condition never became true
// within its timeout.
type ConditionTimeoutError struct {
	What    string
	Timeout time.Duration
}

func (e *ConditionTimeoutError) Error() string {
	return fmt.Sprintf("condition %q not met within %s", e.What, e.Timeout)
}

// Run executes op with retries according to the policy. The first attempt
// runs immediately; each retry waits the policy's backoff delay. Once
// MaxRetries is exhausted, or the error is classified non-retryable, the
// last error is returned as-is so callers can inspect it.
func Run[T any](ctx context.Context, op func(ctx context.Context) (T, error), policy Policy) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := policy.Delay(attempt)
			if delay > 0 {
				select {
				case <-ctx.Done():
					return zero, ctx.Err()
				case <-time.After(delay):
				}
			}
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !policy.shouldRetry(err) {
			break
		}
		if ctx.Err() != nil {
			// Cancellation must stop scheduling further attempts.
			break
		}
	}

	return zero, lastErr
}

// RunClassified executes op with per-error-type backoff. Each failure's
// classified retry configuration supplies the retry budget and delay
// schedule, so an empty response waits longer between attempts than a
// dropped connection. Unclassified errors that the default classifier deems
// retryable use the unknown-type schedule; non-retryable errors return
// immediately.
func RunClassified[T any](ctx context.Context, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	for attempt := 0; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		cfg, retryable := configFor(err)
		if !retryable || attempt >= cfg.MaxRetries || ctx.Err() != nil {
			return zero, err
		}

		if delay := configDelay(cfg, attempt+1); delay > 0 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
}

// WaitForCondition polls predicate every pollInterval until it returns true
// or timeout elapses. The first poll happens after pollInterval, giving the
// page a floor delay before inspection.
func WaitForCondition(ctx context.Context, what string, predicate func() bool, timeout, pollInterval time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if predicate() {
				return nil
			}
			if time.Now().After(deadline) {
				return &ConditionTimeoutError{What: what, Timeout: timeout}
			}
		}
	}
}
