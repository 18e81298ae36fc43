package llmerrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorType
	}{
		{429, ErrorTypeRateLimit},
		{401, ErrorTypeAuth},
		{403, ErrorTypeAuth},
		{400, ErrorTypeBadPrompt},
		{413, ErrorTypeBadPrompt},
		{500, ErrorTypeTransient},
		{503, ErrorTypeTransient},
		{418, ErrorTypeUnknown},
	}
	for _, c := range cases {
		if got := ClassifyStatus(c.status); got != c.want {
			t.Errorf("ClassifyStatus(%d) = %s, want %s", c.status, got, c.want)
		}
	}
}

func TestTriggersFallback(t *testing.T) {
	rate := NewErrorWithStatus(ErrorTypeRateLimit, 429, "quota exceeded")
	if !rate.TriggersFallback() {
		t.Error("429 should trigger candidate fallback")
	}

	auth403 := NewErrorWithStatus(ErrorTypeAuth, 403, "model not permitted")
	if !auth403.TriggersFallback() {
		t.Error("403 should trigger candidate fallback")
	}

	auth401 := NewErrorWithStatus(ErrorTypeAuth, 401, "bad key")
	if auth401.TriggersFallback() {
		t.Error("401 must not trigger fallback; the key is bad for every model")
	}

	transient := NewErrorWithStatus(ErrorTypeTransient, 503, "overloaded")
	if transient.TriggersFallback() {
		t.Error("5xx must not trigger fallback; it retries on the same model")
	}
}

func TestIsRetryable(t *testing.T) {
	if NewError(ErrorTypeAuth, "x").IsRetryable() {
		t.Error("auth errors are not retryable")
	}
	if NewError(ErrorTypeParse, "x").IsRetryable() {
		t.Error("parse errors retry at the orchestrator layer, not here")
	}
	if !NewError(ErrorTypeTransient, "x").IsRetryable() {
		t.Error("transient errors are retryable")
	}
	if !NewError(ErrorTypeEmptyResponse, "x").IsRetryable() {
		t.Error("empty responses are retryable")
	}
}

func TestUnwrapAndTypeOf(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewErrorWithCause(ErrorTypeTransient, cause, "call failed")
	wrapped := fmt.Errorf("resolving intent: %w", err)

	if !errors.Is(wrapped, cause) {
		t.Error("expected chain to reach the cause")
	}
	if TypeOf(wrapped) != ErrorTypeTransient {
		t.Errorf("TypeOf = %s, want transient", TypeOf(wrapped))
	}
	if !Is(wrapped, ErrorTypeTransient) {
		t.Error("Is should match through wrapping")
	}
}

func TestGetRetryConfigFallsBackToUnknown(t *testing.T) {
	e := &Error{Type: ErrorType(99)}
	cfg := e.GetRetryConfig()
	if cfg.MaxRetries != DefaultUnknownRetries {
		t.Errorf("expected unknown retry config, got %+v", cfg)
	}
}
