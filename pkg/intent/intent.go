// Package intent resolves free-text shopping requests into structured intents
// using a resilient model client with ordered candidate fallback.
package intent

import (
	"fmt"
	"time"
)

// FilterSet carries the product filters extracted from a request.
type FilterSet struct {
	PriceMax  float64 `json:"price_max,omitempty"`
	PriceMin  float64 `json:"price_min,omitempty"`
	Brand     string  `json:"brand,omitempty"`
	MinRating float64 `json:"min_rating,omitempty"`
	Color     string  `json:"color,omitempty"`
	Size      string  `json:"size,omitempty"`
}

// IsZero reports whether no filter is set.
func (f FilterSet) IsZero() bool {
	return f == FilterSet{}
}

// Intent is the structured interpretation of a free-text shopping request.
// Produced once per request and immutable afterwards; owned by the
// orchestrator for the request's lifetime.
type Intent struct {
	Product          string    `json:"product"`
	Platform         string    `json:"platform,omitempty"`
	Filters          FilterSet `json:"filters,omitempty"`
	Sort             string    `json:"sort,omitempty"`
	DeliveryLocation string    `json:"delivery_location,omitempty"`
	PaymentMethod    string    `json:"payment_method,omitempty"`
	Quantity         int       `json:"quantity,omitempty"`
	Raw              string    `json:"-"` // Original request text, diagnostic only
}

// Outcome labels a single model attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailed  Outcome = "FAILED"
)

// Attempt records one model generation attempt for diagnostics.
type Attempt struct {
	Model        string        `json:"model"`
	AttemptIndex int           `json:"attempt_index"`
	Outcome      Outcome       `json:"outcome"`
	StatusCode   int           `json:"status_code,omitempty"`
	Duration     time.Duration `json:"duration_ms"`
}

// AttemptLog is the ordered sequence of attempts for one resolve call.
// Diagnostic only, rebuilt per call; never authoritative state.
type AttemptLog []Attempt

// ParseError indicates the model's output was not parseable structured data.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("intent not parseable from model output: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ModelUnavailableError indicates every candidate model was rejected.
type ModelUnavailableError struct {
	Attempts AttemptLog
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("all %d model candidates rejected", len(e.Attempts))
}
