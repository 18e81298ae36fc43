// Package flow drives one shopping request through its lifecycle: parse the
// request, search the storefront, pick a result, and attempt checkout. One
// flow is active at a time; a newer request supersedes the current one.
package flow

import (
	"fmt"

	"github.com/StevenAri1995/RetailAgent/pkg/intent"
	"github.com/StevenAri1995/RetailAgent/pkg/proto"
)

// State is one node of the shopping flow lifecycle.
type State string

const (
	StateIdle           State = "IDLE"
	StateParsing        State = "PARSING"
	StateSearching      State = "SEARCHING"
	StateSelecting      State = "SELECTING"
	StateProductPage    State = "PRODUCT_PAGE"
	StateCheckoutFlow   State = "CHECKOUT_FLOW"
	StateCompleted      State = "COMPLETED"
	StateManualCheckout State = "NEEDS_MANUAL_CHECKOUT"
	StateFailed         State = "FAILED"
)

func (s State) String() string { return string(s) }

// IsTerminal reports whether the state ends the flow.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateManualCheckout, StateFailed:
		return true
	default:
		return false
	}
}

// validTransitions is the authoritative transition table. Every state may
// additionally fail; FAILED is reachable from all non-terminal states.
var validTransitions = map[State][]State{
	StateIdle:         {StateParsing},
	StateParsing:      {StateSearching},
	StateSearching:    {StateSelecting},
	StateSelecting:    {StateProductPage},
	StateProductPage:  {StateCheckoutFlow},
	StateCheckoutFlow: {StateCompleted, StateManualCheckout},
}

// ValidTransition reports whether from -> to is allowed.
func ValidTransition(from, to State) bool {
	if to == StateFailed {
		return !from.IsTerminal()
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports an attempted transition outside the table.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid flow transition %s -> %s", e.From, e.To)
}

// NoResultsError indicates the search produced nothing selectable.
type NoResultsError struct {
	Query string
}

func (e *NoResultsError) Error() string {
	return fmt.Sprintf("no selectable results for %q", e.Query)
}

// Snapshot is the externally visible flow state at one point in time.
type Snapshot struct {
	Generation uint64                 `json:"generation"`
	State      State                  `json:"state"`
	Intent     intent.Intent          `json:"intent"`
	Platform   string                 `json:"platform,omitempty"`
	ContextID  string                 `json:"context_id,omitempty"`
	Results    []proto.ProductSummary `json:"results,omitempty"`
	Selected   *proto.ProductSummary  `json:"selected,omitempty"`
	Order      *proto.OrderDetails    `json:"order,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Superseded bool                   `json:"superseded,omitempty"`
}
