// Package proto defines the wire protocol between the orchestrator and the
// page-resident agent. All communication is asynchronous request/response
// with correlation IDs; the agent additionally pushes unsolicited page
// lifecycle events.
package proto

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action identifies an operation the page-resident agent can execute.
type Action string

const (
	ActionSearch            Action = "SEARCH"
	ActionGetResults        Action = "GET_RESULTS"
	ActionSelectProduct     Action = "SELECT_PRODUCT"
	ActionAddToCart         Action = "ADD_TO_CART"
	ActionBuyNow            Action = "BUY_NOW"
	ActionApplyFilters      Action = "APPLY_FILTERS"
	ActionSortResults       Action = "SORT_RESULTS"
	ActionGetProductDetails Action = "GET_PRODUCT_DETAILS"
	ActionGetOrderDetails   Action = "GET_ORDER_DETAILS"
	ActionCheckLoginStatus  Action = "CHECK_LOGIN_STATUS"
	ActionTrackOrder        Action = "TRACK_ORDER"
	ActionInitiateReturn    Action = "INITIATE_RETURN"
	ActionCreateTicket      Action = "CREATE_SUPPORT_TICKET"
)

// MutatesStorefront reports whether the action has real-world side effects.
// The orchestrator never issues two of these concurrently for one flow.
func (a Action) MutatesStorefront() bool {
	switch a {
	case ActionAddToCart, ActionBuyNow, ActionInitiateReturn, ActionCreateTicket:
		return true
	default:
		return false
	}
}

// ValidateAction validates if a string is a known action.
func ValidateAction(s string) (Action, bool) {
	switch Action(s) {
	case ActionSearch, ActionGetResults, ActionSelectProduct, ActionAddToCart,
		ActionBuyNow, ActionApplyFilters, ActionSortResults, ActionGetProductDetails,
		ActionGetOrderDetails, ActionCheckLoginStatus, ActionTrackOrder,
		ActionInitiateReturn, ActionCreateTicket:
		return Action(s), true
	default:
		return "", false
	}
}

// ParseAction parses a string into an Action with validation.
func ParseAction(s string) (Action, error) {
	if action, ok := ValidateAction(strings.ToUpper(s)); ok {
		return action, nil
	}
	return "", fmt.Errorf("unknown action: %s", s)
}

// String returns the string representation of the action.
func (a Action) String() string {
	return string(a)
}

// AgentRequest is a request sent to the page-resident agent.
type AgentRequest struct {
	ID            string         `json:"id"`
	CorrelationID string         `json:"correlation_id"`
	ContextID     string         `json:"context_id"` // Page context handle this request targets
	Action        Action         `json:"action"`
	Payload       map[string]any `json:"payload,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// AgentResponse is the agent's reply to an AgentRequest.
type AgentResponse struct {
	ID            string         `json:"id"`
	CorrelationID string         `json:"correlation_id"` // Matches the request
	ContextID     string         `json:"context_id"`
	Success       bool           `json:"success"`
	Data          map[string]any `json:"data,omitempty"`
	Error         string         `json:"error,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// EventType identifies an unsolicited event pushed by the agent.
type EventType string

const (
	// EventPageLoaded signals that a page finished loading.
	EventPageLoaded EventType = "PAGE_LOADED"
	// EventAgentReady signals the agent injected itself into a page context.
	EventAgentReady EventType = "AGENT_READY"
)

// PageEvent is an unsolicited lifecycle event from the page-resident agent.
// Events may arrive duplicated or stale; consumers must match ContextID
// against their live page context and discard mismatches.
type PageEvent struct {
	Type      EventType `json:"type"`
	ContextID string    `json:"context_id"`
	URL       string    `json:"url,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewAgentRequest creates a request with fresh IDs for the given context.
func NewAgentRequest(action Action, contextID string) *AgentRequest {
	return &AgentRequest{
		ID:            uuid.NewString(),
		CorrelationID: GenerateCorrelationID(),
		ContextID:     contextID,
		Action:        action,
		Payload:       make(map[string]any),
		Timestamp:     time.Now().UTC(),
	}
}

// GenerateCorrelationID creates a unique ID for a request/response pair.
func GenerateCorrelationID() string {
	return "c_" + uuid.NewString()
}

// NewContextID creates an opaque page context handle.
func NewContextID() string {
	return "pg_" + uuid.NewString()
}

// SetPayload sets a payload key, initializing the map if needed.
func (r *AgentRequest) SetPayload(key string, value any) {
	if r.Payload == nil {
		r.Payload = make(map[string]any)
	}
	r.Payload[key] = value
}

// GetPayload returns a payload value and whether it was present.
func (r *AgentRequest) GetPayload(key string) (any, bool) {
	if r.Payload == nil {
		return nil, false
	}
	v, ok := r.Payload[key]
	return v, ok
}

// Validate checks required request fields.
func (r *AgentRequest) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("request ID is required")
	}
	if r.CorrelationID == "" {
		return fmt.Errorf("correlation ID is required")
	}
	if r.ContextID == "" {
		return fmt.Errorf("context ID is required")
	}
	if _, ok := ValidateAction(string(r.Action)); !ok {
		return fmt.Errorf("invalid action: %s", r.Action)
	}
	return nil
}

// ToJSON serializes the request.
func (r *AgentRequest) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// RequestFromJSON deserializes a request.
func RequestFromJSON(data []byte) (*AgentRequest, error) {
	var req AgentRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal AgentRequest: %w", err)
	}
	return &req, nil
}

// ResponseFromJSON deserializes a response.
func ResponseFromJSON(data []byte) (*AgentResponse, error) {
	var resp AgentResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal AgentResponse: %w", err)
	}
	return &resp, nil
}

// OK builds a successful response correlated to the request.
func (r *AgentRequest) OK(data map[string]any) *AgentResponse {
	return &AgentResponse{
		ID:            uuid.NewString(),
		CorrelationID: r.CorrelationID,
		ContextID:     r.ContextID,
		Success:       true,
		Data:          data,
		Timestamp:     time.Now().UTC(),
	}
}

// Fail builds a failed response correlated to the request.
func (r *AgentRequest) Fail(reason string) *AgentResponse {
	return &AgentResponse{
		ID:            uuid.NewString(),
		CorrelationID: r.CorrelationID,
		ContextID:     r.ContextID,
		Success:       false,
		Error:         reason,
		Timestamp:     time.Now().UTC(),
	}
}
