package proto

import (
	"encoding/json"
	"fmt"
)

// Common payload keys used in agent messages.
const (
	KeyQuery    = "query"
	KeyFilters  = "filters"
	KeyIndex    = "index"
	KeySort     = "sort"
	KeyOrderID  = "order_id"
	KeyReason   = "reason"
	KeySubject  = "subject"
	KeyBody     = "body"
	KeyURL      = "url"
	KeyResults  = "results"
	KeyLoggedIn = "logged_in"
)

// ProductSummary is one entry in a search result listing as reported by the
// page-resident agent.
type ProductSummary struct {
	Title     string  `json:"title"`
	Price     float64 `json:"price,omitempty"`
	Rating    float64 `json:"rating,omitempty"`
	URL       string  `json:"url,omitempty"`
	Sponsored bool    `json:"sponsored,omitempty"`
	Index     int     `json:"index"`
}

// OrderDetails is the terminal order report extracted from a confirmation page.
type OrderDetails struct {
	OrderID string  `json:"order_id"`
	Amount  float64 `json:"amount,omitempty"`
	ETA     string  `json:"eta,omitempty"`
	URL     string  `json:"url,omitempty"`
}

// ProductDetails describes the product page the flow landed on.
type ProductDetails struct {
	Title        string  `json:"title"`
	Price        float64 `json:"price,omitempty"`
	Rating       float64 `json:"rating,omitempty"`
	Availability string  `json:"availability,omitempty"`
	URL          string  `json:"url,omitempty"`
}

// decode round-trips a map payload into a typed struct. Payloads cross a JSON
// transport, so values arrive as generic maps.
func decode[T any](data map[string]any, out *T) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to re-marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

// ResultsFromResponse extracts the product listing from a GET_RESULTS response.
func ResultsFromResponse(resp *AgentResponse) ([]ProductSummary, error) {
	raw, ok := resp.Data[KeyResults]
	if !ok {
		return nil, fmt.Errorf("response has no %q payload", KeyResults)
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to re-marshal results: %w", err)
	}
	var results []ProductSummary
	if err := json.Unmarshal(encoded, &results); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}
	return results, nil
}

// OrderFromResponse extracts order details from a GET_ORDER_DETAILS response.
func OrderFromResponse(resp *AgentResponse) (OrderDetails, error) {
	var details OrderDetails
	if err := decode(resp.Data, &details); err != nil {
		return OrderDetails{}, err
	}
	if details.OrderID == "" {
		return OrderDetails{}, fmt.Errorf("order details missing order_id")
	}
	return details, nil
}

// ProductFromResponse extracts product details from a GET_PRODUCT_DETAILS response.
func ProductFromResponse(resp *AgentResponse) (ProductDetails, error) {
	var details ProductDetails
	if err := decode(resp.Data, &details); err != nil {
		return ProductDetails{}, err
	}
	return details, nil
}

// LoggedInFromResponse extracts the login flag from a CHECK_LOGIN_STATUS response.
func LoggedInFromResponse(resp *AgentResponse) bool {
	v, ok := resp.Data[KeyLoggedIn]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
