// Package platform models per-storefront capabilities behind a uniform
// interface and a registry keyed by platform ID. The orchestrator never
// branches on platform names; it asks the registry and calls the interface.
package platform

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/StevenAri1995/RetailAgent/pkg/intent"
	"github.com/StevenAri1995/RetailAgent/pkg/proto"
)

// PlatformNotFoundError indicates no registered platform matches the request.
type PlatformNotFoundError struct {
	Platform string
}

func (e *PlatformNotFoundError) Error() string {
	return fmt.Sprintf("platform not found: %s", e.Platform)
}

// UnsupportedOperationError indicates the platform exists but does not
// implement the requested operation.
type UnsupportedOperationError struct {
	Platform  string
	Operation proto.Action
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("platform %s does not support %s", e.Platform, e.Operation)
}

// OperationFailedError wraps a page-agent failure response for one operation.
type OperationFailedError struct {
	Platform  string
	Operation proto.Action
	Reason    string
}

func (e *OperationFailedError) Error() string {
	return fmt.Sprintf("%s on %s failed: %s", e.Operation, e.Platform, e.Reason)
}

// Descriptor is the static description of one storefront.
type Descriptor struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	HomeURL string   `yaml:"home_url"`
	Domains []string `yaml:"domains"`
	// Operations lists supported agent actions; empty means all.
	Operations []string `yaml:"operations,omitempty"`
	// ConfirmationMarkers are URL fragments that indicate a completed order.
	ConfirmationMarkers []string `yaml:"confirmation_markers"`
	// SponsoredMarkers are listing badges that flag promoted results.
	SponsoredMarkers []string `yaml:"sponsored_markers,omitempty"`
}

// SupportsOperation reports whether the descriptor allows the action.
func (d Descriptor) SupportsOperation(action proto.Action) bool {
	if len(d.Operations) == 0 {
		return true
	}
	for _, op := range d.Operations {
		if op == string(action) {
			return true
		}
	}
	return false
}

// MatchesURL reports whether the URL belongs to one of the descriptor's
// domains.
func (d Descriptor) MatchesURL(url string) bool {
	for _, domain := range d.Domains {
		if strings.Contains(url, domain) {
			return true
		}
	}
	return false
}

// ConfirmsOrder reports whether the URL looks like an order confirmation
// page for this storefront.
func (d Descriptor) ConfirmsOrder(url string) bool {
	for _, marker := range d.ConfirmationMarkers {
		if strings.Contains(url, marker) {
			return true
		}
	}
	return false
}

// Capabilities is the uniform operation surface of one storefront. Context
// IDs scope every call to a page navigation context; implementations return
// *UnsupportedOperationError for operations their descriptor excludes.
type Capabilities interface {
	Descriptor() Descriptor

	Search(ctx context.Context, contextID, query string) error
	GetSearchResults(ctx context.Context, contextID string) ([]proto.ProductSummary, error)
	SelectProduct(ctx context.Context, contextID string, index int) error
	ApplyFilters(ctx context.Context, contextID string, filters intent.FilterSet) error
	SortResults(ctx context.Context, contextID, sort string) error
	GetProductDetails(ctx context.Context, contextID string) (proto.ProductDetails, error)
	AddToCart(ctx context.Context, contextID string) error
	BuyNow(ctx context.Context, contextID string) error
	CheckLoginStatus(ctx context.Context, contextID string) (bool, error)
	GetOrderDetails(ctx context.Context, contextID string) (proto.OrderDetails, error)
	TrackOrder(ctx context.Context, contextID, orderID string) (proto.OrderDetails, error)
	InitiateReturn(ctx context.Context, contextID, orderID, reason string) error
	CreateSupportTicket(ctx context.Context, contextID, subject, body string) error
}

// Registry holds registered platforms. Lookup by ID is exact
// (case-insensitive); lookup by URL returns the first registered platform
// whose domain matches, in registration order.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]Capabilities
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Capabilities)}
}

// Register adds a platform. Re-registering an ID replaces the previous
// entry but keeps its position in URL-resolution order.
func (r *Registry) Register(p Capabilities) {
	id := strings.ToLower(p.Descriptor().ID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[id]; !exists {
		r.order = append(r.order, id)
	}
	r.byID[id] = p
}

// Get returns the platform registered under id.
func (r *Registry) Get(id string) (Capabilities, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[strings.ToLower(id)]
	if !ok {
		return nil, &PlatformNotFoundError{Platform: id}
	}
	return p, nil
}

// ResolveByURL returns the first registered platform whose domains match
// the URL.
func (r *Registry) ResolveByURL(url string) (Capabilities, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		p := r.byID[id]
		if p.Descriptor().MatchesURL(url) {
			return p, nil
		}
	}
	return nil, &PlatformNotFoundError{Platform: url}
}

// IDs lists registered platform IDs in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
