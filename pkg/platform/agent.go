package platform

import (
	"context"

	"github.com/StevenAri1995/RetailAgent/pkg/intent"
	"github.com/StevenAri1995/RetailAgent/pkg/logx"
	"github.com/StevenAri1995/RetailAgent/pkg/proto"
)

// Caller issues one correlated request to the page-resident agent.
// *bridge.Bridge satisfies this.
type Caller interface {
	Call(ctx context.Context, req *proto.AgentRequest) (*proto.AgentResponse, error)
}

// agentPlatform implements Capabilities by driving the page-resident agent
// through a Caller. All storefronts share this implementation; they differ
// only in their descriptor.
type agentPlatform struct {
	desc   Descriptor
	caller Caller
	logger *logx.Logger
}

// New returns a Capabilities implementation for the descriptor, backed by
// the caller.
func New(desc Descriptor, caller Caller) Capabilities {
	return &agentPlatform{
		desc:   desc,
		caller: caller,
		logger: logx.NewLogger("platform:" + desc.ID),
	}
}

func (p *agentPlatform) Descriptor() Descriptor { return p.desc }

// call sends one action to the page agent and maps failure responses to
// *OperationFailedError.
func (p *agentPlatform) call(ctx context.Context, contextID string, action proto.Action, payload map[string]any) (*proto.AgentResponse, error) {
	if !p.desc.SupportsOperation(action) {
		return nil, &UnsupportedOperationError{Platform: p.desc.ID, Operation: action}
	}
	req := proto.NewAgentRequest(action, contextID)
	for k, v := range payload {
		req.SetPayload(k, v)
	}
	resp, err := p.caller.Call(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		p.logger.Warn("%s failed on %s: %s", action, p.desc.ID, resp.Error)
		return nil, &OperationFailedError{Platform: p.desc.ID, Operation: action, Reason: resp.Error}
	}
	return resp, nil
}

func (p *agentPlatform) Search(ctx context.Context, contextID, query string) error {
	_, err := p.call(ctx, contextID, proto.ActionSearch, map[string]any{proto.KeyQuery: query})
	return err
}

func (p *agentPlatform) GetSearchResults(ctx context.Context, contextID string) ([]proto.ProductSummary, error) {
	resp, err := p.call(ctx, contextID, proto.ActionGetResults, nil)
	if err != nil {
		return nil, err
	}
	return proto.ResultsFromResponse(resp)
}

func (p *agentPlatform) SelectProduct(ctx context.Context, contextID string, index int) error {
	_, err := p.call(ctx, contextID, proto.ActionSelectProduct, map[string]any{proto.KeyIndex: index})
	return err
}

func (p *agentPlatform) ApplyFilters(ctx context.Context, contextID string, filters intent.FilterSet) error {
	if filters.IsZero() {
		return nil
	}
	_, err := p.call(ctx, contextID, proto.ActionApplyFilters, map[string]any{proto.KeyFilters: filters})
	return err
}

func (p *agentPlatform) SortResults(ctx context.Context, contextID, sort string) error {
	_, err := p.call(ctx, contextID, proto.ActionSortResults, map[string]any{proto.KeySort: sort})
	return err
}

func (p *agentPlatform) GetProductDetails(ctx context.Context, contextID string) (proto.ProductDetails, error) {
	resp, err := p.call(ctx, contextID, proto.ActionGetProductDetails, nil)
	if err != nil {
		return proto.ProductDetails{}, err
	}
	return proto.ProductFromResponse(resp)
}

func (p *agentPlatform) AddToCart(ctx context.Context, contextID string) error {
	_, err := p.call(ctx, contextID, proto.ActionAddToCart, nil)
	return err
}

func (p *agentPlatform) BuyNow(ctx context.Context, contextID string) error {
	_, err := p.call(ctx, contextID, proto.ActionBuyNow, nil)
	return err
}

func (p *agentPlatform) CheckLoginStatus(ctx context.Context, contextID string) (bool, error) {
	resp, err := p.call(ctx, contextID, proto.ActionCheckLoginStatus, nil)
	if err != nil {
		return false, err
	}
	return proto.LoggedInFromResponse(resp), nil
}

func (p *agentPlatform) GetOrderDetails(ctx context.Context, contextID string) (proto.OrderDetails, error) {
	resp, err := p.call(ctx, contextID, proto.ActionGetOrderDetails, nil)
	if err != nil {
		return proto.OrderDetails{}, err
	}
	return proto.OrderFromResponse(resp)
}

func (p *agentPlatform) TrackOrder(ctx context.Context, contextID, orderID string) (proto.OrderDetails, error) {
	resp, err := p.call(ctx, contextID, proto.ActionTrackOrder, map[string]any{proto.KeyOrderID: orderID})
	if err != nil {
		return proto.OrderDetails{}, err
	}
	return proto.OrderFromResponse(resp)
}

func (p *agentPlatform) InitiateReturn(ctx context.Context, contextID, orderID, reason string) error {
	_, err := p.call(ctx, contextID, proto.ActionInitiateReturn, map[string]any{
		proto.KeyOrderID: orderID,
		proto.KeyReason:  reason,
	})
	return err
}

func (p *agentPlatform) CreateSupportTicket(ctx context.Context, contextID, subject, body string) error {
	_, err := p.call(ctx, contextID, proto.ActionCreateTicket, map[string]any{
		proto.KeySubject: subject,
		proto.KeyBody:    body,
	})
	return err
}
