package platform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StevenAri1995/RetailAgent/pkg/intent"
	"github.com/StevenAri1995/RetailAgent/pkg/proto"
)

// recordingCaller answers every request from a script keyed by action and
// records what it saw.
type recordingCaller struct {
	requests []*proto.AgentRequest
	respond  map[proto.Action]func(req *proto.AgentRequest) *proto.AgentResponse
}

func (c *recordingCaller) Call(_ context.Context, req *proto.AgentRequest) (*proto.AgentResponse, error) {
	c.requests = append(c.requests, req)
	if fn, ok := c.respond[req.Action]; ok {
		return fn(req), nil
	}
	return req.OK(nil), nil
}

func testDescriptor() Descriptor {
	return Descriptor{
		ID:                  "amazon",
		Domains:             []string{"amazon.in"},
		ConfirmationMarkers: []string{"/gp/buy/thankyou"},
		SponsoredMarkers:    []string{"Sponsored"},
	}
}

func TestSearchSendsQueryPayload(t *testing.T) {
	caller := &recordingCaller{}
	p := New(testDescriptor(), caller)

	err := p.Search(context.Background(), "pg_1", "samsung phone")
	require.NoError(t, err)
	require.Len(t, caller.requests, 1)

	req := caller.requests[0]
	assert.Equal(t, proto.ActionSearch, req.Action)
	assert.Equal(t, "pg_1", req.ContextID)
	q, _ := req.GetPayload(proto.KeyQuery)
	assert.Equal(t, "samsung phone", q)
}

func TestGetSearchResultsDecodesProducts(t *testing.T) {
	caller := &recordingCaller{
		respond: map[proto.Action]func(*proto.AgentRequest) *proto.AgentResponse{
			proto.ActionGetResults: func(req *proto.AgentRequest) *proto.AgentResponse {
				return req.OK(map[string]any{
					proto.KeyResults: []any{
						map[string]any{"title": "Galaxy M34", "price": 16999.0, "sponsored": true, "index": 0},
						map[string]any{"title": "Galaxy S23", "price": 44999.0, "sponsored": false, "index": 1},
					},
				})
			},
		},
	}
	p := New(testDescriptor(), caller)

	results, err := p.GetSearchResults(context.Background(), "pg_1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Sponsored)
	assert.Equal(t, "Galaxy S23", results[1].Title)
}

func TestUnsupportedOperation(t *testing.T) {
	desc := testDescriptor()
	desc.ID = "myntra"
	desc.Operations = []string{"SEARCH", "ADD_TO_CART"}
	caller := &recordingCaller{}
	p := New(desc, caller)

	err := p.BuyNow(context.Background(), "pg_1")
	var unsupported *UnsupportedOperationError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "myntra", unsupported.Platform)
	assert.Equal(t, proto.ActionBuyNow, unsupported.Operation)
	assert.Empty(t, caller.requests, "unsupported operation must not reach the agent")
}

func TestFailureResponseBecomesOperationError(t *testing.T) {
	caller := &recordingCaller{
		respond: map[proto.Action]func(*proto.AgentRequest) *proto.AgentResponse{
			proto.ActionAddToCart: func(req *proto.AgentRequest) *proto.AgentResponse {
				return req.Fail("button not found")
			},
		},
	}
	p := New(testDescriptor(), caller)

	err := p.AddToCart(context.Background(), "pg_1")
	var failed *OperationFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, proto.ActionAddToCart, failed.Operation)
	assert.Contains(t, failed.Reason, "button not found")
}

func TestApplyFiltersSkipsEmptySet(t *testing.T) {
	caller := &recordingCaller{}
	p := New(testDescriptor(), caller)

	require.NoError(t, p.ApplyFilters(context.Background(), "pg_1", intent.FilterSet{}))
	assert.Empty(t, caller.requests, "empty filter set should be a no-op")

	require.NoError(t, p.ApplyFilters(context.Background(), "pg_1", intent.FilterSet{PriceMax: 50000}))
	require.Len(t, caller.requests, 1)
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	caller := &recordingCaller{}
	r.Register(New(testDescriptor(), caller))

	p, err := r.Get("Amazon")
	require.NoError(t, err)
	assert.Equal(t, "amazon", p.Descriptor().ID)

	_, err = r.Get("ebay")
	var notFound *PlatformNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "ebay", notFound.Platform)
}

func TestRegistryResolveByURLRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	caller := &recordingCaller{}

	first := testDescriptor()
	first.ID = "amazon-in"
	first.Domains = []string{"amazon.in"}
	second := testDescriptor()
	second.ID = "amazon-global"
	second.Domains = []string{"amazon"}

	r.Register(New(first, caller))
	r.Register(New(second, caller))

	p, err := r.ResolveByURL("https://www.amazon.in/s?k=shoes")
	require.NoError(t, err)
	assert.Equal(t, "amazon-in", p.Descriptor().ID, "first matching registration wins")

	_, err = r.ResolveByURL("https://example.org")
	var notFound *PlatformNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestDefaultDescriptorsValid(t *testing.T) {
	descs := DefaultDescriptors()
	require.NotEmpty(t, descs)

	ids := map[string]bool{}
	for _, d := range descs {
		ids[d.ID] = true
		assert.NotEmpty(t, d.Domains, "%s needs domains", d.ID)
		assert.NotEmpty(t, d.ConfirmationMarkers, "%s needs confirmation markers", d.ID)
	}
	for _, want := range []string{"amazon", "flipkart", "myntra"} {
		assert.True(t, ids[want], "missing default platform %s", want)
	}
}

func TestMyntraHasNoBuyNow(t *testing.T) {
	r := NewDefaultRegistry(&recordingCaller{})
	p, err := r.Get("myntra")
	require.NoError(t, err)

	err = p.BuyNow(context.Background(), "pg_1")
	var unsupported *UnsupportedOperationError
	require.ErrorAs(t, err, &unsupported)
}

func TestDescriptorConfirmsOrder(t *testing.T) {
	d := testDescriptor()
	assert.True(t, d.ConfirmsOrder("https://www.amazon.in/gp/buy/thankyou?o=123"))
	assert.False(t, d.ConfirmsOrder("https://www.amazon.in/gp/cart"))
}

func TestLoadDescriptorsRejectsIncomplete(t *testing.T) {
	_, err := LoadDescriptors([]byte("platforms:\n  - id: x\n    domains: [x.com]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confirmation markers")
}
