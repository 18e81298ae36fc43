package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StevenAri1995/RetailAgent/pkg/cache"
	"github.com/StevenAri1995/RetailAgent/pkg/llm"
	"github.com/StevenAri1995/RetailAgent/pkg/llmerrors"
)

const samsungJSON = `{"product":"Samsung phone","filters":{"price_max":50000}}`

// fakeClient scripts one model's behavior.
type fakeClient struct {
	model    string
	err      error
	content  string
	listed   []string
	listErr  error
	calls    *int
	allCalls *int
}

func (f *fakeClient) Complete(context.Context, llm.Request) (llm.Response, error) {
	if f.calls != nil {
		*f.calls++
	}
	if f.allCalls != nil {
		*f.allCalls++
	}
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Content: f.content, StopReason: "end_turn"}, nil
}

func (f *fakeClient) ListModels(context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if f.listed != nil {
		return f.listed, nil
	}
	return []string{f.model}, nil
}

func (f *fakeClient) ModelName() string { return f.model }

// fakeFactory hands out scripted clients by model name.
type fakeFactory struct {
	clients map[string]*fakeClient
}

func (f *fakeFactory) factory(_ Provider, _ string, model string) (llm.Client, error) {
	c, ok := f.clients[model]
	if !ok {
		return nil, errors.New("no scripted client for " + model)
	}
	return c, nil
}

func threeCandidates() []Candidate {
	return []Candidate{
		{Provider: ProviderGoogle, Model: "model-a"},
		{Provider: ProviderGoogle, Model: "model-b"},
		{Provider: ProviderGoogle, Model: "model-c"},
	}
}

func newTestResolver(f *fakeFactory, candidates []Candidate, clock cache.Clock) *Resolver {
	return NewResolver(ResolverOptions{
		Candidates: candidates,
		Factory:    f.factory,
		Clock:      clock,
	})
}

func TestResolve_FallbackAcrossRateLimitedModels(t *testing.T) {
	rate := llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeRateLimit, 429, "quota exceeded")
	f := &fakeFactory{clients: map[string]*fakeClient{
		"model-a": {model: "model-a", err: rate, listed: []string{"model-a", "model-b", "model-c"}},
		"model-b": {model: "model-b", err: rate},
		"model-c": {model: "model-c", content: samsungJSON},
	}}

	r := newTestResolver(f, threeCandidates(), nil)
	parsed, log, err := r.Resolve(context.Background(), "Buy a Samsung phone under 50000", "key")

	require.NoError(t, err)
	assert.Equal(t, "Samsung phone", parsed.Product)
	assert.Equal(t, float64(50000), parsed.Filters.PriceMax)

	require.Len(t, log, 3)
	assert.Equal(t, OutcomeFailed, log[0].Outcome)
	assert.Equal(t, "model-a", log[0].Model)
	assert.Equal(t, 429, log[0].StatusCode)
	assert.Equal(t, OutcomeFailed, log[1].Outcome)
	assert.Equal(t, "model-b", log[1].Model)
	assert.Equal(t, OutcomeSuccess, log[2].Outcome)
	assert.Equal(t, "model-c", log[2].Model)
}

func TestResolve_403TriggersFallback(t *testing.T) {
	forbidden := llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeAuth, 403, "model not permitted")
	f := &fakeFactory{clients: map[string]*fakeClient{
		"model-a": {model: "model-a", err: forbidden, listed: []string{"model-a", "model-b", "model-c"}},
		"model-b": {model: "model-b", content: samsungJSON},
		"model-c": {model: "model-c", content: samsungJSON},
	}}

	r := newTestResolver(f, threeCandidates(), nil)
	parsed, log, err := r.Resolve(context.Background(), "Buy a Samsung phone", "key")

	require.NoError(t, err)
	assert.Equal(t, "Samsung phone", parsed.Product)
	require.Len(t, log, 2)
}

func TestResolve_StructuralErrorFailsImmediately(t *testing.T) {
	bad := llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeBadPrompt, 400, "malformed")
	cCalls := 0
	f := &fakeFactory{clients: map[string]*fakeClient{
		"model-a": {model: "model-a", err: bad, listed: []string{"model-a", "model-b", "model-c"}},
		"model-b": {model: "model-b", content: samsungJSON},
		"model-c": {model: "model-c", content: samsungJSON, calls: &cCalls},
	}}

	r := newTestResolver(f, threeCandidates(), nil)
	_, log, err := r.Resolve(context.Background(), "Buy a phone", "key")

	require.Error(t, err)
	assert.Equal(t, llmerrors.ErrorTypeBadPrompt, llmerrors.TypeOf(err))
	require.Len(t, log, 1, "no fallback after a structural failure")
	assert.Zero(t, cCalls)
}

func TestResolve_AllCandidatesExhausted(t *testing.T) {
	rate := llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeRateLimit, 429, "quota")
	f := &fakeFactory{clients: map[string]*fakeClient{
		"model-a": {model: "model-a", err: rate, listed: []string{"model-a", "model-b", "model-c"}},
		"model-b": {model: "model-b", err: rate},
		"model-c": {model: "model-c", err: rate},
	}}

	r := newTestResolver(f, threeCandidates(), nil)
	_, log, err := r.Resolve(context.Background(), "Buy a phone", "key")

	var unavailable *ModelUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Len(t, unavailable.Attempts, 3)
	assert.Len(t, log, 3)
}

func TestResolve_ResponseCacheMakesRetryFree(t *testing.T) {
	calls := 0
	f := &fakeFactory{clients: map[string]*fakeClient{
		"model-a": {model: "model-a", content: samsungJSON, calls: &calls, listed: []string{"model-a"}},
	}}

	r := newTestResolver(f, []Candidate{{Provider: ProviderGoogle, Model: "model-a"}}, nil)

	_, _, err := r.Resolve(context.Background(), "Buy a Samsung phone", "key")
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	// Identical text again within the TTL: parse served from cache.
	parsed, log, err := r.Resolve(context.Background(), "Buy a Samsung phone", "key")
	require.NoError(t, err)
	assert.Equal(t, "Samsung phone", parsed.Product)
	assert.Equal(t, 1, calls, "second resolve must not hit the model endpoint")
	assert.Empty(t, log)
}

func TestResolve_UnusableCachedResponseEvicted(t *testing.T) {
	calls := 0
	f := &fakeFactory{clients: map[string]*fakeClient{
		"model-a": {model: "model-a", content: samsungJSON, calls: &calls, listed: []string{"model-a"}},
	}}

	responses := cache.NewResponseCache(0, nil)
	responses.Put("model-a", BuildPrompt("Buy a Samsung phone"), "sorry, I cannot help")

	r := NewResolver(ResolverOptions{
		Candidates:    []Candidate{{Provider: ProviderGoogle, Model: "model-a"}},
		Factory:       f.factory,
		ResponseCache: responses,
	})

	parsed, _, err := r.Resolve(context.Background(), "Buy a Samsung phone", "key")
	require.NoError(t, err)
	assert.Equal(t, "Samsung phone", parsed.Product)
	assert.Equal(t, 1, calls, "unusable cache entry must trigger a real call")

	raw, ok := responses.Get("model-a", BuildPrompt("Buy a Samsung phone"))
	require.True(t, ok)
	assert.Equal(t, samsungJSON, raw, "fresh response replaces the evicted entry")
}

func TestResolve_WorkingModelPromotion(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	aCalls, cCalls := 0, 0
	f := &fakeFactory{clients: map[string]*fakeClient{
		"model-a": {model: "model-a", content: samsungJSON, calls: &aCalls, listed: []string{"model-a", "model-b", "model-c"}},
		"model-b": {model: "model-b", content: samsungJSON},
		"model-c": {model: "model-c", content: samsungJSON, calls: &cCalls},
	}}

	working := cache.NewWorkingModelCache(clock)
	working.Put("key", "model-c")

	r := NewResolver(ResolverOptions{
		Candidates:   threeCandidates(),
		Factory:      f.factory,
		WorkingCache: working,
		Clock:        clock,
	})

	_, log, err := r.Resolve(context.Background(), "Buy a phone", "key")
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, "model-c", log[0].Model, "memoized working model goes first")
	assert.Equal(t, 1, cCalls)
	assert.Zero(t, aCalls)
}

func TestResolve_AvailabilityFilterDropsUnlistedModels(t *testing.T) {
	bCalls := 0
	f := &fakeFactory{clients: map[string]*fakeClient{
		// The endpoint only reports model-b and model-c for this credential.
		"model-a": {model: "model-a", content: samsungJSON, listed: []string{"model-b", "model-c"}},
		"model-b": {model: "model-b", content: samsungJSON, calls: &bCalls},
		"model-c": {model: "model-c", content: samsungJSON},
	}}

	r := newTestResolver(f, threeCandidates(), nil)
	_, log, err := r.Resolve(context.Background(), "Buy a phone", "key")

	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, "model-b", log[0].Model)
	assert.Equal(t, 1, bCalls)
}

func TestResolve_MissingAPIKey(t *testing.T) {
	r := newTestResolver(&fakeFactory{clients: map[string]*fakeClient{}}, threeCandidates(), nil)
	_, _, err := r.Resolve(context.Background(), "Buy a phone", "  ")
	require.Error(t, err)
	assert.Equal(t, llmerrors.ErrorTypeAuth, llmerrors.TypeOf(err))
}

func TestResolve_ParseFailureSurfacesParseError(t *testing.T) {
	f := &fakeFactory{clients: map[string]*fakeClient{
		"model-a": {model: "model-a", content: "sorry, I cannot help", listed: []string{"model-a"}},
	}}

	r := newTestResolver(f, []Candidate{{Provider: ProviderGoogle, Model: "model-a"}}, nil)
	_, log, err := r.Resolve(context.Background(), "Buy a phone", "key")

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	// The model call itself succeeded; parse failures retry above this layer.
	require.Len(t, log, 1)
	assert.Equal(t, OutcomeSuccess, log[0].Outcome)
}

func TestAvailableModels(t *testing.T) {
	f := &fakeFactory{clients: map[string]*fakeClient{
		"model-a": {model: "model-a", listed: []string{"model-a", "model-c", "other"}},
		"model-b": {model: "model-b"},
		"model-c": {model: "model-c"},
	}}

	r := newTestResolver(f, threeCandidates(), nil)
	models, err := r.AvailableModels(context.Background(), "key")

	require.NoError(t, err)
	assert.Equal(t, []string{"model-a", "model-c"}, models)
}

type mapStore struct{ m map[string]string }

func (s *mapStore) Get(key string) (string, bool) { v, ok := s.m[key]; return v, ok }
func (s *mapStore) Set(key, value string)         { s.m[key] = value }

func TestResolve_PersistsWorkingModel(t *testing.T) {
	store := &mapStore{m: map[string]string{}}
	f := &fakeFactory{clients: map[string]*fakeClient{
		"model-a": {model: "model-a", content: samsungJSON, listed: []string{"model-a"}},
	}}

	r := NewResolver(ResolverOptions{
		Candidates: []Candidate{{Provider: ProviderGoogle, Model: "model-a"}},
		Factory:    f.factory,
		Store:      store,
	})

	_, _, err := r.Resolve(context.Background(), "Buy a phone", "key")
	require.NoError(t, err)

	found := false
	for _, v := range store.m {
		if v == "model-a" {
			found = true
		}
	}
	assert.True(t, found, "working model should be persisted best-effort")
}
