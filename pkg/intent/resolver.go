package intent

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/StevenAri1995/RetailAgent/pkg/cache"
	"github.com/StevenAri1995/RetailAgent/pkg/llm"
	"github.com/StevenAri1995/RetailAgent/pkg/llm/provider/anthropic"
	"github.com/StevenAri1995/RetailAgent/pkg/llm/provider/google"
	"github.com/StevenAri1995/RetailAgent/pkg/llm/provider/ollama"
	"github.com/StevenAri1995/RetailAgent/pkg/llm/provider/openai"
	"github.com/StevenAri1995/RetailAgent/pkg/llmerrors"
	"github.com/StevenAri1995/RetailAgent/pkg/logx"
	"github.com/StevenAri1995/RetailAgent/pkg/metrics"
)

// Provider identifies a model API provider.
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
)

// Candidate is one entry in the ordered model fallback list.
type Candidate struct {
	Provider Provider `yaml:"provider" json:"provider"`
	Model    string   `yaml:"model" json:"model"`
}

// DefaultCandidates is the fallback order when config names none:
// most capable Gemini first, cheaper variants after.
//
//nolint:gochecknoglobals // Sensible default list pattern
var DefaultCandidates = []Candidate{
	{Provider: ProviderGoogle, Model: "gemini-2.5-pro"},
	{Provider: ProviderGoogle, Model: "gemini-2.5-flash"},
	{Provider: ProviderGoogle, Model: "gemini-2.0-flash"},
}

// ClientFactory constructs a raw model client for a candidate.
type ClientFactory func(provider Provider, apiKey, model string) (llm.Client, error)

// NewDefaultFactory returns a factory wiring the real provider clients.
// ollamaEndpoint may be empty if no local candidates are configured.
func NewDefaultFactory(ollamaEndpoint string) ClientFactory {
	return func(provider Provider, apiKey, model string) (llm.Client, error) {
		if provider != ProviderOllama {
			cfg := llm.Config{
				APIKey:      apiKey,
				ModelName:   model,
				MaxTokens:   llm.DefaultMaxTokens,
				Temperature: llm.TemperatureDeterministic,
			}
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("client config for %s/%s: %w", provider, model, err)
			}
		}
		switch provider {
		case ProviderGoogle:
			return google.NewClient(apiKey, model), nil
		case ProviderAnthropic:
			return anthropic.NewClient(apiKey, model), nil
		case ProviderOpenAI:
			return openai.NewClient(apiKey, model), nil
		case ProviderOllama:
			if ollamaEndpoint == "" {
				return nil, fmt.Errorf("no ollama endpoint configured")
			}
			return ollama.NewClient(ollamaEndpoint, model)
		default:
			return nil, fmt.Errorf("unknown provider %q", provider)
		}
	}
}

// KeyValue is the optional persistence hook for the day-scoped working model.
// Best-effort: losing this store degrades to re-resolution, never a crash.
type KeyValue interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// ResolverOptions configures a Resolver. Zero-value fields get defaults.
type ResolverOptions struct {
	Candidates    []Candidate
	Factory       ClientFactory
	WorkingCache  *cache.WorkingModelCache
	ResponseCache *cache.ResponseCache
	Store         KeyValue
	Clock         cache.Clock
}

// Resolver turns free-text requests into Intents with ordered model fallback,
// day-scoped working-model memoization and short-TTL response caching.
type Resolver struct {
	candidates []Candidate
	factory    ClientFactory
	working    *cache.WorkingModelCache
	responses  *cache.ResponseCache
	store      KeyValue
	clock      cache.Clock
	guard      *tokenGuard
	logger     *logx.Logger
}

// NewResolver creates a Resolver. Caches default to in-memory instances with
// the real clock when nil, so tests can substitute deterministic ones.
func NewResolver(opts ResolverOptions) *Resolver {
	r := &Resolver{
		candidates: opts.Candidates,
		factory:    opts.Factory,
		working:    opts.WorkingCache,
		responses:  opts.ResponseCache,
		store:      opts.Store,
		clock:      opts.Clock,
		logger:     logx.NewLogger("intent-resolver"),
	}
	if len(r.candidates) == 0 {
		r.candidates = DefaultCandidates
	}
	if r.factory == nil {
		r.factory = NewDefaultFactory("")
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	if r.working == nil {
		r.working = cache.NewWorkingModelCache(r.clock)
	}
	if r.responses == nil {
		r.responses = cache.NewResponseCache(0, r.clock)
	}
	if guard, err := newTokenGuard(); err == nil {
		r.guard = guard
	} else {
		r.logger.Warn("tokenizer unavailable, falling back to length estimate: %v", err)
	}
	return r
}

// Resolve parses rawText into an Intent using the candidate cascade.
// The returned AttemptLog covers every real model call made (cache hits make
// none). Fails with *ParseError when output is unusable and
// *ModelUnavailableError when every candidate is rejected.
func (r *Resolver) Resolve(ctx context.Context, rawText, apiKey string) (Intent, AttemptLog, error) {
	if strings.TrimSpace(apiKey) == "" {
		return Intent{}, nil, llmerrors.NewError(llmerrors.ErrorTypeAuth, "API key is required")
	}
	if strings.TrimSpace(rawText) == "" {
		return Intent{}, nil, &ParseError{Err: fmt.Errorf("empty request text")}
	}

	prompt := BuildPrompt(rawText)
	if n := r.guard.count(prompt); n > maxPromptTokens {
		return Intent{}, nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt,
			fmt.Sprintf("prompt is %d tokens, limit %d", n, maxPromptTokens))
	}

	candidates := r.orderedCandidates(ctx, apiKey)
	var log AttemptLog

	for i, cand := range candidates {
		// A cached raw response makes the retried call idempotent and free.
		if raw, ok := r.responses.Get(cand.Model, prompt); ok {
			metrics.RecordCacheHit("response")
			parsed, err := ParseIntent(raw, rawText)
			if err != nil {
				// Stale unusable cache entry; drop it and call for real.
				r.responses.Delete(cand.Model, prompt)
				r.logger.Warn("cached response for %s unusable, refetching: %v", cand.Model, err)
			} else {
				return parsed, log, nil
			}
		}

		attempt, resp, err := r.callCandidate(ctx, cand, apiKey, prompt, i)
		log = append(log, attempt)

		if err != nil {
			var modelErr *llmerrors.Error
			if errors.As(err, &modelErr) && modelErr.TriggersFallback() {
				r.logger.Warn("model %s rejected (status %d), falling back", cand.Model, modelErr.StatusCode)
				continue
			}
			// Structural problem: fail immediately without further fallback.
			r.emitAttemptLog(log)
			return Intent{}, log, fmt.Errorf("model call failed on %s: %w", cand.Model, err)
		}

		r.memoizeWorkingModel(apiKey, cand.Model)
		r.emitAttemptLog(log)

		parsed, perr := ParseIntent(resp.Content, rawText)
		if perr != nil {
			// Unparseable output is never cached, so the orchestrator's
			// retry of the parse step hits the model again.
			return Intent{}, log, perr
		}
		r.responses.Put(cand.Model, prompt, resp.Content)
		return parsed, log, nil
	}

	r.emitAttemptLog(log)
	return Intent{}, log, &ModelUnavailableError{Attempts: log}
}

func (r *Resolver) callCandidate(ctx context.Context, cand Candidate, apiKey, prompt string, index int) (Attempt, llm.Response, error) {
	attempt := Attempt{Model: cand.Model, AttemptIndex: index, Outcome: OutcomeFailed}

	base, err := r.factory(cand.Provider, apiKey, cand.Model)
	if err != nil {
		return attempt, llm.Response{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err,
			fmt.Sprintf("no client for %s/%s", cand.Provider, cand.Model))
	}

	client := llm.Chain(base,
		llm.LoggingMiddleware(r.logger),
		llm.RetryMiddleware(),
	)

	req := llm.NewRequest([]llm.Message{llm.NewUserMessage(prompt)})

	start := r.clock()
	resp, err := client.Complete(ctx, req)
	attempt.Duration = r.clock().Sub(start)

	if err != nil {
		attempt.StatusCode = llmerrors.StatusOf(err)
		metrics.RecordModelAttempt(cand.Model, "failed")
		return attempt, llm.Response{}, err
	}

	attempt.Outcome = OutcomeSuccess
	metrics.RecordModelAttempt(cand.Model, "success")
	return attempt, resp, nil
}

// orderedCandidates applies availability filtering and working-model promotion
// to the configured candidate list.
func (r *Resolver) orderedCandidates(ctx context.Context, apiKey string) []Candidate {
	candidates := r.filterByAvailability(ctx, apiKey)

	working, ok := r.working.Get(apiKey)
	if !ok && r.store != nil {
		if persisted, found := r.store.Get(r.workingModelKey(apiKey)); found {
			working, ok = persisted, true
			r.working.Put(apiKey, persisted)
		}
	}
	if !ok {
		return candidates
	}

	// Promote today's working model to the front, keeping relative order.
	reordered := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Model == working {
			reordered = append(reordered, c)
		}
	}
	if len(reordered) == 0 {
		return candidates
	}
	metrics.RecordCacheHit("working_model")
	for _, c := range candidates {
		if c.Model != working {
			reordered = append(reordered, c)
		}
	}
	return reordered
}

// filterByAvailability intersects configured candidates with the models the
// endpoint reports for this credential. A failed listing keeps that
// provider's candidates; availability checking must never lose fallbacks.
func (r *Resolver) filterByAvailability(ctx context.Context, apiKey string) []Candidate {
	available := make(map[Provider]map[string]bool)

	for _, cand := range r.candidates {
		if _, done := available[cand.Provider]; done {
			continue
		}
		client, err := r.factory(cand.Provider, apiKey, cand.Model)
		if err != nil {
			available[cand.Provider] = nil
			continue
		}
		models, err := client.ListModels(ctx)
		if err != nil {
			r.logger.Debug("model listing failed for %s: %v", cand.Provider, err)
			available[cand.Provider] = nil
			continue
		}
		set := make(map[string]bool, len(models))
		for _, m := range models {
			set[m] = true
		}
		available[cand.Provider] = set
	}

	filtered := make([]Candidate, 0, len(r.candidates))
	for _, cand := range r.candidates {
		set := available[cand.Provider]
		if set == nil || set[cand.Model] {
			filtered = append(filtered, cand)
		}
	}
	if len(filtered) == 0 {
		// An intersection that removes everything is more likely a listing
		// quirk than a truly empty account; keep the configured order.
		return r.candidates
	}
	return filtered
}

// AvailableModels returns configured candidates present in the endpoint's
// model listing for this credential, in candidate order.
func (r *Resolver) AvailableModels(ctx context.Context, apiKey string) ([]string, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeAuth, "API key is required")
	}

	var names []string
	var lastErr error
	listed := false

	byProvider := make(map[Provider][]string)
	for _, cand := range r.candidates {
		byProvider[cand.Provider] = append(byProvider[cand.Provider], cand.Model)
	}

	for provider, models := range byProvider {
		client, err := r.factory(provider, apiKey, models[0])
		if err != nil {
			lastErr = err
			continue
		}
		remote, err := client.ListModels(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		listed = true
		remoteSet := make(map[string]bool, len(remote))
		for _, m := range remote {
			remoteSet[m] = true
		}
		for _, m := range models {
			if remoteSet[m] {
				names = append(names, m)
			}
		}
	}

	if !listed {
		return nil, fmt.Errorf("model listing failed for all providers: %w", lastErr)
	}
	return names, nil
}

func (r *Resolver) memoizeWorkingModel(apiKey, model string) {
	r.working.Put(apiKey, model)
	if r.store != nil {
		r.store.Set(r.workingModelKey(apiKey), model)
	}
}

// workingModelKey is the persistent-store key for the day's working model.
func (r *Resolver) workingModelKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return fmt.Sprintf("working_model:%x:%s", sum[:8], r.clock().Format("2006-01-02"))
}

func (r *Resolver) emitAttemptLog(log AttemptLog) {
	for _, a := range log {
		r.logger.Info("model attempt index=%d model=%s outcome=%s status=%d duration=%s",
			a.AttemptIndex, a.Model, a.Outcome, a.StatusCode, a.Duration)
	}
}
