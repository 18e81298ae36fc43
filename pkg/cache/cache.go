// Package cache provides small injectable TTL caches used by the intent
// resolver: a short-lived response cache and a day-scoped working-model cache.
// Both are explicit objects with documented keys so tests can substitute
// deterministic clocks; neither is an ambient singleton.
package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// Clock abstracts time for deterministic tests.
type Clock func() time.Time

// entry holds a value and its expiry instant.
type entry[V any] struct {
	value   V
	expires time.Time
}

// TTL is a thread-safe key/value cache with per-entry expiry.
type TTL[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
	clock Clock
}

// NewTTL creates a TTL cache. A nil clock uses time.Now.
func NewTTL[V any](clock Clock) *TTL[V] {
	if clock == nil {
		clock = time.Now
	}
	return &TTL[V]{
		items: make(map[string]entry[V]),
		clock: clock,
	}
}

// Get returns the value for key if present and unexpired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if c.clock().After(e.expires) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

// SetUntil stores value under key until the given expiry instant.
func (c *TTL[V]) SetUntil(key string, value V, expires time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry[V]{value: value, expires: expires}
}

// Set stores value under key for the given duration.
func (c *TTL[V]) Set(key string, value V, ttl time.Duration) {
	c.SetUntil(key, value, c.clock().Add(ttl))
}

// Delete removes a key.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Len returns the number of entries, including any not yet swept.
func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// DefaultResponseTTL is how long raw model responses stay cached. Long enough
// to make orchestrator-level parse retries and duplicate submissions free,
// short enough that a changed page context never sees stale intent.
const DefaultResponseTTL = 5 * time.Minute

// ResponseCache caches raw model output keyed by the exact prompt+model tuple.
type ResponseCache struct {
	ttl   *TTL[string]
	limit time.Duration
}

// NewResponseCache creates a response cache with the given TTL (0 means default).
func NewResponseCache(ttl time.Duration, clock Clock) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultResponseTTL
	}
	return &ResponseCache{
		ttl:   NewTTL[string](clock),
		limit: ttl,
	}
}

// ResponseKey builds the cache key for a prompt+model tuple. The prompt is
// hashed so keys stay bounded regardless of prompt size.
func ResponseKey(model, prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("%s:%x", model, sum[:16])
}

// Get returns the cached raw response for the prompt+model tuple.
func (r *ResponseCache) Get(model, prompt string) (string, bool) {
	return r.ttl.Get(ResponseKey(model, prompt))
}

// Put stores the raw response for the prompt+model tuple.
func (r *ResponseCache) Put(model, prompt, raw string) {
	r.ttl.Set(ResponseKey(model, prompt), raw, r.limit)
}

// Delete evicts the cached response for the prompt+model tuple.
func (r *ResponseCache) Delete(model, prompt string) {
	r.ttl.Delete(ResponseKey(model, prompt))
}

// WorkingModelCache memoizes the model that last succeeded for a credential,
// valid for the remainder of the calendar day. The key includes a credential
// hash so a changed API key never reuses a stale model choice.
type WorkingModelCache struct {
	ttl   *TTL[string]
	clock Clock
}

// NewWorkingModelCache creates a working-model cache.
func NewWorkingModelCache(clock Clock) *WorkingModelCache {
	if clock == nil {
		clock = time.Now
	}
	return &WorkingModelCache{
		ttl:   NewTTL[string](clock),
		clock: clock,
	}
}

// workingKey is credential-hash + local calendar day.
func (w *WorkingModelCache) workingKey(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return fmt.Sprintf("%x:%s", sum[:8], w.clock().Format("2006-01-02"))
}

// Get returns the memoized working model for the credential today.
func (w *WorkingModelCache) Get(credential string) (string, bool) {
	return w.ttl.Get(w.workingKey(credential))
}

// Put memoizes the working model for the credential until end of local day.
func (w *WorkingModelCache) Put(credential, model string) {
	now := w.clock()
	endOfDay := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, now.Location())
	w.ttl.SetUntil(w.workingKey(credential), model, endOfDay)
}
