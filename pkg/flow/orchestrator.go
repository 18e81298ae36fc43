package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/StevenAri1995/RetailAgent/pkg/bridge"
	"github.com/StevenAri1995/RetailAgent/pkg/intent"
	"github.com/StevenAri1995/RetailAgent/pkg/logx"
	"github.com/StevenAri1995/RetailAgent/pkg/metrics"
	"github.com/StevenAri1995/RetailAgent/pkg/platform"
	"github.com/StevenAri1995/RetailAgent/pkg/proto"
	"github.com/StevenAri1995/RetailAgent/pkg/retry"
)

const (
	defaultPageLoadTimeout = 10 * time.Second
	defaultConfirmTimeout  = 20 * time.Second
	defaultPollInterval    = 200 * time.Millisecond

	snapshotKey = "flow:last_snapshot"
)

// defaultCapabilityRetry bounds retries of non-mutating storefront calls.
// Short delays: page-side failures are usually DOM timing and either clear
// within a second or two or not at all.
//
//nolint:gochecknoglobals // Sensible default config pattern
var defaultCapabilityRetry = retry.Policy{
	MaxRetries:   2,
	InitialDelay: 250 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2.0,
}

// storefrontRetryable allows retry on transport loss and on page-side
// failures. Unsupported operations are structural and never retried.
func storefrontRetryable(err error) bool {
	var unreachable *bridge.AgentUnreachableError
	if errors.As(err, &unreachable) {
		return true
	}
	var opFailed *platform.OperationFailedError
	return errors.As(err, &opFailed)
}

// errSuperseded aborts a flow that lost to a newer request. Never surfaced
// to callers; the superseding flow owns the session from then on.
var errSuperseded = errors.New("flow superseded")

// IntentResolver turns free text into a structured intent.
type IntentResolver interface {
	Resolve(ctx context.Context, rawText, apiKey string) (intent.Intent, intent.AttemptLog, error)
	AvailableModels(ctx context.Context, apiKey string) ([]string, error)
}

// EventSource delivers page lifecycle events. *bridge.Bridge satisfies this.
type EventSource interface {
	OnEvent(handler bridge.EventHandler)
}

// Options configures the orchestrator. Resolver, Registry and Events are
// required; the rest default sensibly.
type Options struct {
	Resolver        IntentResolver
	Registry        *platform.Registry
	Events          EventSource
	Store           intent.KeyValue // optional terminal-snapshot persistence
	APIKey          func() string
	DefaultPlatform string
	PageLoadTimeout time.Duration
	ConfirmTimeout  time.Duration
	PollInterval    time.Duration
	CapabilityRetry *retry.Policy // backoff for non-mutating storefront calls
}

// Orchestrator runs at most one shopping flow at a time. Submitting a new
// query supersedes the active flow: the old flow stops before its next
// state change and never mutates the storefront again.
type Orchestrator struct {
	opts     Options
	capRetry retry.Policy
	logger   *logx.Logger

	mu         sync.Mutex
	generation uint64
	current    *session
}

type session struct {
	mu         sync.Mutex
	gen        uint64
	state      State
	intent     intent.Intent
	platform   platform.Capabilities
	contextID  string
	results    []proto.ProductSummary
	selected   *proto.ProductSummary
	order      *proto.OrderDetails
	err        error
	superseded bool
	cancel     context.CancelFunc

	pageLoaded bool
	currentURL string
}

// New creates an orchestrator and subscribes it to page events.
func New(opts Options) (*Orchestrator, error) {
	if opts.Resolver == nil || opts.Registry == nil || opts.Events == nil {
		return nil, fmt.Errorf("resolver, registry and event source are required")
	}
	if opts.APIKey == nil {
		opts.APIKey = func() string { return "" }
	}
	if opts.DefaultPlatform == "" {
		opts.DefaultPlatform = "amazon"
	}
	if opts.PageLoadTimeout <= 0 {
		opts.PageLoadTimeout = defaultPageLoadTimeout
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = defaultConfirmTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	capRetry := defaultCapabilityRetry
	if opts.CapabilityRetry != nil {
		capRetry = *opts.CapabilityRetry
	}
	capRetry.Classifier = storefrontRetryable
	o := &Orchestrator{
		opts:     opts,
		capRetry: capRetry,
		logger:   logx.NewLogger("flow"),
	}
	opts.Events.OnEvent(o.handlePageEvent)
	return o, nil
}

// SubmitQuery starts a new shopping flow for the raw request text,
// superseding any active flow. The returned channel delivers exactly one
// terminal snapshot for this flow.
func (o *Orchestrator) SubmitQuery(ctx context.Context, rawText string) <-chan Snapshot {
	flowCtx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	o.generation++
	if o.current != nil {
		o.current.markSuperseded()
	}
	sess := &session{
		gen:    o.generation,
		state:  StateIdle,
		cancel: cancel,
	}
	o.current = sess
	o.mu.Unlock()

	done := make(chan Snapshot, 1)
	go func() {
		defer cancel()
		o.run(flowCtx, sess, rawText)
		done <- o.snapshotOf(sess)
	}()
	return done
}

// CancelCurrentFlow stops the active flow, if any. The flow ends in its
// current state without further storefront actions.
func (o *Orchestrator) CancelCurrentFlow() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil {
		o.logger.Info("cancelling flow generation %d", o.current.gen)
		o.current.markSuperseded()
		o.current = nil
	}
}

// Status returns a snapshot of the active (or last) flow.
func (o *Orchestrator) Status() Snapshot {
	o.mu.Lock()
	sess := o.current
	o.mu.Unlock()
	if sess == nil {
		return Snapshot{State: StateIdle}
	}
	return o.snapshotOf(sess)
}

// CheckAvailableModels reports which candidate models the configured
// credential can use right now.
func (o *Orchestrator) CheckAvailableModels(ctx context.Context) ([]string, error) {
	return o.opts.Resolver.AvailableModels(ctx, o.opts.APIKey())
}

// TrackOrder fetches tracking details for an existing order. Runs outside
// the flow state machine; it does not touch the active session.
func (o *Orchestrator) TrackOrder(ctx context.Context, platformID, orderID string) (proto.OrderDetails, error) {
	p, err := o.opts.Registry.Get(platformID)
	if err != nil {
		return proto.OrderDetails{}, err
	}
	return p.TrackOrder(ctx, proto.NewContextID(), orderID)
}

// InitiateReturn starts a return for an existing order.
func (o *Orchestrator) InitiateReturn(ctx context.Context, platformID, orderID, reason string) error {
	p, err := o.opts.Registry.Get(platformID)
	if err != nil {
		return err
	}
	return p.InitiateReturn(ctx, proto.NewContextID(), orderID, reason)
}

// CreateSupportTicket files a support ticket on the platform.
func (o *Orchestrator) CreateSupportTicket(ctx context.Context, platformID, subject, body string) error {
	p, err := o.opts.Registry.Get(platformID)
	if err != nil {
		return err
	}
	return p.CreateSupportTicket(ctx, proto.NewContextID(), subject, body)
}

// run executes the flow to a terminal state. Every failure path lands in
// FAILED with the causing error recorded; supersession stops the flow
// wherever it stands.
func (o *Orchestrator) run(ctx context.Context, sess *session, rawText string) {
	err := o.runSteps(ctx, sess, rawText)
	switch {
	case err == nil:
	case errors.Is(err, errSuperseded):
		o.logger.Info("flow generation %d superseded in %s", sess.gen, sess.currentState())
	default:
		o.fail(sess, err)
	}
	o.persistSnapshot(sess)
}

func (o *Orchestrator) runSteps(ctx context.Context, sess *session, rawText string) error {
	if err := o.transition(ctx, sess, StateParsing); err != nil {
		return err
	}
	if err := o.parse(ctx, sess, rawText); err != nil {
		return err
	}

	if err := o.transition(ctx, sess, StateSearching); err != nil {
		return err
	}
	if err := o.search(ctx, sess); err != nil {
		return err
	}

	if err := o.transition(ctx, sess, StateSelecting); err != nil {
		return err
	}
	if err := o.selectResult(ctx, sess); err != nil {
		return err
	}

	if err := o.transition(ctx, sess, StateProductPage); err != nil {
		return err
	}
	if err := o.openProduct(ctx, sess); err != nil {
		return err
	}

	if err := o.transition(ctx, sess, StateCheckoutFlow); err != nil {
		return err
	}
	return o.checkout(ctx, sess)
}

func (o *Orchestrator) parse(ctx context.Context, sess *session, rawText string) error {
	it, attempts, err := o.opts.Resolver.Resolve(ctx, rawText, o.opts.APIKey())
	if err != nil {
		// One fresh generation is cheap compared to failing the whole
		// request on a single garbled model output.
		var parseErr *intent.ParseError
		if !errors.As(err, &parseErr) {
			return err
		}
		o.logger.Warn("model output unparseable, retrying once: %v", err)
		it, attempts, err = o.opts.Resolver.Resolve(ctx, rawText, o.opts.APIKey())
		if err != nil {
			return err
		}
	}
	o.logger.Info("parsed intent product=%q platform=%q after %d model attempts",
		it.Product, it.Platform, len(attempts))

	platformID := it.Platform
	if platformID == "" {
		platformID = o.opts.DefaultPlatform
	}
	p, err := o.opts.Registry.Get(platformID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	sess.intent = it
	sess.platform = p
	sess.contextID = proto.NewContextID()
	sess.mu.Unlock()
	return nil
}

// callStorefront runs a non-mutating storefront call with bounded backoff.
// Mutating actions (BuyNow, AddToCart) never come through here; a timed-out
// purchase may already have executed and must not be replayed.
func (o *Orchestrator) callStorefront(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := retry.Run(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, o.capRetry)
	return err
}

func (o *Orchestrator) search(ctx context.Context, sess *session) error {
	p, contextID := sess.target()
	it := sess.currentIntent()

	sess.resetPageLoad()
	err := o.callStorefront(ctx, func(ctx context.Context) error {
		return p.Search(ctx, contextID, it.Product)
	})
	if err != nil {
		return err
	}
	if err := o.waitPageLoad(ctx, sess); err != nil {
		return err
	}

	if !it.Filters.IsZero() {
		err := o.callStorefront(ctx, func(ctx context.Context) error {
			return p.ApplyFilters(ctx, contextID, it.Filters)
		})
		if err != nil {
			return err
		}
	}
	if it.Sort != "" {
		err := o.callStorefront(ctx, func(ctx context.Context) error {
			return p.SortResults(ctx, contextID, it.Sort)
		})
		if err != nil {
			return err
		}
	}

	results, err := retry.Run(ctx, func(ctx context.Context) ([]proto.ProductSummary, error) {
		return p.GetSearchResults(ctx, contextID)
	}, o.capRetry)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	sess.results = results
	sess.mu.Unlock()
	return nil
}

// selectResult picks the first non-sponsored result. Sponsored listings are
// skipped entirely; if nothing organic remains the flow fails with
// NoResultsError.
func (o *Orchestrator) selectResult(_ context.Context, sess *session) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for i := range sess.results {
		if !sess.results[i].Sponsored {
			sess.selected = &sess.results[i]
			o.logger.Info("selected result %d: %q at %.2f", sess.selected.Index, sess.selected.Title, sess.selected.Price)
			return nil
		}
	}
	return &NoResultsError{Query: sess.intent.Product}
}

func (o *Orchestrator) openProduct(ctx context.Context, sess *session) error {
	p, contextID := sess.target()
	sess.mu.Lock()
	index := sess.selected.Index
	sess.mu.Unlock()

	sess.resetPageLoad()
	err := o.callStorefront(ctx, func(ctx context.Context) error {
		return p.SelectProduct(ctx, contextID, index)
	})
	if err != nil {
		return err
	}
	if err := o.waitPageLoad(ctx, sess); err != nil {
		return err
	}

	// Details are informational; a decode failure here must not kill a
	// flow that can still check out.
	if details, err := p.GetProductDetails(ctx, contextID); err == nil && details.Title != "" {
		o.logger.Debug("product page: %q price=%.2f", details.Title, details.Price)
	}
	return nil
}

// checkout attempts BuyNow and falls back to AddToCart. The cart fallback
// terminates in NEEDS_MANUAL_CHECKOUT: the item is staged but a human must
// finish payment.
func (o *Orchestrator) checkout(ctx context.Context, sess *session) error {
	p, contextID := sess.target()

	loggedIn, err := p.CheckLoginStatus(ctx, contextID)
	if err == nil && !loggedIn {
		o.logger.Warn("user not logged in on %s; staging cart only", p.Descriptor().ID)
		return o.cartFallback(ctx, sess)
	}

	sess.resetPageLoad()
	if err := p.BuyNow(ctx, contextID); err != nil {
		var unsupported *platform.UnsupportedOperationError
		var opFailed *platform.OperationFailedError
		if errors.As(err, &unsupported) || errors.As(err, &opFailed) {
			o.logger.Info("buy-now unavailable (%v); falling back to cart", err)
			return o.cartFallback(ctx, sess)
		}
		return err
	}

	desc := p.Descriptor()
	err = retry.WaitForCondition(ctx, "order confirmation", func() bool {
		return desc.ConfirmsOrder(sess.url())
	}, o.opts.ConfirmTimeout, o.opts.PollInterval)
	if err != nil {
		// The purchase may have gone through without a recognizable
		// confirmation URL. Hand off rather than report a false failure.
		var timeout *retry.ConditionTimeoutError
		if errors.As(err, &timeout) {
			o.logger.Warn("no confirmation page within %s; flagging for manual check", o.opts.ConfirmTimeout)
			return o.transition(ctx, sess, StateManualCheckout)
		}
		return err
	}

	if order, derr := p.GetOrderDetails(ctx, contextID); derr == nil {
		sess.mu.Lock()
		sess.order = &order
		sess.mu.Unlock()
	} else {
		o.logger.Warn("order confirmed but details unavailable: %v", derr)
	}
	return o.transition(ctx, sess, StateCompleted)
}

func (o *Orchestrator) cartFallback(ctx context.Context, sess *session) error {
	p, contextID := sess.target()
	if err := p.AddToCart(ctx, contextID); err != nil {
		return err
	}
	return o.transition(ctx, sess, StateManualCheckout)
}

// transition moves the session to the next state. It refuses to act for
// superseded or cancelled flows, which is what makes a stale flow inert.
func (o *Orchestrator) transition(ctx context.Context, sess *session, to State) error {
	if err := ctx.Err(); err != nil {
		return errSuperseded
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.superseded {
		return errSuperseded
	}
	from := sess.state
	if !ValidTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	sess.state = to
	metrics.RecordFlowTransition(from.String(), to.String())
	o.logger.Info("flow %d: %s -> %s", sess.gen, from, to)
	return nil
}

func (o *Orchestrator) fail(sess *session, cause error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.superseded || sess.state.IsTerminal() {
		return
	}
	from := sess.state
	sess.state = StateFailed
	sess.err = cause
	metrics.RecordFlowTransition(from.String(), StateFailed.String())
	o.logger.Error("flow %d failed in %s: %v", sess.gen, from, cause)
}

func (o *Orchestrator) waitPageLoad(ctx context.Context, sess *session) error {
	return retry.WaitForCondition(ctx, "page load", sess.isPageLoaded,
		o.opts.PageLoadTimeout, o.opts.PollInterval)
}

// handlePageEvent records page loads for the active context. Events carrying
// any other context ID come from navigations the flow no longer cares
// about and are dropped.
func (o *Orchestrator) handlePageEvent(ev *proto.PageEvent) {
	if ev.Type != proto.EventPageLoaded {
		return
	}
	o.mu.Lock()
	sess := o.current
	o.mu.Unlock()
	if sess == nil {
		metrics.RecordStaleEvent()
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if ev.ContextID != sess.contextID {
		metrics.RecordStaleEvent()
		o.logger.Debug("dropping stale page event for %s (active %s)", ev.ContextID, sess.contextID)
		return
	}
	sess.pageLoaded = true
	sess.currentURL = ev.URL
}

func (o *Orchestrator) snapshotOf(sess *session) Snapshot {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	snap := Snapshot{
		Generation: sess.gen,
		State:      sess.state,
		Intent:     sess.intent,
		ContextID:  sess.contextID,
		Results:    sess.results,
		Selected:   sess.selected,
		Order:      sess.order,
		Superseded: sess.superseded,
	}
	if sess.platform != nil {
		snap.Platform = sess.platform.Descriptor().ID
	}
	if sess.err != nil {
		snap.Error = sess.err.Error()
	}
	return snap
}

func (o *Orchestrator) persistSnapshot(sess *session) {
	if o.opts.Store == nil {
		return
	}
	snap := o.snapshotOf(sess)
	if snap.Superseded {
		// A superseded flow unwinding late must not clobber the
		// successor's snapshot.
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	o.opts.Store.Set(snapshotKey, string(data))
}

func (s *session) markSuperseded() {
	s.mu.Lock()
	s.superseded = true
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) currentIntent() intent.Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intent
}

func (s *session) target() (platform.Capabilities, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.platform, s.contextID
}

func (s *session) resetPageLoad() {
	s.mu.Lock()
	s.pageLoaded = false
	s.mu.Unlock()
}

func (s *session) isPageLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageLoaded
}

func (s *session) url() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentURL
}
