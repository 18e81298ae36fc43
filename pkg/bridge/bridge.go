// Package bridge manages the asynchronous request/response channel between
// the orchestrator and the page-resident agent. The underlying transport can
// drop, delay or duplicate messages; this layer adds correlation, timeouts
// and duplicate tolerance on top of it.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/StevenAri1995/RetailAgent/pkg/logx"
	"github.com/StevenAri1995/RetailAgent/pkg/metrics"
	"github.com/StevenAri1995/RetailAgent/pkg/proto"
)

// DefaultCallTimeout bounds one page-agent round-trip.
const DefaultCallTimeout = 9 * time.Second

// AgentUnreachableError indicates the page-resident agent channel failed:
// transport closed, send refused, or no response within the timeout.
type AgentUnreachableError struct {
	Action proto.Action
	Reason string
}

func (e *AgentUnreachableError) Error() string {
	return fmt.Sprintf("page agent unreachable for %s: %s", e.Action, e.Reason)
}

// Transport is the physical message channel to the page-resident agent.
// Implementations deliver responses and events in transport order but make
// no dedup or liveness guarantees.
type Transport interface {
	Send(ctx context.Context, req *proto.AgentRequest) error
	Responses() <-chan *proto.AgentResponse
	Events() <-chan *proto.PageEvent
	Close() error
}

// EventHandler consumes page lifecycle events.
type EventHandler func(ev *proto.PageEvent)

// Bridge correlates requests with responses over a Transport.
type Bridge struct {
	transport Transport
	logger    *logx.Logger
	timeout   time.Duration

	mu      sync.Mutex
	pending map[string]chan *proto.AgentResponse
	handler EventHandler
	closed  bool

	shutdown chan struct{}
	wg       sync.WaitGroup
}

// New creates a bridge over the transport and starts its receive loop.
// A timeout of 0 uses DefaultCallTimeout.
func New(transport Transport, timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	b := &Bridge{
		transport: transport,
		logger:    logx.NewLogger("bridge"),
		timeout:   timeout,
		pending:   make(map[string]chan *proto.AgentResponse),
		shutdown:  make(chan struct{}),
	}
	b.wg.Add(1)
	go b.receiveLoop()
	return b
}

// OnEvent registers the handler for unsolicited page events. Only one
// handler is active; the orchestrator owns event consumption.
func (b *Bridge) OnEvent(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
}

// Call sends a request and waits for its correlated response. Duplicate
// responses for the same correlation ID are dropped after the first. A
// transport failure or timeout yields *AgentUnreachableError; a response
// with Success=false is returned as-is for the caller to interpret.
//
// Unreachable non-mutating calls get one resend. Mutating actions are never
// resent: a timed-out BUY_NOW may still have executed on the page.
func (b *Bridge) Call(ctx context.Context, req *proto.AgentRequest) (*proto.AgentResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent request: %w", err)
	}

	attempts := 1
	if !req.Action.MutatesStorefront() {
		attempts = 2
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		resp, err := b.callOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		var unreachable *AgentUnreachableError
		if !errors.As(err, &unreachable) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (b *Bridge) callOnce(ctx context.Context, req *proto.AgentRequest) (*proto.AgentResponse, error) {
	ch := make(chan *proto.AgentResponse, 1)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, &AgentUnreachableError{Action: req.Action, Reason: "bridge closed"}
	}
	b.pending[req.CorrelationID] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, req.CorrelationID)
		b.mu.Unlock()
	}()

	start := time.Now()
	if err := b.transport.Send(ctx, req); err != nil {
		return nil, &AgentUnreachableError{Action: req.Action, Reason: fmt.Sprintf("send failed: %v", err)}
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp == nil {
			return nil, &AgentUnreachableError{Action: req.Action, Reason: "transport closed"}
		}
		metrics.ObserveBridgeRoundtrip(req.Action.String(), time.Since(start))
		return resp, nil
	case <-timer.C:
		return nil, &AgentUnreachableError{Action: req.Action, Reason: fmt.Sprintf("no response within %s", b.timeout)}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.shutdown:
		return nil, &AgentUnreachableError{Action: req.Action, Reason: "bridge shut down"}
	}
}

func (b *Bridge) receiveLoop() {
	defer b.wg.Done()

	responses := b.transport.Responses()
	events := b.transport.Events()

	for {
		select {
		case <-b.shutdown:
			return
		case resp, ok := <-responses:
			if !ok {
				b.failAllPending("transport closed")
				return
			}
			b.deliver(resp)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			b.dispatchEvent(ev)
		}
	}
}

func (b *Bridge) deliver(resp *proto.AgentResponse) {
	b.mu.Lock()
	ch, ok := b.pending[resp.CorrelationID]
	if ok {
		delete(b.pending, resp.CorrelationID)
	}
	b.mu.Unlock()

	if !ok {
		// Duplicate or stale response; the first delivery won.
		b.logger.Debug("dropping uncorrelated response id=%s corr=%s", resp.ID, resp.CorrelationID)
		return
	}
	ch <- resp
}

func (b *Bridge) dispatchEvent(ev *proto.PageEvent) {
	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()

	if handler == nil {
		return
	}
	handler(ev)
}

// failAllPending closes out every waiting call when the transport dies.
// Waiters see a timeout-free unreachable signal via channel close semantics.
func (b *Bridge) failAllPending(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.logger.Warn("failing %d pending calls: %s", len(b.pending), reason)
	for corr, ch := range b.pending {
		close(ch)
		delete(b.pending, corr)
	}
}

// Close shuts the bridge down and closes the transport.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.shutdown)
	b.wg.Wait()
	return b.transport.Close()
}
