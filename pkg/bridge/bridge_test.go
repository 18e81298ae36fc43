package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/StevenAri1995/RetailAgent/pkg/proto"
)

// memTransport is an in-memory Transport whose behavior per request is
// scripted by the test.
type memTransport struct {
	mu        sync.Mutex
	responses chan *proto.AgentResponse
	events    chan *proto.PageEvent
	onSend    func(req *proto.AgentRequest)
	sendErr   error
	sent      []*proto.AgentRequest
	closed    bool
}

func newMemTransport() *memTransport {
	return &memTransport{
		responses: make(chan *proto.AgentResponse, 16),
		events:    make(chan *proto.PageEvent, 16),
	}
}

func (t *memTransport) Send(_ context.Context, req *proto.AgentRequest) error {
	t.mu.Lock()
	t.sent = append(t.sent, req)
	onSend := t.onSend
	err := t.sendErr
	t.mu.Unlock()
	if err != nil {
		return err
	}
	if onSend != nil {
		onSend(req)
	}
	return nil
}

func (t *memTransport) Responses() <-chan *proto.AgentResponse { return t.responses }
func (t *memTransport) Events() <-chan *proto.PageEvent        { return t.events }

func (t *memTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func searchRequest(t *testing.T) *proto.AgentRequest {
	t.Helper()
	req := proto.NewAgentRequest(proto.ActionSearch, proto.NewContextID())
	req.SetPayload(proto.KeyQuery, "running shoes")
	return req
}

func TestCallCorrelatesResponse(t *testing.T) {
	tr := newMemTransport()
	tr.onSend = func(req *proto.AgentRequest) {
		tr.responses <- req.OK(map[string]any{"count": 3})
	}
	b := New(tr, time.Second)
	defer b.Close()

	req := searchRequest(t)
	resp, err := b.Call(context.Background(), req)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success response, got error %q", resp.Error)
	}
	if resp.CorrelationID != req.CorrelationID {
		t.Errorf("correlation mismatch: sent %s got %s", req.CorrelationID, resp.CorrelationID)
	}
}

func TestCallTimesOutWithoutResponse(t *testing.T) {
	tr := newMemTransport()
	b := New(tr, 50*time.Millisecond)
	defer b.Close()

	_, err := b.Call(context.Background(), searchRequest(t))
	var unreachable *AgentUnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("expected AgentUnreachableError, got %v", err)
	}
	if unreachable.Action != proto.ActionSearch {
		t.Errorf("error should carry the action, got %s", unreachable.Action)
	}
}

func TestCallSendFailure(t *testing.T) {
	tr := newMemTransport()
	tr.sendErr = errors.New("pipe broken")
	b := New(tr, time.Second)
	defer b.Close()

	_, err := b.Call(context.Background(), searchRequest(t))
	var unreachable *AgentUnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("expected AgentUnreachableError, got %v", err)
	}
}

func TestDuplicateResponsesDropped(t *testing.T) {
	tr := newMemTransport()
	tr.onSend = func(req *proto.AgentRequest) {
		// The agent answers twice; only the first delivery may win.
		tr.responses <- req.OK(nil)
		tr.responses <- req.OK(nil)
	}
	b := New(tr, time.Second)
	defer b.Close()

	if _, err := b.Call(context.Background(), searchRequest(t)); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	// The duplicate must not wedge the receive loop; a second call still works.
	if _, err := b.Call(context.Background(), searchRequest(t)); err != nil {
		t.Fatalf("second Call failed: %v", err)
	}
}

func TestUncorrelatedResponseIgnored(t *testing.T) {
	tr := newMemTransport()
	tr.onSend = func(req *proto.AgentRequest) {
		stale := req.OK(nil)
		stale.CorrelationID = "c_someone_else"
		tr.responses <- stale
	}
	b := New(tr, 50*time.Millisecond)
	defer b.Close()

	_, err := b.Call(context.Background(), searchRequest(t))
	var unreachable *AgentUnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("uncorrelated response must not satisfy the call, got %v", err)
	}
}

func TestNonMutatingCallResentOnce(t *testing.T) {
	tr := newMemTransport()
	calls := 0
	tr.onSend = func(req *proto.AgentRequest) {
		calls++
		if calls == 1 {
			return // first attempt vanishes
		}
		tr.responses <- req.OK(nil)
	}
	b := New(tr, 50*time.Millisecond)
	defer b.Close()

	resp, err := b.Call(context.Background(), searchRequest(t))
	if err != nil {
		t.Fatalf("Call failed after resend: %v", err)
	}
	if !resp.Success {
		t.Fatal("expected success on second attempt")
	}
	if calls != 2 {
		t.Errorf("expected 2 sends, got %d", calls)
	}
}

func TestMutatingCallNeverResent(t *testing.T) {
	tr := newMemTransport()
	b := New(tr, 50*time.Millisecond)
	defer b.Close()

	req := proto.NewAgentRequest(proto.ActionBuyNow, proto.NewContextID())
	_, err := b.Call(context.Background(), req)
	var unreachable *AgentUnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("expected AgentUnreachableError, got %v", err)
	}

	tr.mu.Lock()
	sent := len(tr.sent)
	tr.mu.Unlock()
	if sent != 1 {
		t.Errorf("BUY_NOW sent %d times, must be exactly 1", sent)
	}
}

func TestCallCancellation(t *testing.T) {
	tr := newMemTransport()
	b := New(tr, time.Second)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := b.Call(ctx, searchRequest(t))
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled call did not return")
	}
}

func TestEventsReachHandler(t *testing.T) {
	tr := newMemTransport()
	b := New(tr, time.Second)
	defer b.Close()

	got := make(chan *proto.PageEvent, 1)
	b.OnEvent(func(ev *proto.PageEvent) { got <- ev })

	tr.events <- &proto.PageEvent{
		Type:      proto.EventPageLoaded,
		ContextID: "pg_abc",
		URL:       "https://www.amazon.in/s?k=shoes",
		Timestamp: time.Now(),
	}

	select {
	case ev := <-got:
		if ev.ContextID != "pg_abc" {
			t.Errorf("wrong context id: %s", ev.ContextID)
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestTransportCloseFailsPendingCalls(t *testing.T) {
	tr := newMemTransport()
	b := New(tr, 5*time.Second)
	defer b.Close()

	done := make(chan error, 1)
	go func() {
		_, err := b.Call(context.Background(), searchRequest(t))
		done <- err
	}()

	// Let the call register, then kill the transport.
	time.Sleep(20 * time.Millisecond)
	close(tr.responses)

	select {
	case err := <-done:
		var unreachable *AgentUnreachableError
		if !errors.As(err, &unreachable) {
			t.Fatalf("expected AgentUnreachableError after transport close, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending call did not fail after transport close")
	}
}

func TestCallAfterCloseRefused(t *testing.T) {
	tr := newMemTransport()
	b := New(tr, time.Second)
	b.Close()

	_, err := b.Call(context.Background(), searchRequest(t))
	var unreachable *AgentUnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("expected AgentUnreachableError, got %v", err)
	}
}
