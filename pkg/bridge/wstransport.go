package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/StevenAri1995/RetailAgent/pkg/logx"
	"github.com/StevenAri1995/RetailAgent/pkg/proto"
)

// Message kinds on the page-agent wire.
const (
	wireKindResponse = "response"
	wireKindEvent    = "event"
)

// wireEnvelope frames every inbound message from the page agent.
type wireEnvelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// WSTransport is a Transport backed by a WebSocket connection from the
// page-resident agent. The agent dials in; at most one connection is
// active and a new one replaces the old.
type WSTransport struct {
	upgrader websocket.Upgrader
	logger   *logx.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	responses chan *proto.AgentResponse
	events    chan *proto.PageEvent
}

// NewWSTransport returns a transport ready to accept an agent connection.
// Register it as an http.Handler on the agent endpoint.
func NewWSTransport() *WSTransport {
	return &WSTransport{
		upgrader:  websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		logger:    logx.NewLogger("ws-transport"),
		responses: make(chan *proto.AgentResponse, 64),
		events:    make(chan *proto.PageEvent, 64),
	}
}

func (t *WSTransport) Responses() <-chan *proto.AgentResponse { return t.responses }
func (t *WSTransport) Events() <-chan *proto.PageEvent        { return t.events }

// ServeHTTP upgrades the page agent's connection and pumps its messages
// into the response and event channels.
func (t *WSTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("agent upgrade failed: %v", err)
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return
	}
	if t.conn != nil {
		t.logger.Info("replacing existing agent connection")
		_ = t.conn.Close()
	}
	t.conn = conn
	t.mu.Unlock()

	t.logger.Info("page agent connected from %s", r.RemoteAddr)
	t.readLoop(conn)
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	defer func() {
		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.logger.Info("page agent disconnected: %v", err)
			return
		}

		var env wireEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.logger.Warn("unframed message from agent: %v", err)
			continue
		}

		switch env.Kind {
		case wireKindResponse:
			resp, err := proto.ResponseFromJSON(env.Payload)
			if err != nil {
				t.logger.Warn("bad response payload: %v", err)
				continue
			}
			select {
			case t.responses <- resp:
			default:
				t.logger.Warn("response channel full, dropping %s", resp.CorrelationID)
			}
		case wireKindEvent:
			var ev proto.PageEvent
			if err := json.Unmarshal(env.Payload, &ev); err != nil {
				t.logger.Warn("bad event payload: %v", err)
				continue
			}
			select {
			case t.events <- &ev:
			default:
				t.logger.Warn("event channel full, dropping %s", ev.Type)
			}
		default:
			t.logger.Warn("unknown message kind %q", env.Kind)
		}
	}
}

// Send writes one request to the connected agent. Fails if no agent is
// connected; the bridge's retry policy decides what to do with that.
func (t *WSTransport) Send(_ context.Context, req *proto.AgentRequest) error {
	data, err := req.ToJSON()
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("transport closed")
	}
	if t.conn == nil {
		return fmt.Errorf("no page agent connected")
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to page agent failed: %w", err)
	}
	return nil
}

// Close tears down the connection and the channels.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	close(t.responses)
	close(t.events)
	return nil
}
