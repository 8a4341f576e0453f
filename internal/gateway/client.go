package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/quantumclaw/quantumclaw/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 1 << 20
)

// rpcRequest is the envelope a dashboard client sends over the WebSocket.
type rpcRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// rpcResponse is the envelope sent back for a request, or an unsolicited
// event (Type "event", see protocol.EventFrame).
type rpcResponse struct {
	ID     string      `json:"id,omitempty"`
	Type   string      `json:"type"` // "result" | "error" | "event"
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
	Name   string      `json:"name,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// Client is one connected WebSocket dashboard/SDK session.
type Client struct {
	id       string
	conn     *websocket.Conn
	server   *Server
	send     chan rpcResponse
	ownerID  string
	authed   bool
}

// NewClient wraps an upgraded websocket connection.
func NewClient(conn *websocket.Conn, s *Server) *Client {
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		server: s,
		send:   make(chan rpcResponse, 32),
	}
}

// SendEvent pushes a server-originated event frame to the client.
func (c *Client) SendEvent(event protocol.EventFrame) {
	select {
	case c.send <- rpcResponse{Type: "event", Name: event.Name, Payload: event.Payload}:
	default:
		slog.Warn("gateway.client.send_buffer_full", "client", c.id)
	}
}

// Close tears down the connection and stops the write pump.
func (c *Client) Close() {
	close(c.send)
	_ = c.conn.Close()
}

// Run pumps reads and writes for the client's lifetime; it blocks until the
// connection closes or ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(runCtx)
	c.readPump(runCtx)
}

func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var req rpcRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.reply(rpcResponse{Type: "error", Error: "invalid request envelope"})
			continue
		}

		result, err := c.server.router.Dispatch(ctx, c, req.Method, req.Params)
		if err != nil {
			c.reply(rpcResponse{ID: req.ID, Type: "error", Error: err.Error()})
			continue
		}
		c.reply(rpcResponse{ID: req.ID, Type: "result", Result: result})
	}
}

func (c *Client) reply(resp rpcResponse) {
	select {
	case c.send <- resp:
	default:
		slog.Warn("gateway.client.send_buffer_full", "client", c.id)
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(resp); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
