package push

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// clientRequest is the inbound control protocol: room join/leave and pings.
type clientRequest struct {
	Type string `json:"type"` // "subscribe", "unsubscribe", "ping"
	Room string `json:"room,omitempty"`
}

// Client bridges one gorilla/websocket connection to the hub. Outbound
// envelopes are serialized through the send channel so only the write pump
// touches the connection.
type Client struct {
	ConnectionID string

	hub    *Hub
	conn   *websocket.Conn
	send   chan Envelope
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient wraps an upgraded websocket connection.
func NewClient(connectionID string, conn *websocket.Conn, hub *Hub, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		ConnectionID: connectionID,
		hub:          hub,
		conn:         conn,
		send:         make(chan Envelope, 32),
		logger:       logger.With(zap.String("connection_id", connectionID)),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Send implements Sender. It never blocks the hub: when the write pump has
// fallen too far behind, the envelope is rejected and the hub marks the
// subscriber unhealthy.
func (c *Client) Send(env Envelope) error {
	select {
	case c.send <- env:
		return nil
	case <-c.ctx.Done():
		return context.Canceled
	default:
		return websocket.ErrCloseSent
	}
}

// Close implements Sender.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close()
}

// ReadPump consumes control messages until the connection drops, then
// disconnects the subscriber from the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Disconnect(c.ConnectionID)
		c.cancel()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("unexpected websocket close", zap.Error(err))
			}
			return
		}

		var req clientRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.logger.Debug("invalid client message", zap.Error(err))
			continue
		}

		switch req.Type {
		case "subscribe":
			if req.Room != "" {
				c.hub.Subscribe(c.ConnectionID, req.Room)
			}
		case "unsubscribe":
			if req.Room != "" {
				c.hub.Unsubscribe(c.ConnectionID, req.Room)
			}
		case "ping":
			_ = c.Send(Envelope{Type: "pong", Timestamp: time.Now().UnixMilli()})
		default:
			c.logger.Debug("unhandled client message type", zap.String("type", req.Type))
		}
	}
}

// WritePump writes envelopes and keepalive pings to the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.cancel()
	}()

	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.logger.Warn("failed to write envelope", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}
