package server

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/echoes/internal/presence"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// Client is one websocket connection. It implements presence.Conn: pushes
// are encoded and queued on a buffered channel drained by writePump.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	addr    string
	userID  string
	session *presence.Session

	mu     sync.Mutex
	closed bool

	maxMessageSize int64
	limiter        *frameLimiter
	settings       Settings
}

// NewClient creates a Client for conn. userID is the identity resolved from
// the handshake, empty for anonymous connections.
func NewClient(conn *websocket.Conn, hub *Hub, addr, userID string) *Client {
	settings := hub.Settings()
	if conn != nil {
		conn.SetReadLimit(settings.MaxMessageSize)
	}

	return &Client{
		id:             uuid.NewString(),
		conn:           conn,
		send:           make(chan []byte, settings.SendBuffer),
		hub:            hub,
		addr:           addr,
		userID:         userID,
		maxMessageSize: settings.MaxMessageSize,
		limiter:        newFrameLimiter(settings.RateLimit),
		settings:       settings,
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// UserID returns the handshake identity.
func (c *Client) UserID() string { return c.userID }

// Session returns the presence session assigned on registration.
func (c *Client) Session() *presence.Session { return c.session }

// GetSendChan returns the client's outgoing queue.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Push encodes ev and queues it without blocking.
func (c *Client) Push(ev presence.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return presence.ErrConnClosed
	}

	select {
	case c.send <- payload:
		return nil
	default:
		return presence.ErrSlowConsumer
	}
}

// Close closes the underlying socket. The read pump then ends and
// unregisters the client.
func (c *Client) Close() error {
	if c.conn == nil {
		c.closeSend()
		return nil
	}
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		return err
	}
	return nil
}

// closeSend closes the outgoing queue once.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		zap.S().Warnw("setting initial read deadline", "addr", c.addr, "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			zap.S().Warnw("setting read deadline in pong handler", "addr", c.addr, "error", err)
		}
		return nil
	})
}

// logReadError logs why the read loop ended.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		zap.S().Warnw("message exceeded maximum size",
			"addr", c.addr,
			"conn_id", c.id,
			"limit", c.maxMessageSize,
		)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		zap.S().Debugw("client disconnected", "addr", c.addr, "conn_id", c.id, "error", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		zap.S().Debugw("client connection closed", "addr", c.addr, "conn_id", c.id, "error", err)
	default:
		zap.S().Warnw("websocket read error", "addr", c.addr, "conn_id", c.id, "error", err)
	}
}

func (c *Client) checkRateLimit(event string) bool {
	if c.limiter == nil || c.limiter.allow(event) {
		return true
	}

	c.hub.manager.Metrics().Throttled(budget(event))
	zap.S().Warnw("rate limit exceeded, discarding frame",
		"addr", c.addr,
		"conn_id", c.id,
		"event", event,
		"burst", c.settings.RateLimit.Burst,
		"refill_interval", c.settings.RateLimit.RefillInterval,
	)
	return false
}

// processMessage handles one inbound frame and reports whether it was acted
// on. Frames over their event's budget are dropped.
func (c *Client) processMessage(raw []byte) bool {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		zap.S().Debugw("invalid frame", "addr", c.addr, "conn_id", c.id, "error", err)
		return false
	}

	if !c.checkRateLimit(frame.Event) {
		return false
	}

	var name string
	switch frame.Event {
	case inboundTyping:
		name = presence.EventUserTyping
	case inboundStopTyping:
		name = presence.EventUserStoppedTyping
	default:
		zap.S().Debugw("ignoring unknown event", "conn_id", c.id, "event", frame.Event)
		return false
	}

	return c.hub.manager.Relay(c.session, frame.Data.ReceiverID, name)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			zap.S().Warnw("closing connection in readPump", "conn_id", c.id, "error", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		c.processMessage(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			zap.S().Warnw("closing connection in writePump", "conn_id", c.id, "error", err)
		}
	}()

	for c.processWriteEvent(ticker) {
	}
}

func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		zap.S().Debugw("setting write deadline", "conn_id", c.id, "error", err)
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			zap.S().Debugw("writing close message", "conn_id", c.id, "error", err)
		}
		return false
	}

	// one frame per event; clients parse each frame as a single JSON document
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			zap.S().Warnw("writing message", "addr", c.addr, "conn_id", c.id, "error", err)
		}
		return false
	}
	return true
}

func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		zap.S().Debugw("setting write deadline for ping", "conn_id", c.id, "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		zap.S().Debugw("writing ping", "conn_id", c.id, "error", err)
		return false
	}
	return true
}
