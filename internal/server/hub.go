package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/echoes/internal/config"
	"github.com/Tyrowin/echoes/internal/presence"
)

// Settings are the per-connection websocket limits.
type Settings struct {
	MaxMessageSize int64
	SendBuffer     int
	RateLimit      config.RateLimitConfig
}

// DefaultSettings mirror the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxMessageSize: 512,
		SendBuffer:     256,
		RateLimit: config.RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
	}
}

// Hub owns the goroutines of every websocket client. Registration and
// deregistration go through its event loop; presence bookkeeping and
// broadcasts are delegated to the presence manager.
type Hub struct {
	manager    *presence.Manager
	settings   Settings
	register   chan *Client
	unregister chan *Client
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a hub in front of manager.
func NewHub(manager *presence.Manager, settings Settings) *Hub {
	defaults := DefaultSettings()
	if settings.MaxMessageSize <= 0 {
		settings.MaxMessageSize = defaults.MaxMessageSize
	}
	if settings.SendBuffer <= 0 {
		settings.SendBuffer = defaults.SendBuffer
	}
	if settings.RateLimit.Burst <= 0 {
		settings.RateLimit.Burst = defaults.RateLimit.Burst
	}
	if settings.RateLimit.RefillInterval <= 0 {
		settings.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		manager:    manager,
		settings:   settings,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Manager returns the presence manager.
func (h *Hub) Manager() *presence.Manager { return h.manager }

// Settings returns the connection limits.
func (h *Hub) Settings() Settings { return h.settings }

// Register hands a client to the event loop. It returns false if the hub
// has already shut down.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister reports that a client went away.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		h.release(c)
	}
}

// Run is the hub's event loop. Call it in its own goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				zap.S().Warn("received nil client registration, skipping")
				continue
			}

			client.session = h.manager.Connect(client, client.userID)
			if client.conn == nil {
				continue
			}

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.release(client)
		}
	}
}

func (h *Hub) release(c *Client) {
	if c == nil {
		return
	}
	h.manager.Disconnect(c.session)
	c.closeSend()
}

func (h *Hub) shutdownClients() {
	conns := h.manager.Connections()
	zap.S().Infow("shutting down client connections", "count", len(conns))

	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			zap.S().Debugw("closing client connection", "conn_id", conn.ID(), "error", err)
		}
	}
}

// Shutdown stops the event loop, closes every connection and waits for the
// client goroutines until timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	zap.S().Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		zap.S().Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		zap.S().Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
