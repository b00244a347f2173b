// internal/session/client.go
package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Client is a single connection's presence on the server. The websocket
// handler owns the read/write pumps; everything else talks to the
// connection through the buffered Out channel.
type Client struct {
	ID     uuid.UUID
	Out    chan map[string]interface{}
	Cancel context.CancelFunc

	logger *logrus.Logger

	mu        sync.Mutex
	username  string
	sessionID string
	closed    bool

	latencyMS atomic.Int64
}

// NewClient builds a Client with a fresh connection id and a buffered
// outbound channel.
func NewClient(cancel context.CancelFunc, logger *logrus.Logger) *Client {
	return &Client{
		ID:     uuid.New(),
		Out:    make(chan map[string]interface{}, 32),
		Cancel: cancel,
		logger: logger,
	}
}

// Write pushes a message onto Out without blocking. A full or abandoned
// channel drops the message; relays are fire-and-forget.
func (c *Client) Write(msg map[string]interface{}) {
	if c.Closed() {
		return
	}
	select {
	case c.Out <- msg:
	default:
		if c.logger != nil {
			typ, _ := msg["type"].(string)
			c.logger.WithFields(logrus.Fields{
				"conn": c.ID,
				"type": typ,
			}).Warn("outbound channel full, dropping message")
		}
	}
}

// WriteError sends a structured error event.
func (c *Client) WriteError(msg string) {
	c.Write(map[string]interface{}{
		"type":    "error",
		"message": msg,
	})
}

// Username returns the registered username, or "" if unregistered.
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// SetUsername tags the connection after a successful registration.
func (c *Client) SetUsername(name string) {
	c.mu.Lock()
	c.username = name
	c.mu.Unlock()
}

// SessionID returns the id of the session this connection is in, or "".
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SetSessionID records session membership as a back-reference only; the
// Store owns the session itself.
func (c *Client) SetSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// ClearSessionID drops the membership back-reference.
func (c *Client) ClearSessionID() {
	c.SetSessionID("")
}

// MarkClosed flags the connection as gone. Idempotent.
func (c *Client) MarkClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	if c.Cancel != nil {
		c.Cancel()
	}
}

// Closed reports whether the transport has gone away. The matchmaking
// queue uses this to skip stale entries.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SetLatency stores the last client-reported round-trip time.
func (c *Client) SetLatency(ms int64) {
	c.latencyMS.Store(ms)
}

// Latency returns the last reported round-trip time in ms.
func (c *Client) Latency() int64 {
	return c.latencyMS.Load()
}
