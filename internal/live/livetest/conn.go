// Package livetest provides a recording live.Conn for tests.
package livetest

import (
	"encoding/json"
	"sync"

	"chatrelay/internal/models"
)

type Conn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func NewConn(id string) *Conn {
	return &Conn{id: id}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) Push(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.frames = append(c.frames, frame)
	return true
}

// Close makes further pushes fail, like a dropped socket.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Conn) Envelopes() []models.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		var env models.Envelope
		if err := json.Unmarshal(f, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

// OfType returns the envelopes of one event type, in arrival order.
func (c *Conn) OfType(t models.EventType) []models.Envelope {
	var out []models.Envelope
	for _, env := range c.Envelopes() {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

// Messages decodes every message_delivered payload.
func (c *Conn) Messages() []models.Message {
	var out []models.Message
	for _, env := range c.OfType(models.EventMessageDelivered) {
		var m models.Message
		if err := json.Unmarshal(env.Payload, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (c *Conn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}
