package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryBus is an in-process message bus used by tests and local wiring. It
// delivers every published envelope to all subscribers of the same
// (topic, event) pair, the sender included, in publish order per sender.
type MemoryBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]Handler
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]Handler)}
}

// Channel returns a new channel bound to one topic on this bus.
func (b *MemoryBus) Channel(topic string) *MemoryChannel {
	return &MemoryChannel{bus: b, topic: topic, status: StatusConnecting}
}

func (b *MemoryBus) subscribe(key string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[key] == nil {
		b.subs[key] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[key][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[key], id)
	}
}

func (b *MemoryBus) publish(key string, env Envelope) {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.subs[key]))
	for _, h := range b.subs[key] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	// Handlers run outside the lock so they may publish in turn.
	for _, h := range handlers {
		h(env)
	}
}

// MemoryChannel implements Channel on a MemoryBus.
type MemoryChannel struct {
	bus   *MemoryBus
	topic string

	// JoinErr, when set before Join, makes the join fail with that error.
	// Used by tests to simulate connect failures and rate limiting.
	JoinErr error

	mu     sync.Mutex
	status Status
	unsubs []func()
}

func (c *MemoryChannel) Join(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.JoinErr != nil {
		c.status = StatusFailed
		return fmt.Errorf("join channel %q: %w", c.topic, c.JoinErr)
	}
	c.status = StatusConnected
	return nil
}

func (c *MemoryChannel) Publish(ctx context.Context, event string, payload any) error {
	if c.Status() != StatusConnected {
		return fmt.Errorf("publish %s on %q: %w", event, c.topic, ErrNotConnected)
	}

	env, err := NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	// Round-trip through JSON so handlers observe exactly the wire shape.
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	var wire Envelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}

	c.bus.publish(c.key(event), wire)
	return nil
}

func (c *MemoryChannel) Subscribe(event string, h Handler) (func(), error) {
	unsub := c.bus.subscribe(c.key(event), h)

	c.mu.Lock()
	c.unsubs = append(c.unsubs, unsub)
	c.mu.Unlock()

	return unsub, nil
}

func (c *MemoryChannel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *MemoryChannel) Leave() error {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.status = StatusClosed
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	return nil
}

func (c *MemoryChannel) key(event string) string {
	return c.topic + "\x00" + event
}
