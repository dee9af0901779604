package transport

import (
	"context"
	"errors"
)

// Status is the observable connection state of a channel.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusFailed     Status = "failed"
	StatusClosed     Status = "closed"
)

// Classified transport conditions. Rate limiting must surface to the caller
// rather than be retried into; the rest degrade to local-only interaction.
var (
	ErrRateLimited   = errors.New("transport: rate limited")
	ErrNotConnected  = errors.New("transport: not connected")
	ErrChannelClosed = errors.New("transport: channel closed")
)

// Handler receives every message published for a subscribed event, including
// the local participant's own messages. Handlers self-filter by performer id.
type Handler func(env Envelope)

// Channel is a named bidirectional pub/sub channel scoped to one topic.
// Publish is fire-and-forget: delivery is best effort while connected, and
// ordering is only preserved among messages from the same sender on the same
// channel. A failed Join is terminal; reconnection belongs to the transport
// implementation underneath, not to callers.
type Channel interface {
	// Join connects the channel. It must be called before Publish or
	// Subscribe take effect on the wire.
	Join(ctx context.Context) error

	// Publish broadcasts a typed payload to all current subscribers of the
	// topic, the sender included.
	Publish(ctx context.Context, event string, payload any) error

	// Subscribe registers a handler for one event type and returns an
	// unsubscribe func. Safe to call before Join.
	Subscribe(event string, h Handler) (func(), error)

	// Status reports the current connection state.
	Status() Status

	// Leave tears the channel down and releases its subscriptions.
	Leave() error
}
