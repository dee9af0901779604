package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds connection settings for the production transport.
type NATSConfig struct {
	URL           string
	JoinTimeout   time.Duration
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns the default NATS transport configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		JoinTimeout:   5 * time.Second,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// ConnectNATS dials the NATS server with logging handlers wired in. The
// returned connection is shared by every channel of a session.
func ConnectNATS(cfg NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Timeout(cfg.JoinTimeout),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", classifyNATSErr(err))
	}
	return nc, nil
}

// NATSChannel implements Channel on a core NATS connection. Core NATS is a
// deliberate choice over JetStream: the protocol wants best-effort delivery
// with per-sender ordering and no redelivery of stale moves after reconnect.
type NATSChannel struct {
	nc          *nats.Conn
	topic       string
	joinTimeout time.Duration

	mu     sync.Mutex
	status Status
	subs   []*nats.Subscription
}

// NewNATSChannel creates a channel for one topic on a shared connection.
func NewNATSChannel(nc *nats.Conn, topic string, joinTimeout time.Duration) *NATSChannel {
	return &NATSChannel{
		nc:          nc,
		topic:       topic,
		joinTimeout: joinTimeout,
		status:      StatusConnecting,
	}
}

// Join confirms the channel is reachable by flushing the connection. A
// timeout is a terminal connection failure, not a silent retry.
func (c *NATSChannel) Join(ctx context.Context) error {
	c.setStatus(StatusConnecting)

	timeout := c.joinTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	if err := c.nc.FlushTimeout(timeout); err != nil {
		c.setStatus(StatusFailed)
		return fmt.Errorf("join channel %q: %w", c.topic, classifyNATSErr(err))
	}

	c.setStatus(StatusConnected)
	log.Debug().Str("topic", c.topic).Msg("channel joined")
	return nil
}

func (c *NATSChannel) Publish(ctx context.Context, event string, payload any) error {
	if c.Status() != StatusConnected {
		return fmt.Errorf("publish %s on %q: %w", event, c.topic, ErrNotConnected)
	}

	env, err := NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	if err := c.nc.Publish(c.subject(event), data); err != nil {
		return fmt.Errorf("publish %s on %q: %w", event, c.topic, classifyNATSErr(err))
	}
	return nil
}

func (c *NATSChannel) Subscribe(event string, h Handler) (func(), error) {
	sub, err := c.nc.Subscribe(c.subject(event), func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed envelope")
			return
		}
		if env.Type != "broadcast" || env.Event != event {
			log.Warn().Str("subject", msg.Subject).Str("event", env.Event).Msg("dropping mismatched envelope")
			return
		}
		h(env)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s on %q: %w", event, c.topic, classifyNATSErr(err))
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	return func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Debug().Err(err).Str("topic", c.topic).Str("event", event).Msg("unsubscribe failed")
		}
	}, nil
}

func (c *NATSChannel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Leave drops every subscription held by this channel. The shared connection
// stays open for other channels; the caller closes it on session end.
func (c *NATSChannel) Leave() error {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.status = StatusClosed
	c.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Debug().Err(err).Str("topic", c.topic).Msg("unsubscribe on leave failed")
		}
	}
	return nil
}

func (c *NATSChannel) subject(event string) string {
	// Colons are legal subject token characters, so the topic maps through
	// unchanged: board.room:42:cards:values.cardMoved
	return "board." + c.topic + "." + event
}

func (c *NATSChannel) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// classifyNATSErr maps library errors onto the channel's error taxonomy.
func classifyNATSErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case err == nats.ErrSlowConsumer:
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case strings.Contains(strings.ToLower(err.Error()), "maximum connections"):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case err == nats.ErrConnectionClosed:
		return fmt.Errorf("%w: %v", ErrChannelClosed, err)
	case err == nats.ErrNoServers || err == nats.ErrTimeout:
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	default:
		return err
	}
}
