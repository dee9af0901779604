package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/Youngger9765/career-creator-sub000/internal/transport"
)

// Consumer subscribes to every board subject on NATS and forwards envelopes
// to the connection manager's observers.
type Consumer struct {
	cm  *ConnectionManager
	nc  *nats.Conn
	sub *nats.Subscription
}

// NewConsumer creates a consumer on a shared NATS connection.
func NewConsumer(cm *ConnectionManager, nc *nats.Conn) *Consumer {
	return &Consumer{cm: cm, nc: nc}
}

// Start subscribes to all board traffic. Subjects are board.{topic}.{event}.
func (c *Consumer) Start() error {
	sub, err := c.nc.Subscribe("board.>", func(msg *nats.Msg) {
		topic, ok := topicFromSubject(msg.Subject)
		if !ok {
			return
		}
		var env transport.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed envelope")
			return
		}
		c.cm.Forward(topic, env)
	})
	if err != nil {
		return fmt.Errorf("subscribe board subjects: %w", err)
	}
	c.sub = sub
	log.Info().Msg("gateway consumer started")
	return nil
}

// Stop releases the subscription. The shared connection stays open.
func (c *Consumer) Stop() {
	if c.sub != nil {
		if err := c.sub.Unsubscribe(); err != nil {
			log.Debug().Err(err).Msg("gateway consumer unsubscribe failed")
		}
	}
}

// topicFromSubject extracts the channel topic from board.{topic}.{event}.
func topicFromSubject(subject string) (string, bool) {
	parts := strings.Split(subject, ".")
	if len(parts) != 3 || parts[0] != "board" {
		return "", false
	}
	return parts[1], true
}
