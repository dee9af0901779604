// Package gateway bridges board channels to WebSocket observers. A browser
// monitor connects for one (room, game type) pair and receives every
// envelope broadcast on that board's cards channel. The bridge is read-only:
// observers watch sessions, they do not participate in them.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Youngger9765/career-creator-sub000/internal/transport"
)

// ConnectionConfig holds WebSocket connection tuning.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns the default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

type broadcastMessage struct {
	topic string
	env   transport.Envelope
}

// ConnectionManager fans board envelopes out to WebSocket observers, pooled
// per channel topic.
type ConnectionManager struct {
	mu        sync.RWMutex
	observers map[string]map[*observer]bool

	upgrader    websocket.Upgrader
	config      ConnectionConfig
	broadcastCh chan broadcastMessage
}

type observer struct {
	id      string
	topic   string
	conn    *websocket.Conn
	send    chan []byte
	manager *ConnectionManager
}

// NewConnectionManager creates a manager with the given configuration.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		observers: make(map[string]map[*observer]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// Start processes broadcast messages until ctx is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("gateway connection manager started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("gateway connection manager shutting down")
			return
		case msg := <-cm.broadcastCh:
			cm.fanOut(msg)
		}
	}
}

// Forward queues an envelope for every observer of a topic. Slow consumers
// are dropped rather than allowed to back up the bridge.
func (cm *ConnectionManager) Forward(topic string, env transport.Envelope) {
	select {
	case cm.broadcastCh <- broadcastMessage{topic: topic, env: env}:
	default:
		log.Warn().Str("topic", topic).Msg("gateway broadcast channel full, dropping message")
	}
}

// UpgradeConnection upgrades an HTTP request to a WebSocket observer of one
// board topic.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, topic string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade connection: %w", err)
	}

	obs := &observer{
		id:      uuid.New().String(),
		topic:   topic,
		conn:    conn,
		send:    make(chan []byte, 256),
		manager: cm,
	}
	cm.register(obs)

	go obs.writePump()
	go obs.readPump()

	log.Info().
		Str("observer_id", obs.id).
		Str("topic", topic).
		Msg("gateway observer connected")
	return nil
}

// ObserverCount reports how many observers are watching a topic.
func (cm *ConnectionManager) ObserverCount(topic string) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.observers[topic])
}

func (cm *ConnectionManager) register(obs *observer) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.observers[obs.topic] == nil {
		cm.observers[obs.topic] = make(map[*observer]bool)
	}
	cm.observers[obs.topic][obs] = true
}

func (cm *ConnectionManager) unregister(obs *observer) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	pool, ok := cm.observers[obs.topic]
	if !ok {
		return
	}
	if _, ok := pool[obs]; !ok {
		return
	}
	delete(pool, obs)
	close(obs.send)
	if len(pool) == 0 {
		delete(cm.observers, obs.topic)
	}
	log.Info().Str("observer_id", obs.id).Str("topic", obs.topic).Msg("gateway observer disconnected")
}

func (cm *ConnectionManager) fanOut(msg broadcastMessage) {
	data, err := json.Marshal(msg.env)
	if err != nil {
		log.Error().Err(err).Msg("marshal envelope for observers failed")
		return
	}

	// Sends happen under the read lock: unregister closes send under the
	// write lock, so an observer cannot be closed mid-send. The sends are
	// non-blocking, so holding the lock here never stalls on a slow client.
	var slow []*observer
	cm.mu.RLock()
	for obs := range cm.observers[msg.topic] {
		select {
		case obs.send <- data:
		default:
			slow = append(slow, obs)
		}
	}
	cm.mu.RUnlock()

	for _, obs := range slow {
		log.Warn().Str("observer_id", obs.id).Msg("observer send buffer full, closing")
		cm.unregister(obs)
		obs.conn.Close()
	}
}

func (o *observer) writePump() {
	ticker := time.NewTicker(o.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		o.conn.Close()
		o.manager.unregister(o)
	}()

	for {
		select {
		case data, ok := <-o.send:
			o.conn.SetWriteDeadline(time.Now().Add(o.manager.config.WriteTimeout))
			if !ok {
				o.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := o.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("observer_id", o.id).Msg("write to observer failed")
				return
			}
		case <-ticker.C:
			o.conn.SetWriteDeadline(time.Now().Add(o.manager.config.WriteTimeout))
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (o *observer) readPump() {
	defer func() {
		o.manager.unregister(o)
		o.conn.Close()
	}()

	o.conn.SetReadLimit(o.manager.config.MaxMessageSize)
	o.conn.SetReadDeadline(time.Now().Add(o.manager.config.ReadTimeout))
	o.conn.SetPongHandler(func(string) error {
		o.conn.SetReadDeadline(time.Now().Add(o.manager.config.ReadTimeout))
		return nil
	})

	// Observers are read-only; inbound frames only keep the connection alive.
	for {
		if _, _, err := o.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("observer_id", o.id).Msg("unexpected observer close")
			}
			return
		}
		o.conn.SetReadDeadline(time.Now().Add(o.manager.config.ReadTimeout))
	}
}
