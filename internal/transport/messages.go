package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Youngger9765/career-creator-sub000/internal/board"
	"github.com/Youngger9765/career-creator-sub000/internal/upload"
)

// Event names carried on a cards channel. Every payload is a distinct tagged
// variant validated at the channel boundary.
const (
	EventCardMoved        = "cardMoved"
	EventDragStarted      = "dragStarted"
	EventDragEnded        = "dragEnded"
	EventRequestSnapshot  = "requestSnapshot"
	EventSnapshotResponse = "snapshotResponse"
	EventFileUploaded     = "fileUploaded"
)

// Role distinguishes the session's single authoritative participant from
// guests. The owner is the sole writer of durable shared state.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleVisitor Role = "visitor"
)

// Point is a free position on the board, used by games without fixed slots.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// MoveEvent is broadcast whenever a participant places a card. ToZone of
// "none" returns the card to the unplaced pool.
type MoveEvent struct {
	CardID        board.CardID `json:"card_id"`
	FromZone      board.ZoneID `json:"from_zone,omitempty"`
	ToZone        board.ZoneID `json:"to_zone"`
	Position      *Point       `json:"position,omitempty"`
	Index         *int         `json:"index,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
	PerformerRole Role         `json:"performer_role"`
	PerformerName string       `json:"performer_name"`
	PerformerID   string       `json:"performer_id"`
}

// DragInfo exists only while a drag is in progress and is never persisted.
type DragInfo struct {
	CardID        board.CardID `json:"card_id"`
	PerformerID   string       `json:"performer_id"`
	PerformerName string       `json:"performer_name"`
	StartedAt     time.Time    `json:"started_at"`
}

// SnapshotRequest is published by a late-joining visitor. The owner answers
// with a SnapshotResponse; visitors never do.
type SnapshotRequest struct {
	PerformerID string `json:"performer_id"`
}

// SnapshotResponse carries the owner's full placement state, applied by
// visitors as a wholesale replacement of local state.
type SnapshotResponse struct {
	PerformerID string          `json:"performer_id"`
	State       json.RawMessage `json:"state"`
}

// FileUploaded announces the session's attachment slot changed.
type FileUploaded struct {
	File          upload.File `json:"file"`
	PerformerID   string      `json:"performer_id"`
	PerformerName string      `json:"performer_name"`
}

// Envelope is the wire shape of every broadcast message.
type Envelope struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope wraps a typed payload for broadcast.
func NewEnvelope(event string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{Type: "broadcast", Event: event, Payload: raw}, nil
}

// Decode unmarshals the envelope payload into the variant for its event.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Event, err)
	}
	return nil
}

// Topic returns the cards channel topic for a room and game type.
func Topic(roomID, gameType string) string {
	return fmt.Sprintf("room:%s:cards:%s", roomID, gameType)
}

// PresenceTopic returns the room-scoped presence channel topic. Presence is
// board-agnostic, so the game type is not part of the key.
func PresenceTopic(roomID string) string {
	return fmt.Sprintf("room:%s:presence", roomID)
}
