// Package session composes the transport channel, reconciliation engine,
// presence tracker and persistence coordinator into the single entry point a
// UI layer drives. Local actions apply optimistically to local state, mark
// the coordinator dirty and are then broadcast; remote messages flow through
// the same reconciliation entry points with self-echo suppression.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Youngger9765/career-creator-sub000/internal/board"
	"github.com/Youngger9765/career-creator-sub000/internal/persist"
	"github.com/Youngger9765/career-creator-sub000/internal/presence"
	"github.com/Youngger9765/career-creator-sub000/internal/transport"
	"github.com/Youngger9765/career-creator-sub000/internal/upload"
)

// Participant identifies the local user of a session.
type Participant struct {
	ID   string
	Name string
	Role transport.Role
}

// Config wires a session's collaborators. Cards and Presence are separate
// channels: cards are scoped to (room, game type), presence to the room only.
type Config struct {
	RoomID   string
	GameType string
	Self     Participant

	Cards    transport.Channel
	Presence transport.Channel
	Store    persist.Store

	Clock            clockwork.Clock
	AutosaveInterval time.Duration
	GracePeriod      time.Duration
}

// Session is one participant's live view of a shared board.
type Session struct {
	cfg   Config
	coord *persist.Coordinator
	track *presence.Tracker

	mu     sync.Mutex
	state  *board.PlacementState
	drags  map[board.CardID]string
	unsubs []func()

	stopAutosave context.CancelFunc
	closeOnce    sync.Once
}

// New builds a session. Start must be called before use.
func New(cfg Config) (*Session, error) {
	switch {
	case cfg.RoomID == "" || cfg.GameType == "":
		return nil, errors.New("session: room id and game type are required")
	case cfg.Self.ID == "":
		return nil, errors.New("session: participant id is required")
	case cfg.Cards == nil || cfg.Presence == nil || cfg.Store == nil:
		return nil, errors.New("session: cards channel, presence channel and store are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	s := &Session{
		cfg:   cfg,
		state: board.NewPlacementState(),
		drags: make(map[board.CardID]string),
	}
	s.coord = persist.NewCoordinator(
		cfg.Store,
		persist.Key{RoomID: cfg.RoomID, GameType: cfg.GameType},
		cfg.Self.Role,
		s,
		cfg.Clock,
		cfg.AutosaveInterval,
	)
	s.track = presence.NewTracker(
		cfg.Presence,
		presence.Record{
			ParticipantID: cfg.Self.ID,
			DisplayName:   cfg.Self.Name,
			Role:          cfg.Self.Role,
			JoinedAt:      cfg.Clock.Now().UTC(),
		},
		cfg.Clock,
		cfg.GracePeriod,
	)
	return s, nil
}

// Start loads persisted state, joins both channels, announces presence and
// begins autosaving. A visitor additionally requests a snapshot from the
// owner. A failed cards join leaves the session usable locally: moves still
// apply and persist, they just do not reach other participants.
func (s *Session) Start(ctx context.Context) error {
	if err := s.coord.LoadState(ctx); err != nil {
		log.Warn().Err(err).Msg("starting with empty board state")
	}

	handlers := []struct {
		event   string
		handler transport.Handler
	}{
		{transport.EventCardMoved, s.handleCardMoved},
		{transport.EventDragStarted, s.handleDragStarted},
		{transport.EventDragEnded, s.handleDragEnded},
		{transport.EventRequestSnapshot, s.handleSnapshotRequest},
		{transport.EventSnapshotResponse, s.handleSnapshotResponse},
		{transport.EventFileUploaded, s.handleFileUploaded},
	}
	for _, h := range handlers {
		unsub, err := s.cfg.Cards.Subscribe(h.event, h.handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", h.event, err)
		}
		s.mu.Lock()
		s.unsubs = append(s.unsubs, unsub)
		s.mu.Unlock()
	}

	autosaveCtx, cancel := context.WithCancel(context.Background())
	s.stopAutosave = cancel
	go s.coord.Run(autosaveCtx)

	if err := s.track.Start(ctx); err != nil {
		// Fail open: a broken presence channel never blocks the session.
		log.Warn().Err(err).Msg("presence tracking unavailable")
	}

	if err := s.cfg.Cards.Join(ctx); err != nil {
		return fmt.Errorf("join cards channel: %w", err)
	}

	if s.cfg.Self.Role == transport.RoleVisitor {
		req := transport.SnapshotRequest{PerformerID: s.cfg.Self.ID}
		if err := s.cfg.Cards.Publish(ctx, transport.EventRequestSnapshot, req); err != nil {
			log.Warn().Err(err).Msg("snapshot request failed; starting from local state")
		}
	}

	log.Info().
		Str("room", s.cfg.RoomID).
		Str("game_type", s.cfg.GameType).
		Str("role", string(s.cfg.Self.Role)).
		Msg("session started")
	return nil
}

// MoveCard places a card into a zone (ZoneNone returns it to the pool),
// marks unsaved changes and broadcasts the move. Local state is updated
// before the broadcast; a publish failure degrades to local-only.
func (s *Session) MoveCard(ctx context.Context, cardID board.CardID, toZone board.ZoneID) error {
	s.mu.Lock()
	from := s.state.ApplyMove(cardID, toZone)
	s.mu.Unlock()

	s.coord.MarkDirty()

	ev := transport.MoveEvent{
		CardID:        cardID,
		FromZone:      from,
		ToZone:        toZone,
		Timestamp:     s.cfg.Clock.Now().UTC(),
		PerformerRole: s.cfg.Self.Role,
		PerformerName: s.cfg.Self.Name,
		PerformerID:   s.cfg.Self.ID,
	}
	if err := s.cfg.Cards.Publish(ctx, transport.EventCardMoved, ev); err != nil {
		log.Warn().Err(err).Str("card", string(cardID)).Msg("move broadcast failed; applied locally only")
		return err
	}
	return nil
}

// ReorderZone rearranges one zone's cards. Reorders are not broadcast as
// incremental events; late joiners pick them up through snapshots.
func (s *Session) ReorderZone(zone board.ZoneID, order []board.CardID) error {
	s.mu.Lock()
	err := s.state.ApplyReorder(zone, order)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.coord.MarkDirty()
	return nil
}

// StartDrag announces that the local participant is holding a card.
func (s *Session) StartDrag(ctx context.Context, cardID board.CardID) error {
	info := transport.DragInfo{
		CardID:        cardID,
		PerformerID:   s.cfg.Self.ID,
		PerformerName: s.cfg.Self.Name,
		StartedAt:     s.cfg.Clock.Now().UTC(),
	}
	return s.cfg.Cards.Publish(ctx, transport.EventDragStarted, info)
}

// EndDrag announces the card was released.
func (s *Session) EndDrag(ctx context.Context, cardID board.CardID) error {
	info := transport.DragInfo{
		CardID:      cardID,
		PerformerID: s.cfg.Self.ID,
	}
	return s.cfg.Cards.Publish(ctx, transport.EventDragEnded, info)
}

// UploadFile validates and attaches a file to the session, then announces it.
// Validation failures are returned to the caller and generate no traffic.
func (s *Session) UploadFile(ctx context.Context, name, mimeType string, sizeBytes int64, locator string) error {
	if err := upload.Validate(name, mimeType, sizeBytes); err != nil {
		return err
	}

	f := upload.File{
		Name:       name,
		MimeType:   mimeType,
		SizeBytes:  sizeBytes,
		Locator:    locator,
		UploadedAt: s.cfg.Clock.Now().UTC(),
	}

	s.mu.Lock()
	s.state.SetUpload(&f)
	s.mu.Unlock()

	s.coord.MarkDirty()

	msg := transport.FileUploaded{
		File:          f,
		PerformerID:   s.cfg.Self.ID,
		PerformerName: s.cfg.Self.Name,
	}
	if err := s.cfg.Cards.Publish(ctx, transport.EventFileUploaded, msg); err != nil {
		log.Warn().Err(err).Str("file", name).Msg("upload broadcast failed; applied locally only")
		return err
	}
	return nil
}

// SetSetting stores a per-game-type configuration value, local and persisted.
func (s *Session) SetSetting(key string, value any) {
	s.mu.Lock()
	s.state.SetSetting(key, value)
	s.mu.Unlock()
	s.coord.MarkDirty()
}

// State returns a deep copy of the current board for rendering.
func (s *Session) State() *board.PlacementState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Holders reports which cards are currently held by other participants,
// keyed by card id with the holder's display name. UI feedback only; never
// part of placement state or snapshots.
func (s *Session) Holders() map[board.CardID]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[board.CardID]string, len(s.drags))
	for k, v := range s.drags {
		out[k] = v
	}
	return out
}

// Participants returns the merged presence set.
func (s *Session) Participants() []presence.Record {
	return s.track.Members()
}

// OwnerOnline reports whether the room's owner is currently present.
func (s *Session) OwnerOnline() bool {
	return s.track.OwnerOnline()
}

// OwnerGone is closed once the owner's absence outlasts the grace period;
// the UI redirects the visitor away when it fires.
func (s *Session) OwnerGone() <-chan struct{} {
	return s.track.OwnerGone()
}

// Dirty reports whether unsaved changes exist.
func (s *Session) Dirty() bool {
	return s.coord.Dirty()
}

// SaveNow forces a flush outside the autosave cadence (page-close path).
func (s *Session) SaveNow(ctx context.Context) error {
	return s.coord.Flush(ctx)
}

// Close tears the session down on every exit path: unsubscribes both
// channels, retracts presence, clears transient drag indicators and flushes
// unsaved state. The final save is allowed to complete since store writes
// are idempotent overwrites.
func (s *Session) Close(ctx context.Context) error {
	var flushErr error
	s.closeOnce.Do(func() {
		if s.stopAutosave != nil {
			s.stopAutosave()
		}

		s.mu.Lock()
		unsubs := s.unsubs
		s.unsubs = nil
		s.drags = make(map[board.CardID]string)
		s.mu.Unlock()
		for _, unsub := range unsubs {
			unsub()
		}

		s.track.Stop(ctx)
		if err := s.cfg.Cards.Leave(); err != nil {
			log.Debug().Err(err).Msg("cards channel leave failed")
		}

		flushErr = s.coord.Flush(ctx)
		log.Info().Str("room", s.cfg.RoomID).Msg("session closed")
	})
	return flushErr
}

// Snapshot implements persist.StateSource with the session's locking.
func (s *Session) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Snapshot()
}

// Restore implements persist.StateSource.
func (s *Session) Restore(doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Restore(doc)
}

// SetSyncStatus implements persist.StateSource.
func (s *Session) SetSyncStatus(status board.SyncStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.SetSyncStatus(status)
}

func (s *Session) handleCardMoved(env transport.Envelope) {
	var ev transport.MoveEvent
	if err := env.Decode(&ev); err != nil {
		log.Warn().Err(err).Msg("dropping malformed move event")
		return
	}
	// Self-echo: the local copy was already updated optimistically at
	// publish time, so reapplying would be redundant.
	if ev.PerformerID == s.cfg.Self.ID {
		return
	}

	s.mu.Lock()
	s.state.ApplyMove(ev.CardID, ev.ToZone)
	s.mu.Unlock()

	// The owner durably saves state that originated from a visitor. A
	// visitor never re-persists the owner's changes: the backend copy is
	// already authoritative.
	if s.cfg.Self.Role == transport.RoleOwner {
		s.coord.MarkDirty()
	}

	log.Debug().
		Str("card", string(ev.CardID)).
		Str("to_zone", string(ev.ToZone)).
		Str("performer", ev.PerformerName).
		Msg("remote move applied")
}

func (s *Session) handleDragStarted(env transport.Envelope) {
	var info transport.DragInfo
	if err := env.Decode(&info); err != nil {
		return
	}
	if info.PerformerID == s.cfg.Self.ID {
		return
	}
	s.mu.Lock()
	s.drags[info.CardID] = info.PerformerName
	s.mu.Unlock()
}

func (s *Session) handleDragEnded(env transport.Envelope) {
	var info transport.DragInfo
	if err := env.Decode(&info); err != nil {
		return
	}
	if info.PerformerID == s.cfg.Self.ID {
		return
	}
	s.mu.Lock()
	delete(s.drags, info.CardID)
	s.mu.Unlock()
}

// handleSnapshotRequest answers a late-joining visitor with the full board.
// Only the owner answers.
func (s *Session) handleSnapshotRequest(env transport.Envelope) {
	if s.cfg.Self.Role != transport.RoleOwner {
		return
	}
	var req transport.SnapshotRequest
	if err := env.Decode(&req); err != nil {
		return
	}
	if req.PerformerID == s.cfg.Self.ID {
		return
	}

	doc, err := s.Snapshot()
	if err != nil {
		log.Error().Err(err).Msg("snapshot serialization failed")
		return
	}
	resp := transport.SnapshotResponse{PerformerID: s.cfg.Self.ID, State: doc}
	if err := s.cfg.Cards.Publish(context.Background(), transport.EventSnapshotResponse, resp); err != nil {
		log.Warn().Err(err).Msg("snapshot response failed")
	}
}

// handleSnapshotResponse applies the owner's full state as a wholesale
// replacement. Owners never act on snapshot responses.
func (s *Session) handleSnapshotResponse(env transport.Envelope) {
	if s.cfg.Self.Role != transport.RoleVisitor {
		return
	}
	var resp transport.SnapshotResponse
	if err := env.Decode(&resp); err != nil {
		return
	}
	if resp.PerformerID == s.cfg.Self.ID {
		return
	}

	if err := s.Restore(resp.State); err != nil {
		log.Warn().Err(err).Msg("dropping malformed snapshot response")
		return
	}
	log.Debug().Str("room", s.cfg.RoomID).Msg("snapshot applied")
}

func (s *Session) handleFileUploaded(env transport.Envelope) {
	var msg transport.FileUploaded
	if err := env.Decode(&msg); err != nil {
		return
	}
	if msg.PerformerID == s.cfg.Self.ID {
		return
	}

	f := msg.File
	s.mu.Lock()
	s.state.SetUpload(&f)
	s.mu.Unlock()

	if s.cfg.Self.Role == transport.RoleOwner {
		s.coord.MarkDirty()
	}
}
