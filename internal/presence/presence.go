// Package presence tracks which participants are currently connected to a
// room and derives owner liveness. It runs on its own room-scoped channel,
// separate from card traffic, since presence is board-agnostic.
package presence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Youngger9765/career-creator-sub000/internal/transport"
)

// Wire events on the presence channel. Track announces a participant,
// leave retracts it, and syncRequest/syncState let a newcomer collect the
// current merged membership from existing participants.
const (
	eventTrack       = "presenceTrack"
	eventLeave       = "presenceLeave"
	eventSyncRequest = "presenceSyncRequest"
	eventSyncState   = "presenceSyncState"
)

// DefaultGracePeriod is how long a visitor waits after the owner disappears
// before treating the session as ended. Absorbs transient reconnects.
const DefaultGracePeriod = 5 * time.Second

// DefaultHeartbeatInterval is how often a participant re-announces itself.
// A record that misses heartbeatMisses consecutive intervals is expired, so
// a crashed participant that never published a leave still drops out of the
// merged set (and, for an owner, feeds the same grace-period path a leave
// event does).
const DefaultHeartbeatInterval = 10 * time.Second

const heartbeatMisses = 3

// Record describes one announced participant. Records are owned by the
// tracker and never written by application logic.
type Record struct {
	ParticipantID string         `json:"participant_id"`
	DisplayName   string         `json:"display_name"`
	Role          transport.Role `json:"role"`
	JoinedAt      time.Time      `json:"joined_at"`
}

type leaveNotice struct {
	ParticipantID string `json:"participant_id"`
}

type syncRequest struct {
	ParticipantID string `json:"participant_id"`
}

type syncState struct {
	ParticipantID string   `json:"participant_id"`
	Members       []Record `json:"members"`
}

// Tracker maintains the merged participant set for one room and signals a
// visitor when the owner has been confirmed absent past the grace period.
// Channel failures fail open: inability to confirm absence never triggers
// the signal on its own.
type Tracker struct {
	ch        transport.Channel
	self      Record
	clock     clockwork.Clock
	grace     time.Duration
	heartbeat time.Duration

	mu       sync.Mutex
	members  map[string]Record
	lastSeen map[string]time.Time
	onSync   func([]Record)
	unsubs   []func()
	stopBeat chan struct{}

	graceMu     sync.Mutex
	graceCancel chan struct{}

	goneOnce  sync.Once
	ownerGone chan struct{}
}

// NewTracker creates a tracker for the local participant on a presence
// channel. A zero grace duration selects DefaultGracePeriod.
func NewTracker(ch transport.Channel, self Record, clock clockwork.Clock, grace time.Duration) *Tracker {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Tracker{
		ch:        ch,
		self:      self,
		clock:     clock,
		grace:     grace,
		heartbeat: DefaultHeartbeatInterval,
		members:   make(map[string]Record),
		lastSeen:  make(map[string]time.Time),
		ownerGone: make(chan struct{}),
	}
}

// OnSync registers a callback fired after every membership change with the
// merged participant set. Must be set before Start.
func (t *Tracker) OnSync(fn func([]Record)) {
	t.mu.Lock()
	t.onSync = fn
	t.mu.Unlock()
}

// Start joins the presence channel, announces the local participant and asks
// existing participants for their membership view.
func (t *Tracker) Start(ctx context.Context) error {
	subs := []struct {
		event   string
		handler transport.Handler
	}{
		{eventTrack, t.handleTrack},
		{eventLeave, t.handleLeave},
		{eventSyncRequest, t.handleSyncRequest},
		{eventSyncState, t.handleSyncState},
	}
	for _, s := range subs {
		unsub, err := t.ch.Subscribe(s.event, s.handler)
		if err != nil {
			t.teardownSubs()
			return fmt.Errorf("subscribe presence %s: %w", s.event, err)
		}
		t.mu.Lock()
		t.unsubs = append(t.unsubs, unsub)
		t.mu.Unlock()
	}

	if err := t.ch.Join(ctx); err != nil {
		t.teardownSubs()
		return fmt.Errorf("join presence channel: %w", err)
	}

	// Announce ourselves, then collect the existing membership.
	if err := t.ch.Publish(ctx, eventTrack, t.self); err != nil {
		log.Warn().Err(err).Str("participant", t.self.ParticipantID).Msg("presence track failed")
	}
	if err := t.ch.Publish(ctx, eventSyncRequest, syncRequest{ParticipantID: t.self.ParticipantID}); err != nil {
		log.Warn().Err(err).Str("participant", t.self.ParticipantID).Msg("presence sync request failed")
	}

	t.stopBeat = make(chan struct{})
	go t.heartbeatLoop(t.stopBeat)
	return nil
}

// heartbeatLoop re-announces the local participant and expires records that
// stopped announcing. Runs until Stop.
func (t *Tracker) heartbeatLoop(stop chan struct{}) {
	ticker := t.clock.NewTicker(t.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if err := t.ch.Publish(context.Background(), eventTrack, t.self); err != nil {
				log.Debug().Err(err).Msg("presence heartbeat publish failed")
			}
			t.expireStale()
		}
	}
}

// expireStale drops records whose last announcement is older than the
// missed-heartbeat window. An expired owner is handled exactly like an owner
// that published a leave: grace timer, then the session-ended signal.
func (t *Tracker) expireStale() {
	ttl := t.heartbeat * heartbeatMisses
	now := t.clock.Now()

	ownerExpired := false
	changed := false
	t.mu.Lock()
	for id, seen := range t.lastSeen {
		if id == t.self.ParticipantID {
			continue
		}
		if now.Sub(seen) < ttl {
			continue
		}
		if t.members[id].Role == transport.RoleOwner {
			ownerExpired = true
		}
		delete(t.members, id)
		delete(t.lastSeen, id)
		changed = true
	}
	t.mu.Unlock()

	if ownerExpired && t.self.Role == transport.RoleVisitor {
		log.Info().Dur("grace", t.grace).Msg("owner stopped announcing; starting grace period")
		t.startGraceTimer()
	}
	if changed {
		t.fireSync()
	}
}

// Stop retracts the local participant and releases all subscriptions.
func (t *Tracker) Stop(ctx context.Context) {
	if t.stopBeat != nil {
		close(t.stopBeat)
		t.stopBeat = nil
	}
	if err := t.ch.Publish(ctx, eventLeave, leaveNotice{ParticipantID: t.self.ParticipantID}); err != nil {
		log.Debug().Err(err).Msg("presence leave publish failed")
	}
	t.cancelGraceTimer()
	t.teardownSubs()
	if err := t.ch.Leave(); err != nil {
		log.Debug().Err(err).Msg("presence channel leave failed")
	}
}

// Members returns the merged participant set, deduplicated by participant id
// and ordered by join time.
func (t *Tracker) Members() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.membersLocked()
}

// OwnerOnline reports whether any announced participant has the owner role.
func (t *Tracker) OwnerOnline() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.members {
		if r.Role == transport.RoleOwner {
			return true
		}
	}
	return false
}

// OwnerGone is closed once the owner's absence has been confirmed past the
// grace period. Visitors use it as the "session ended, redirect away" signal.
func (t *Tracker) OwnerGone() <-chan struct{} {
	return t.ownerGone
}

func (t *Tracker) handleTrack(env transport.Envelope) {
	var r Record
	if err := env.Decode(&r); err != nil {
		log.Warn().Err(err).Msg("dropping malformed presence track")
		return
	}

	t.mu.Lock()
	t.members[r.ParticipantID] = r
	t.lastSeen[r.ParticipantID] = t.clock.Now()
	t.mu.Unlock()

	// An owner re-announcing within the grace window cancels the pending
	// "session ended" signal.
	if r.Role == transport.RoleOwner {
		t.cancelGraceTimer()
	}
	t.fireSync()
}

func (t *Tracker) handleLeave(env transport.Envelope) {
	var n leaveNotice
	if err := env.Decode(&n); err != nil {
		log.Warn().Err(err).Msg("dropping malformed presence leave")
		return
	}

	t.mu.Lock()
	left, known := t.members[n.ParticipantID]
	delete(t.members, n.ParticipantID)
	delete(t.lastSeen, n.ParticipantID)
	t.mu.Unlock()

	if known && left.Role == transport.RoleOwner && t.self.Role == transport.RoleVisitor {
		log.Info().
			Str("owner", left.ParticipantID).
			Dur("grace", t.grace).
			Msg("owner left; starting grace period")
		t.startGraceTimer()
	}
	t.fireSync()
}

func (t *Tracker) handleSyncRequest(env transport.Envelope) {
	var req syncRequest
	if err := env.Decode(&req); err != nil {
		return
	}
	if req.ParticipantID == t.self.ParticipantID {
		return
	}

	t.mu.Lock()
	state := syncState{ParticipantID: t.self.ParticipantID, Members: t.membersLocked()}
	t.mu.Unlock()

	if err := t.ch.Publish(context.Background(), eventSyncState, state); err != nil {
		log.Debug().Err(err).Msg("presence sync state publish failed")
	}
}

func (t *Tracker) handleSyncState(env transport.Envelope) {
	var state syncState
	if err := env.Decode(&state); err != nil {
		return
	}
	if state.ParticipantID == t.self.ParticipantID {
		return
	}

	ownerSeen := false
	now := t.clock.Now()
	t.mu.Lock()
	for _, r := range state.Members {
		t.members[r.ParticipantID] = r
		t.lastSeen[r.ParticipantID] = now
		if r.Role == transport.RoleOwner {
			ownerSeen = true
		}
	}
	t.mu.Unlock()

	if ownerSeen {
		t.cancelGraceTimer()
	}
	t.fireSync()
}

// startGraceTimer arms the owner-absence timer unless one is already pending.
// When it fires, the merged set is re-checked: only a still-absent owner
// produces the signal.
func (t *Tracker) startGraceTimer() {
	t.graceMu.Lock()
	if t.graceCancel != nil {
		t.graceMu.Unlock()
		return
	}
	cancel := make(chan struct{})
	t.graceCancel = cancel
	t.graceMu.Unlock()

	timer := t.clock.NewTimer(t.grace)
	go func() {
		select {
		case <-timer.Chan():
			t.graceMu.Lock()
			if t.graceCancel == cancel {
				t.graceCancel = nil
			}
			t.graceMu.Unlock()

			if t.OwnerOnline() {
				return
			}
			log.Info().Msg("grace period elapsed with no owner; session ended")
			t.goneOnce.Do(func() { close(t.ownerGone) })
		case <-cancel:
			stopAndDrainTimer(timer)
		}
	}()
}

func (t *Tracker) cancelGraceTimer() {
	t.graceMu.Lock()
	if t.graceCancel != nil {
		close(t.graceCancel)
		t.graceCancel = nil
	}
	t.graceMu.Unlock()
}

func (t *Tracker) fireSync() {
	t.mu.Lock()
	fn := t.onSync
	members := t.membersLocked()
	t.mu.Unlock()

	if fn != nil {
		fn(members)
	}
}

func (t *Tracker) membersLocked() []Record {
	out := make([]Record, 0, len(t.members))
	for _, r := range t.members {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return out
}

func (t *Tracker) teardownSubs() {
	t.mu.Lock()
	unsubs := t.unsubs
	t.unsubs = nil
	t.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

// stopAndDrainTimer safely stops a timer and drains its channel, following
// the pattern from the time.Timer.Stop documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
