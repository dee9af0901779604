package persist

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Youngger9765/career-creator-sub000/internal/board"
	"github.com/Youngger9765/career-creator-sub000/internal/transport"
)

// DefaultAutosaveInterval is how often the coordinator checks the dirty flag.
const DefaultAutosaveInterval = 30 * time.Second

// StateSource is the coordinator's view of the session board. The session
// owns the state and provides the locking; the coordinator only serializes
// and restores through it.
type StateSource interface {
	Snapshot() ([]byte, error)
	Restore(doc []byte) error
	SetSyncStatus(status board.SyncStatus)
}

// Coordinator tracks unsaved changes and decides when state is written and
// where. The owner writes to the shared backend; a visitor writes to its
// device-local store. Write failures are logged and leave the dirty flag set
// so the next tick or flush point retries; there is no retry loop.
type Coordinator struct {
	store    Store
	key      Key
	role     transport.Role
	src      StateSource
	clock    clockwork.Clock
	interval time.Duration

	mu          sync.Mutex
	dirty       bool
	gen         uint64
	lastSavedAt time.Time
}

// NewCoordinator builds a coordinator for one session. A zero interval
// selects DefaultAutosaveInterval.
func NewCoordinator(store Store, key Key, role transport.Role, src StateSource, clock clockwork.Clock, interval time.Duration) *Coordinator {
	if interval <= 0 {
		interval = DefaultAutosaveInterval
	}
	return &Coordinator{
		store:    store,
		key:      key,
		role:     role,
		src:      src,
		clock:    clock,
		interval: interval,
	}
}

// MarkDirty flags that unsaved local changes exist. Called after every local
// mutation, and after applying a remote move only when the local participant
// is the owner: the owner durably saves state that originated from visitors,
// while a visitor never re-persists the owner's already-authoritative copy.
func (c *Coordinator) MarkDirty() {
	c.mu.Lock()
	c.dirty = true
	c.gen++
	c.mu.Unlock()
}

// Dirty reports whether unsaved changes exist.
func (c *Coordinator) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// LastSavedAt reports when the last successful save completed.
func (c *Coordinator) LastSavedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSavedAt
}

// SaveState writes the current state to the session's store if dirty.
// Not dirty is a no-op. A failed write keeps the flag set for a later retry,
// and so does a MarkDirty that lands while the write is in flight: the flag
// is only cleared when no mutation happened since the snapshot was taken.
func (c *Coordinator) SaveState(ctx context.Context) error {
	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return nil
	}
	gen := c.gen
	c.mu.Unlock()

	doc, err := c.src.Snapshot()
	if err != nil {
		log.Error().Err(err).Str("room", c.key.RoomID).Msg("serialize board state failed")
		return err
	}

	if err := c.store.Save(ctx, c.key, doc); err != nil {
		log.Error().Err(err).
			Str("room", c.key.RoomID).
			Str("game_type", c.key.GameType).
			Str("role", string(c.role)).
			Msg("save board state failed; will retry on next flush")
		return err
	}

	if c.role == transport.RoleOwner {
		c.src.SetSyncStatus(board.SyncStatusSynced)
	} else {
		c.src.SetSyncStatus(board.SyncStatusLocal)
	}

	c.mu.Lock()
	if c.gen == gen {
		c.dirty = false
	}
	c.lastSavedAt = c.clock.Now()
	c.mu.Unlock()

	log.Debug().
		Str("room", c.key.RoomID).
		Str("game_type", c.key.GameType).
		Msg("board state saved")
	return nil
}

// LoadState reads persisted state on session start. A found document replaces
// the in-memory state wholesale and clears dirty; absence leaves the default
// empty state; a read failure is logged and non-fatal.
func (c *Coordinator) LoadState(ctx context.Context) error {
	doc, found, err := c.store.Load(ctx, c.key)
	if err != nil {
		log.Error().Err(err).
			Str("room", c.key.RoomID).
			Str("game_type", c.key.GameType).
			Msg("load board state failed; starting from empty state")
		return err
	}
	if !found {
		return nil
	}

	if err := c.src.Restore(doc); err != nil {
		log.Error().Err(err).Str("room", c.key.RoomID).Msg("restore board state failed; keeping empty state")
		return err
	}

	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
	return nil
}

// Run autosaves on a fixed interval until ctx is cancelled. Ticks that find a
// clean state do no store work. The teardown flush is the caller's job, via
// Flush, so it can run with the caller's shutdown deadline.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := c.SaveState(ctx); err != nil {
				log.Warn().Err(err).Msg("autosave failed")
			}
		}
	}
}

// Flush performs a best-effort final save at a teardown point.
func (c *Coordinator) Flush(ctx context.Context) error {
	return c.SaveState(ctx)
}
