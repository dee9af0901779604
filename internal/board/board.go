package board

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Youngger9765/career-creator-sub000/internal/upload"
)

// ZoneID names a bucket cards can be placed into. Zone membership is
// meaningful per game type: some zones are ranked, some are plain sets.
type ZoneID string

// CardID identifies a single card within a game type's deck.
type CardID string

// ZoneNone is the unplaced pool. Moving a card to ZoneNone removes it from
// every zone without placing it anywhere.
const ZoneNone ZoneID = "none"

// SyncStatus records whether the in-memory state has been persisted to the
// shared backend or only exists on this device.
type SyncStatus string

const (
	SyncStatusLocal  SyncStatus = "local"
	SyncStatusSynced SyncStatus = "synced"
)

// Metadata carries bookkeeping about a placement state.
type Metadata struct {
	Version        int        `json:"version"`
	LastModifiedAt time.Time  `json:"last_modified_at"`
	SyncStatus     SyncStatus `json:"sync_status"`
}

// PlacementState is the authoritative shape of a session's board. It is owned
// by the session and mutated only through ApplyMove, ApplyReorder, SetUpload
// and SetSetting so the zone-uniqueness invariant holds: a card id appears in
// at most one zone across the whole map.
type PlacementState struct {
	Zones    map[ZoneID][]CardID `json:"zones"`
	Uploaded *upload.File        `json:"uploaded_file,omitempty"`
	Settings map[string]any      `json:"settings,omitempty"`
	Meta     Metadata            `json:"metadata"`
}

// NewPlacementState returns an empty board.
func NewPlacementState() *PlacementState {
	return &PlacementState{
		Zones:    make(map[ZoneID][]CardID),
		Settings: make(map[string]any),
		Meta:     Metadata{SyncStatus: SyncStatusLocal},
	}
}

// ApplyMove places cardID into toZone and reports which zone it actually came
// from. The card is first removed from every zone it appears in, so re-adding
// an already-placed card is safe and concurrent moves of different cards
// commute. A card that was not placed anywhere reports ZoneNone as its origin;
// unknown ids are not an error. Moving to ZoneNone returns the card to the
// unplaced pool.
func (s *PlacementState) ApplyMove(cardID CardID, toZone ZoneID) ZoneID {
	from := ZoneNone
	for zone, cards := range s.Zones {
		for i, id := range cards {
			if id == cardID {
				s.Zones[zone] = append(cards[:i:i], cards[i+1:]...)
				from = zone
				break
			}
		}
	}

	if toZone != ZoneNone {
		s.Zones[toZone] = append(s.Zones[toZone], cardID)
	}

	s.touch()
	return from
}

// ApplyReorder replaces a single zone's card order wholesale. The new order
// must be a permutation of the zone's current members; adding or removing
// cards through a reorder is rejected so zone uniqueness cannot slip in
// through the side door.
func (s *PlacementState) ApplyReorder(zone ZoneID, order []CardID) error {
	current := s.Zones[zone]
	if len(order) != len(current) {
		return fmt.Errorf("reorder zone %q: got %d cards, zone has %d", zone, len(order), len(current))
	}

	seen := make(map[CardID]int, len(current))
	for _, id := range current {
		seen[id]++
	}
	for _, id := range order {
		if seen[id] == 0 {
			return fmt.Errorf("reorder zone %q: card %q is not a member", zone, id)
		}
		seen[id]--
	}

	s.Zones[zone] = append([]CardID(nil), order...)
	s.touch()
	return nil
}

// SetUpload attaches the session's single uploaded file slot.
func (s *PlacementState) SetUpload(f *upload.File) {
	s.Uploaded = f
	s.touch()
}

// SetSetting stores a free-form per-game-type configuration value. Settings
// are opaque to reconciliation.
func (s *PlacementState) SetSetting(key string, value any) {
	if s.Settings == nil {
		s.Settings = make(map[string]any)
	}
	s.Settings[key] = value
	s.touch()
}

// SetSyncStatus records whether the in-memory state matches the persisted
// copy. Does not bump the version: sync status is bookkeeping, not a change.
func (s *PlacementState) SetSyncStatus(status SyncStatus) {
	s.Meta.SyncStatus = status
}

// ZoneOf reports which zone holds cardID, or ZoneNone.
func (s *PlacementState) ZoneOf(cardID CardID) ZoneID {
	for zone, cards := range s.Zones {
		for _, id := range cards {
			if id == cardID {
				return zone
			}
		}
	}
	return ZoneNone
}

// CardCount reports the total number of placed cards across all zones.
func (s *PlacementState) CardCount() int {
	n := 0
	for _, cards := range s.Zones {
		n += len(cards)
	}
	return n
}

// Clone returns a deep copy of the state.
func (s *PlacementState) Clone() *PlacementState {
	c := &PlacementState{
		Zones: make(map[ZoneID][]CardID, len(s.Zones)),
		Meta:  s.Meta,
	}
	for zone, cards := range s.Zones {
		c.Zones[zone] = append([]CardID(nil), cards...)
	}
	if s.Uploaded != nil {
		f := *s.Uploaded
		c.Uploaded = &f
	}
	if s.Settings != nil {
		c.Settings = make(map[string]any, len(s.Settings))
		for k, v := range s.Settings {
			c.Settings[k] = v
		}
	}
	return c
}

// Snapshot serializes the full state for snapshot responses and store writes.
func (s *PlacementState) Snapshot() ([]byte, error) {
	doc, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal placement state: %w", err)
	}
	return doc, nil
}

// Restore replaces the state wholesale from a snapshot document. Used when a
// visitor applies a snapshotResponse and when a session loads persisted state.
func (s *PlacementState) Restore(doc []byte) error {
	var next PlacementState
	if err := json.Unmarshal(doc, &next); err != nil {
		return fmt.Errorf("unmarshal placement state: %w", err)
	}
	if next.Zones == nil {
		next.Zones = make(map[ZoneID][]CardID)
	}
	*s = next
	return nil
}

func (s *PlacementState) touch() {
	s.Meta.Version++
	s.Meta.LastModifiedAt = time.Now().UTC()
}
