package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState() *PlacementState {
	s := NewPlacementState()
	s.Zones["like"] = []CardID{"c1", "c2"}
	s.Zones["dislike"] = []CardID{"c3"}
	return s
}

func TestApplyMove(t *testing.T) {
	cases := []struct {
		name     string
		cardID   CardID
		toZone   ZoneID
		wantFrom ZoneID
	}{
		{name: "move between zones", cardID: "c1", toZone: "dislike", wantFrom: "like"},
		{name: "move within same zone", cardID: "c1", toZone: "like", wantFrom: "like"},
		{name: "place unplaced card", cardID: "c9", toZone: "like", wantFrom: ZoneNone},
		{name: "return to pool", cardID: "c3", toZone: ZoneNone, wantFrom: "dislike"},
		{name: "unknown card to pool", cardID: "ghost", toZone: ZoneNone, wantFrom: ZoneNone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestState()
			from := s.ApplyMove(tc.cardID, tc.toZone)
			assert.Equal(t, tc.wantFrom, from)
			assert.Equal(t, tc.toZone, s.ZoneOf(tc.cardID))
			assertCardUniqueness(t, s)
		})
	}
}

func TestApplyMoveRemovesFromOrigin(t *testing.T) {
	s := newTestState()

	from := s.ApplyMove("c1", "dislike")

	require.Equal(t, ZoneID("like"), from)
	assert.Equal(t, []CardID{"c2"}, s.Zones["like"])
	assert.Equal(t, []CardID{"c3", "c1"}, s.Zones["dislike"])
}

func TestApplyMoveIsIdempotentForSameTarget(t *testing.T) {
	s := newTestState()

	s.ApplyMove("c1", "dislike")
	s.ApplyMove("c1", "dislike")

	assert.Equal(t, []CardID{"c3", "c1"}, s.Zones["dislike"])
	assertCardUniqueness(t, s)
}

func TestApplyMoveBumpsVersion(t *testing.T) {
	s := newTestState()
	before := s.Meta.Version

	s.ApplyMove("c1", "dislike")

	assert.Equal(t, before+1, s.Meta.Version)
	assert.False(t, s.Meta.LastModifiedAt.IsZero())
}

func TestApplyReorder(t *testing.T) {
	cases := []struct {
		name    string
		zone    ZoneID
		order   []CardID
		wantErr bool
	}{
		{name: "valid permutation", zone: "like", order: []CardID{"c2", "c1"}},
		{name: "identity order", zone: "like", order: []CardID{"c1", "c2"}},
		{name: "drops a card", zone: "like", order: []CardID{"c1"}, wantErr: true},
		{name: "adds a card", zone: "like", order: []CardID{"c1", "c2", "c9"}, wantErr: true},
		{name: "swaps in foreign card", zone: "like", order: []CardID{"c1", "c3"}, wantErr: true},
		{name: "duplicates a member", zone: "like", order: []CardID{"c1", "c1"}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestState()
			totalBefore := s.CardCount()

			err := s.ApplyReorder(tc.zone, tc.order)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.order, s.Zones[tc.zone])
			assert.Equal(t, totalBefore, s.CardCount())
			assert.Equal(t, []CardID{"c3"}, s.Zones["dislike"], "other zones untouched")
			assertCardUniqueness(t, s)
		})
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestState()
	s.SetSetting("notes", "prefers remote work")
	s.SetSetting("max_likes", float64(5))

	doc, err := s.Snapshot()
	require.NoError(t, err)

	restored := NewPlacementState()
	require.NoError(t, restored.Restore(doc))

	assert.Equal(t, s.Zones, restored.Zones)
	assert.Equal(t, s.Settings, restored.Settings)
	assert.Equal(t, s.Meta.Version, restored.Meta.Version)
}

func TestRestoreEmptyDocKeepsUsableZones(t *testing.T) {
	s := newTestState()
	require.NoError(t, s.Restore([]byte(`{}`)))

	// Zones map must stay writable after a degenerate snapshot.
	s.ApplyMove("c1", "like")
	assert.Equal(t, ZoneID("like"), s.ZoneOf("c1"))
}

func TestCloneIsDeep(t *testing.T) {
	s := newTestState()
	c := s.Clone()

	c.ApplyMove("c1", "dislike")

	assert.Equal(t, ZoneID("like"), s.ZoneOf("c1"))
	assert.Equal(t, ZoneID("dislike"), c.ZoneOf("c1"))
}

// assertCardUniqueness checks that every card id appears in at most one zone.
func assertCardUniqueness(t *testing.T, s *PlacementState) {
	t.Helper()
	seen := make(map[CardID]ZoneID)
	for zone, cards := range s.Zones {
		for _, id := range cards {
			if prev, ok := seen[id]; ok {
				t.Fatalf("card %q appears in both %q and %q", id, prev, zone)
			}
			seen[id] = zone
		}
	}
}
