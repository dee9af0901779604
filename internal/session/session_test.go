package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Youngger9765/career-creator-sub000/internal/board"
	"github.com/Youngger9765/career-creator-sub000/internal/persist"
	"github.com/Youngger9765/career-creator-sub000/internal/transport"
	"github.com/Youngger9765/career-creator-sub000/internal/upload"
)

const (
	testRoom  = "r1"
	testGame  = "values"
	testGrace = 5 * time.Second
)

type memStore struct {
	mu    sync.Mutex
	docs  map[persist.Key][]byte
	saves int
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[persist.Key][]byte)}
}

func (m *memStore) Load(ctx context.Context, key persist.Key) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[key]
	return doc, ok, nil
}

func (m *memStore) Save(ctx context.Context, key persist.Key, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.docs[key] = doc
	return nil
}

type fixture struct {
	bus   *transport.MemoryBus
	clock *clockwork.FakeClock
}

func newFixture() *fixture {
	return &fixture{bus: transport.NewMemoryBus(), clock: clockwork.NewFakeClock()}
}

func (f *fixture) newSession(t *testing.T, p Participant, store persist.Store) *Session {
	t.Helper()
	if store == nil {
		store = newMemStore()
	}
	s, err := New(Config{
		RoomID:      testRoom,
		GameType:    testGame,
		Self:        p,
		Cards:       f.bus.Channel(transport.Topic(testRoom, testGame)),
		Presence:    f.bus.Channel(transport.PresenceTopic(testRoom)),
		Store:       store,
		Clock:       f.clock,
		GracePeriod: testGrace,
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func ownerParticipant() Participant {
	return Participant{ID: "owner-1", Name: "Coach", Role: transport.RoleOwner}
}

func visitorParticipant(id string) Participant {
	return Participant{ID: id, Name: "Guest " + id, Role: transport.RoleVisitor}
}

// rawChannel joins a bare channel on the cards topic for injecting messages.
func (f *fixture) rawChannel(t *testing.T) *transport.MemoryChannel {
	t.Helper()
	ch := f.bus.Channel(transport.Topic(testRoom, testGame))
	require.NoError(t, ch.Join(context.Background()))
	return ch
}

func TestMovePropagatesBetweenParticipants(t *testing.T) {
	f := newFixture()
	ownerStore := newMemStore()
	owner := f.newSession(t, ownerParticipant(), ownerStore)
	visitor := f.newSession(t, visitorParticipant("v-1"), nil)

	// Owner places an unplaced card into "like".
	require.NoError(t, owner.MoveCard(context.Background(), "c1", "like"))
	assert.Equal(t, board.ZoneID("like"), visitor.State().ZoneOf("c1"))

	// Visitor drags it to "dislike"; the owner applies and becomes dirty.
	require.NoError(t, visitor.MoveCard(context.Background(), "c1", "dislike"))
	assert.Equal(t, board.ZoneID("dislike"), owner.State().ZoneOf("c1"))
	require.True(t, owner.Dirty())

	// Next save persists the visitor-originated change.
	require.NoError(t, owner.SaveNow(context.Background()))
	saved := board.NewPlacementState()
	doc, ok := ownerStore.docs[persist.Key{RoomID: testRoom, GameType: testGame}]
	require.True(t, ok)
	require.NoError(t, saved.Restore(doc))
	assert.Equal(t, board.ZoneID("dislike"), saved.ZoneOf("c1"))
}

func TestSelfEchoIsDropped(t *testing.T) {
	f := newFixture()
	owner := f.newSession(t, ownerParticipant(), nil)

	require.NoError(t, owner.MoveCard(context.Background(), "c1", "like"))
	before := owner.State()

	// Re-inject a move event carrying the owner's own performer id: it must
	// not be reapplied.
	raw := f.rawChannel(t)
	require.NoError(t, raw.Publish(context.Background(), transport.EventCardMoved, transport.MoveEvent{
		CardID:      "c1",
		ToZone:      "dislike",
		PerformerID: "owner-1",
	}))

	after := owner.State()
	assert.Equal(t, before.Zones, after.Zones)
	assert.Equal(t, before.Meta.Version, after.Meta.Version)
}

func TestRemoteMoveDoesNotDirtyVisitor(t *testing.T) {
	f := newFixture()
	owner := f.newSession(t, ownerParticipant(), nil)
	visitor := f.newSession(t, visitorParticipant("v-1"), nil)

	require.NoError(t, owner.MoveCard(context.Background(), "c1", "like"))

	assert.Equal(t, board.ZoneID("like"), visitor.State().ZoneOf("c1"))
	assert.False(t, visitor.Dirty(), "visitor never re-persists the owner's changes")
	assert.True(t, owner.Dirty(), "owner's own move is a local mutation")
}

func TestLateJoinerReceivesSnapshot(t *testing.T) {
	f := newFixture()
	owner := f.newSession(t, ownerParticipant(), nil)

	require.NoError(t, owner.MoveCard(context.Background(), "c1", "like"))
	require.NoError(t, owner.MoveCard(context.Background(), "c2", "dislike"))
	owner.SetSetting("notes", "debrief at 3pm")

	visitor := f.newSession(t, visitorParticipant("v-late"), nil)

	state := visitor.State()
	assert.Equal(t, board.ZoneID("like"), state.ZoneOf("c1"))
	assert.Equal(t, board.ZoneID("dislike"), state.ZoneOf("c2"))
	assert.Equal(t, "debrief at 3pm", state.Settings["notes"])
}

func TestOwnerIgnoresSnapshotResponses(t *testing.T) {
	f := newFixture()
	owner := f.newSession(t, ownerParticipant(), nil)
	require.NoError(t, owner.MoveCard(context.Background(), "c1", "like"))

	foreign := board.NewPlacementState()
	foreign.ApplyMove("c1", "dislike")
	doc, err := foreign.Snapshot()
	require.NoError(t, err)

	raw := f.rawChannel(t)
	require.NoError(t, raw.Publish(context.Background(), transport.EventSnapshotResponse, transport.SnapshotResponse{
		PerformerID: "someone-else",
		State:       doc,
	}))

	assert.Equal(t, board.ZoneID("like"), owner.State().ZoneOf("c1"))
}

func TestDragIndicators(t *testing.T) {
	f := newFixture()
	owner := f.newSession(t, ownerParticipant(), nil)
	visitor := f.newSession(t, visitorParticipant("v-1"), nil)

	require.NoError(t, owner.StartDrag(context.Background(), "c1"))

	assert.Equal(t, map[board.CardID]string{"c1": "Coach"}, visitor.Holders())
	assert.Empty(t, owner.Holders(), "own drags are not shown back to the dragger")

	require.NoError(t, owner.EndDrag(context.Background(), "c1"))
	assert.Empty(t, visitor.Holders())
}

func TestDragIndicatorsClearedOnClose(t *testing.T) {
	f := newFixture()
	owner := f.newSession(t, ownerParticipant(), nil)
	visitor := f.newSession(t, visitorParticipant("v-1"), nil)

	require.NoError(t, owner.StartDrag(context.Background(), "c1"))
	require.NotEmpty(t, visitor.Holders())

	require.NoError(t, visitor.Close(context.Background()))
	assert.Empty(t, visitor.Holders())
}

func TestUploadValidationRejectsBeforeBroadcast(t *testing.T) {
	f := newFixture()
	owner := f.newSession(t, ownerParticipant(), nil)
	visitor := f.newSession(t, visitorParticipant("v-1"), nil)

	err := owner.UploadFile(context.Background(), "notes.txt", "text/plain", 10, "mem://notes")
	require.Error(t, err)
	var verr *upload.ValidationError
	require.ErrorAs(t, err, &verr)

	assert.Nil(t, owner.State().Uploaded)
	assert.Nil(t, visitor.State().Uploaded)
}

func TestUploadPropagates(t *testing.T) {
	f := newFixture()
	owner := f.newSession(t, ownerParticipant(), nil)
	visitor := f.newSession(t, visitorParticipant("v-1"), nil)

	require.NoError(t, owner.UploadFile(context.Background(), "resume.pdf", "application/pdf", 2048, "https://files/resume.pdf"))

	got := visitor.State().Uploaded
	require.NotNil(t, got)
	assert.Equal(t, "resume.pdf", got.Name)
	assert.Equal(t, int64(2048), got.SizeBytes)
}

func TestReorderIsLocalAndPersisted(t *testing.T) {
	f := newFixture()
	owner := f.newSession(t, ownerParticipant(), nil)
	visitor := f.newSession(t, visitorParticipant("v-1"), nil)

	require.NoError(t, owner.MoveCard(context.Background(), "c1", "like"))
	require.NoError(t, owner.MoveCard(context.Background(), "c2", "like"))
	require.NoError(t, owner.SaveNow(context.Background()))
	require.False(t, owner.Dirty())

	require.NoError(t, owner.ReorderZone("like", []board.CardID{"c2", "c1"}))
	assert.Equal(t, []board.CardID{"c2", "c1"}, owner.State().Zones["like"])
	assert.True(t, owner.Dirty())

	// Reorders travel via snapshots, not incremental events.
	assert.Equal(t, []board.CardID{"c1", "c2"}, visitor.State().Zones["like"])

	require.Error(t, owner.ReorderZone("like", []board.CardID{"c1"}), "membership changes are rejected")
}

func TestOwnerLoadsPersistedStateOnStart(t *testing.T) {
	f := newFixture()
	store := newMemStore()

	saved := board.NewPlacementState()
	saved.ApplyMove("c1", "like")
	doc, err := saved.Snapshot()
	require.NoError(t, err)
	store.docs[persist.Key{RoomID: testRoom, GameType: testGame}] = doc

	owner := f.newSession(t, ownerParticipant(), store)
	assert.Equal(t, board.ZoneID("like"), owner.State().ZoneOf("c1"))
	assert.False(t, owner.Dirty())
}

func TestVisitorRedirectsAfterOwnerGone(t *testing.T) {
	f := newFixture()
	owner := f.newSession(t, ownerParticipant(), nil)
	visitor := f.newSession(t, visitorParticipant("v-1"), nil)

	require.True(t, visitor.OwnerOnline())
	require.NoError(t, owner.Close(context.Background()))
	require.False(t, visitor.OwnerOnline())

	select {
	case <-visitor.OwnerGone():
		t.Fatal("redirect before grace period")
	default:
	}

	f.clock.Advance(testGrace)

	select {
	case <-visitor.OwnerGone():
	case <-time.After(time.Second):
		t.Fatal("redirect not signalled after grace period")
	}
}

func TestCloseFlushesUnsavedChanges(t *testing.T) {
	f := newFixture()
	store := newMemStore()
	visitor := f.newSession(t, visitorParticipant("v-1"), store)

	require.NoError(t, visitor.MoveCard(context.Background(), "c1", "like"))
	require.True(t, visitor.Dirty())

	require.NoError(t, visitor.Close(context.Background()))

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 1, store.saves)
	doc := store.docs[persist.Key{RoomID: testRoom, GameType: testGame}]
	restored := board.NewPlacementState()
	require.NoError(t, restored.Restore(doc))
	assert.Equal(t, board.ZoneID("like"), restored.ZoneOf("c1"))
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
