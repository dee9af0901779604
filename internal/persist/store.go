// Package persist decides what board state gets durably saved, by whom and
// when. Owners write to a shared Postgres store; visitors keep a disposable
// copy in a device-local SQLite store with the same JSON document shape.
package persist

import (
	"context"
	"fmt"
)

// Key identifies one saved board. Both stores key on the same tuple so the
// formats stay interchangeable.
type Key struct {
	RoomID   string
	GameType string
}

// StorageKey is the deterministic string form of a key, used by the local
// store. The shape mirrors the web client's localStorage key for parity.
func (k Key) StorageKey() string {
	return fmt.Sprintf("career-creator:state:%s:%s", k.RoomID, k.GameType)
}

// Store reads and writes serialized placement state. Writes are idempotent
// overwrites; an in-flight save on session teardown is allowed to complete.
type Store interface {
	// Load returns the stored document for key, reporting false when no
	// state has been saved yet.
	Load(ctx context.Context, key Key) ([]byte, bool, error)

	// Save overwrites the stored document for key.
	Save(ctx context.Context, key Key, doc []byte) error
}
