package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createBoardStatesTable = `
CREATE TABLE IF NOT EXISTS board_states (
	room_id    TEXT NOT NULL,
	game_type  TEXT NOT NULL,
	state      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (room_id, game_type)
)`

const upsertBoardState = `
INSERT INTO board_states (room_id, game_type, state, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (room_id, game_type)
DO UPDATE SET state = EXCLUDED.state, updated_at = now()`

const selectBoardState = `
SELECT state FROM board_states WHERE room_id = $1 AND game_type = $2`

// PostgresStore is the shared durable store written by session owners.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the board_states table if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createBoardStatesTable); err != nil {
		return fmt.Errorf("create board_states table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, key Key) ([]byte, bool, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, selectBoardState, key.RoomID, key.GameType).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load board state %s/%s: %w", key.RoomID, key.GameType, err)
	}
	return doc, true, nil
}

func (s *PostgresStore) Save(ctx context.Context, key Key, doc []byte) error {
	if _, err := s.pool.Exec(ctx, upsertBoardState, key.RoomID, key.GameType, doc); err != nil {
		return fmt.Errorf("save board state %s/%s: %w", key.RoomID, key.GameType, err)
	}
	return nil
}
