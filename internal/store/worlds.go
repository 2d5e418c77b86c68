package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/vivarium/internal/world"
)

// ErrNoSnapshot is returned when a world has no persisted state.
var ErrNoSnapshot = errors.New("no world snapshot")

// SaveWorldState persists a versioned snapshot of the full world state.
// One row per world; the latest version wins.
func (s *Store) SaveWorldState(ctx context.Context, st *world.State) error {
	blob, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal world state: %w", err)
	}
	return s.withRetry(ctx, fmt.Sprintf("save world %s", st.WorldID), func(ctx context.Context) error {
		_, err := s.db.Exec(ctx, `
			INSERT INTO worlds (id, version, current_time_sim, state, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (id) DO UPDATE SET
				version = EXCLUDED.version,
				current_time_sim = EXCLUDED.current_time_sim,
				state = EXCLUDED.state,
				updated_at = NOW()
			WHERE worlds.version <= EXCLUDED.version`,
			st.WorldID, st.Version, st.CurrentTime, blob,
		)
		return err
	})
}

// LoadWorldState restores the latest persisted snapshot for a world.
func (s *Store) LoadWorldState(ctx context.Context, worldID string) (*world.State, error) {
	var blob []byte
	err := s.db.QueryRow(ctx,
		`SELECT state FROM worlds WHERE id = $1`, worldID).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load world %s: %w", worldID, err)
	}
	var st world.State
	if err := json.Unmarshal(blob, &st); err != nil {
		return nil, fmt.Errorf("unmarshal world state: %w", err)
	}
	return &st, nil
}
