package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/vivarium/internal/dialogue"
)

// SaveDialogue stores a concluded conversation with its full transcript.
// Implements dialogue.Recorder.
func (s *Store) SaveDialogue(ctx context.Context, d *dialogue.Dialogue) error {
	messages, err := json.Marshal(d.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	participants, err := json.Marshal(d.ParticipantIDs)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}

	return s.withRetry(ctx, fmt.Sprintf("save dialogue %s", d.ID), func(ctx context.Context) error {
		_, err := s.db.Exec(ctx, `
			INSERT INTO dialogues (id, world_id, area, participant_ids, messages, started_at, ended_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				messages = EXCLUDED.messages,
				ended_at = EXCLUDED.ended_at`,
			d.ID, d.WorldID, d.Location.Area, participants, messages, d.StartedAt, d.EndedAt,
		)
		return err
	})
}

// ListDialogues returns recent dialogues for a world, newest first.
func (s *Store) ListDialogues(ctx context.Context, worldID string, limit int) ([]*dialogue.Dialogue, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, world_id, area, participant_ids, messages, started_at, ended_at
		FROM dialogues
		WHERE world_id = $1
		ORDER BY started_at DESC
		LIMIT $2`, worldID, limit)
	if err != nil {
		return nil, fmt.Errorf("list dialogues: %w", err)
	}
	defer rows.Close()

	var out []*dialogue.Dialogue
	for rows.Next() {
		var (
			d            dialogue.Dialogue
			participants []byte
			messages     []byte
		)
		if err := rows.Scan(&d.ID, &d.WorldID, &d.Location.Area, &participants, &messages, &d.StartedAt, &d.EndedAt); err != nil {
			return nil, fmt.Errorf("scan dialogue: %w", err)
		}
		if err := json.Unmarshal(participants, &d.ParticipantIDs); err != nil {
			return nil, fmt.Errorf("unmarshal participants: %w", err)
		}
		if err := json.Unmarshal(messages, &d.Messages); err != nil {
			return nil, fmt.Errorf("unmarshal messages: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
