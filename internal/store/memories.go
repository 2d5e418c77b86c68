package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/vivarium/internal/memory"
)

// SaveMemory upserts one memory record. Implements memory.Persister.
// The embedding itself lives in the vector index; only scoring inputs and
// lineage are kept here.
func (s *Store) SaveMemory(ctx context.Context, r *memory.Record) error {
	return s.withRetry(ctx, fmt.Sprintf("save memory %s", r.ID), func(ctx context.Context) error {
		_, err := s.db.Exec(ctx, `
			INSERT INTO memories (id, agent_id, world_id, kind, content, importance, related_memory_ids, tags, created_at, last_accessed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET
				importance = EXCLUDED.importance,
				related_memory_ids = EXCLUDED.related_memory_ids,
				last_accessed_at = EXCLUDED.last_accessed_at`,
			r.ID, r.AgentID, r.WorldID, string(r.Kind), r.Content, r.Importance,
			r.RelatedMemoryIDs, r.Tags, r.CreatedAt, r.LastAccessedAt,
		)
		return err
	})
}

// TouchMemory updates a record's last access time. Implements
// memory.Persister.
func (s *Store) TouchMemory(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE memories SET last_accessed_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch memory %s: %w", id, err)
	}
	return nil
}

// ListMemories returns an agent's memory rows, newest first.
func (s *Store) ListMemories(ctx context.Context, agentID string, limit int) ([]*memory.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, agent_id, world_id, kind, content, importance,
		       related_memory_ids, tags, created_at, last_accessed_at
		FROM memories
		WHERE agent_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	return scanMemoryRows(rows)
}

// GetMemories fetches rows by id. Implements memory.RecordLoader for
// rebuilding an agent's in-process log after a restart.
func (s *Store) GetMemories(ctx context.Context, ids []string) ([]*memory.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, agent_id, world_id, kind, content, importance,
		       related_memory_ids, tags, created_at, last_accessed_at
		FROM memories
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get memories: %w", err)
	}
	defer rows.Close()
	return scanMemoryRows(rows)
}

func scanMemoryRows(rows pgx.Rows) ([]*memory.Record, error) {
	var records []*memory.Record
	for rows.Next() {
		var (
			r    memory.Record
			kind string
		)
		if err := rows.Scan(
			&r.ID, &r.AgentID, &r.WorldID, &kind, &r.Content, &r.Importance,
			&r.RelatedMemoryIDs, &r.Tags, &r.CreatedAt, &r.LastAccessedAt,
		); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		r.Kind = memory.Kind(kind)
		records = append(records, &r)
	}
	return records, rows.Err()
}
