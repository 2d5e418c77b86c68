package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nidhogg/vivarium/internal/world"
)

// SaveAgent upserts an agent row. Plan state, goals, traits, and the
// relationship label map are stored as JSONB.
func (s *Store) SaveAgent(ctx context.Context, a *world.Agent) error {
	goals, err := json.Marshal(a.Goals)
	if err != nil {
		return fmt.Errorf("marshal goals: %w", err)
	}
	traits, err := json.Marshal(a.Traits)
	if err != nil {
		return fmt.Errorf("marshal traits: %w", err)
	}
	relationships, err := json.Marshal(a.Relationships)
	if err != nil {
		return fmt.Errorf("marshal relationships: %w", err)
	}
	plan, err := json.Marshal(a.Plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}

	return s.withRetry(ctx, fmt.Sprintf("save agent %s", a.ID), func(ctx context.Context) error {
		_, err := s.db.Exec(ctx, `
			INSERT INTO agents (id, world_id, name, area, x, y, current_action, goals, traits, relationships, plan, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				area = EXCLUDED.area,
				x = EXCLUDED.x,
				y = EXCLUDED.y,
				current_action = EXCLUDED.current_action,
				goals = EXCLUDED.goals,
				traits = EXCLUDED.traits,
				relationships = EXCLUDED.relationships,
				plan = EXCLUDED.plan,
				status = EXCLUDED.status,
				updated_at = EXCLUDED.updated_at`,
			a.ID, a.WorldID, a.Name, a.Location.Area, a.Location.X, a.Location.Y,
			a.CurrentAction, goals, traits, relationships, plan,
			string(a.Status), a.CreatedAt, time.Now(),
		)
		return err
	})
}

// GetAgent retrieves a single agent by ID, deleted ones included.
func (s *Store) GetAgent(ctx context.Context, id string) (*world.Agent, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, world_id, name, area, x, y, COALESCE(current_action,''),
		       goals, traits, relationships, plan, status, created_at, updated_at
		FROM agents WHERE id = $1`, id)

	a, err := scanAgent(row)
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return a, nil
}

// ListAgents returns all non-deleted agents for a world.
func (s *Store) ListAgents(ctx context.Context, worldID string) ([]*world.Agent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, world_id, name, area, x, y, COALESCE(current_action,''),
		       goals, traits, relationships, plan, status, created_at, updated_at
		FROM agents WHERE world_id = $1 AND status != 'deleted'
		ORDER BY created_at`, worldID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*world.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// DeleteAgent soft-deletes an agent by setting status to 'deleted'. The
// row and its memories are retained.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE agents SET status = 'deleted', updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete agent %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*world.Agent, error) {
	var (
		a             world.Agent
		status        string
		goals         []byte
		traits        []byte
		relationships []byte
		plan          []byte
	)
	err := row.Scan(
		&a.ID, &a.WorldID, &a.Name, &a.Location.Area, &a.Location.X, &a.Location.Y,
		&a.CurrentAction, &goals, &traits, &relationships, &plan,
		&status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = world.AgentStatus(status)
	if len(goals) > 0 {
		if err := json.Unmarshal(goals, &a.Goals); err != nil {
			return nil, fmt.Errorf("unmarshal goals: %w", err)
		}
	}
	if len(traits) > 0 {
		if err := json.Unmarshal(traits, &a.Traits); err != nil {
			return nil, fmt.Errorf("unmarshal traits: %w", err)
		}
	}
	if len(relationships) > 0 {
		if err := json.Unmarshal(relationships, &a.Relationships); err != nil {
			return nil, fmt.Errorf("unmarshal relationships: %w", err)
		}
	}
	if len(plan) > 0 {
		if err := json.Unmarshal(plan, &a.Plan); err != nil {
			return nil, fmt.Errorf("unmarshal plan: %w", err)
		}
	}
	return &a, nil
}
