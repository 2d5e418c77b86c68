package relation

import (
	"context"
	"sync"
	"time"
)

// InMemory is a process-local Store used in tests and when the graph
// database is unavailable. The simulation degrades, it does not stop.
type InMemory struct {
	mu    sync.RWMutex
	edges map[string]map[string]*Relationship // fromID -> toID -> edge
}

// NewInMemory creates an empty in-process relationship store.
func NewInMemory() *InMemory {
	return &InMemory{edges: make(map[string]map[string]*Relationship)}
}

// Label implements Store.
func (m *InMemory) Label(_ context.Context, fromID, toID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rel, ok := m.edges[fromID][toID]; ok {
		return rel.Label, nil
	}
	return LabelStranger, nil
}

// Nudge implements Store.
func (m *InMemory) Nudge(_ context.Context, aID, bID string, delta float64, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nudgeOne(aID, bID, delta, summary)
	m.nudgeOne(bID, aID, delta, summary)
	return nil
}

func (m *InMemory) nudgeOne(fromID, toID string, delta float64, summary string) {
	if m.edges[fromID] == nil {
		m.edges[fromID] = make(map[string]*Relationship)
	}
	rel, ok := m.edges[fromID][toID]
	if !ok {
		rel = &Relationship{
			FromAgentID: fromID,
			ToAgentID:   toID,
			Strength:    0.4,
		}
		m.edges[fromID][toID] = rel
	}
	rel.Strength = clamp(rel.Strength + delta)
	rel.Label = labelFor(rel.Strength)
	if summary != "" {
		rel.History = append(rel.History, summary)
	}
	rel.UpdatedAt = time.Now()
}

// Relations implements Store.
func (m *InMemory) Relations(_ context.Context, agentID string) ([]*Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Relationship
	for _, rel := range m.edges[agentID] {
		cp := *rel
		cp.History = append([]string(nil), rel.History...)
		out = append(out, &cp)
	}
	return out, nil
}

// SetLabel forces a label, creating the edge if needed. Used for seeding.
func (m *InMemory) SetLabel(fromID, toID, label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.edges[fromID] == nil {
		m.edges[fromID] = make(map[string]*Relationship)
	}
	rel, ok := m.edges[fromID][toID]
	if !ok {
		rel = &Relationship{FromAgentID: fromID, ToAgentID: toID, Strength: 0.4}
		m.edges[fromID][toID] = rel
	}
	rel.Label = label
	rel.UpdatedAt = time.Now()
}
