// Package relation tracks social relationships between agents: a label
// (friend, rival, ...) plus a 0-1 strength that dialogue outcomes nudge
// and time decays.
package relation

import (
	"context"
	"time"
)

// Well-known labels. LabelStranger is the implicit label for agents with
// no recorded relationship.
const (
	LabelStranger     = "stranger"
	LabelAcquaintance = "acquaintance"
	LabelFriend       = "friend"
	LabelRival        = "rival"
)

// Strength thresholds for deriving labels from accumulated interactions.
const (
	friendThreshold = 0.6
	rivalThreshold  = 0.2
)

// Relationship is one directed edge between two agents.
type Relationship struct {
	FromAgentID string    `json:"from_agent_id"`
	ToAgentID   string    `json:"to_agent_id"`
	Label       string    `json:"label"`
	Strength    float64   `json:"strength"` // 0-1
	History     []string  `json:"history"`  // interaction summaries
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store is the relationship state consulted by the dialogue coordinator
// and the agent pipeline.
type Store interface {
	// Label returns the relationship label from one agent toward another,
	// LabelStranger when none is recorded.
	Label(ctx context.Context, fromID, toID string) (string, error)
	// Nudge strengthens (positive delta) or weakens (negative delta) the
	// relationship in both directions, recording the interaction summary.
	Nudge(ctx context.Context, aID, bID string, delta float64, summary string) error
	// Relations returns all outgoing relationships for an agent.
	Relations(ctx context.Context, agentID string) ([]*Relationship, error)
}

// LabelSetter is the optional direct label write used when bootstrapping
// relationships from a seed file.
type LabelSetter interface {
	SetLabel(fromID, toID, label string)
}

// SeedLabels applies seed relationship labels, keyed agent -> other agent
// -> label, to stores that support direct writes. Stores that derive
// labels purely from interaction history ignore seeding.
func SeedLabels(s Store, labels map[string]map[string]string) {
	setter, ok := s.(LabelSetter)
	if !ok {
		return
	}
	for from, m := range labels {
		for to, label := range m {
			setter.SetLabel(from, to, label)
		}
	}
}

// labelFor derives a label from strength, keeping an explicit label if the
// strength still supports it.
func labelFor(strength float64) string {
	switch {
	case strength >= friendThreshold:
		return LabelFriend
	case strength < rivalThreshold:
		return LabelRival
	default:
		return LabelAcquaintance
	}
}

// clamp bounds strength to [0,1].
func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
