package memory

import (
	"time"
)

// Kind tags what a memory record captures.
type Kind string

const (
	KindObservation Kind = "observation"
	KindReflection  Kind = "reflection"
	KindPlan        Kind = "plan"
)

// Importance bounds. The cognition service rates significance 1-10;
// anything outside is clamped, never rejected.
const (
	ImportanceMin     = 1
	ImportanceMax     = 10
	ImportanceDefault = 5
)

// ClampImportance forces a score into [ImportanceMin, ImportanceMax].
func ClampImportance(v int) int {
	if v < ImportanceMin {
		return ImportanceMin
	}
	if v > ImportanceMax {
		return ImportanceMax
	}
	return v
}

// Record is one entry in an agent's append-only memory log.
type Record struct {
	ID               string    `json:"id"`
	AgentID          string    `json:"agent_id"`
	WorldID          string    `json:"world_id"`
	Kind             Kind      `json:"kind"`
	Content          string    `json:"content"`
	CreatedAt        time.Time `json:"created_at"`
	Importance       int       `json:"importance"`
	LastAccessedAt   time.Time `json:"last_accessed_at"`
	RelatedMemoryIDs []string  `json:"related_memory_ids,omitempty"`
	Embedding        []float32 `json:"embedding,omitempty"`
	Tags             []string  `json:"tags,omitempty"`
}

// Clone returns a copy safe to hand to callers.
func (r *Record) Clone() *Record {
	cp := *r
	cp.RelatedMemoryIDs = append([]string(nil), r.RelatedMemoryIDs...)
	cp.Embedding = append([]float32(nil), r.Embedding...)
	cp.Tags = append([]string(nil), r.Tags...)
	return &cp
}

// Filter narrows Get queries.
type Filter struct {
	Kind         Kind
	Tag          string
	CreatedAfter time.Time
	Limit        int
}

// Matches reports whether a record passes the filter.
func (f Filter) Matches(r *Record) bool {
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if !f.CreatedAfter.IsZero() && !r.CreatedAt.After(f.CreatedAfter) {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, t := range r.Tags {
			if t == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
