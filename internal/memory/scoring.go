package memory

import (
	"math"
	"time"
)

// Weights holds the retrieval score triple and the recency half-life.
// score = Alpha·relevance + Beta·recency + Gamma·importance, where
// importance is the stored 1-10 value used un-normalized so that
// high-importance memories can dominate low relevance.
type Weights struct {
	Alpha         float64 `json:"alpha"`
	Beta          float64 `json:"beta"`
	Gamma         float64 `json:"gamma"`
	HalfLifeHours float64 `json:"half_life_hours"`
}

// DefaultWeights returns the 1/1/1 triple with a 24 hour half-life.
func DefaultWeights() Weights {
	return Weights{Alpha: 1.0, Beta: 1.0, Gamma: 1.0, HalfLifeHours: 24}
}

// DefaultTopN bounds retrieval result size system-wide so prompts stay small.
const DefaultTopN = 20

// Scored pairs a record with its combined retrieval score.
type Scored struct {
	Record     *Record `json:"record"`
	Score      float64 `json:"score"`
	Relevance  float64 `json:"relevance"`
	Recency    float64 `json:"recency"`
	Importance float64 `json:"importance"`
}

// score computes the combined retrieval score of a candidate against a
// query embedding at a given simulated instant.
func (w Weights) score(r *Record, query []float32, now time.Time) Scored {
	rel := 0.0
	if len(r.Embedding) > 0 && len(query) > 0 {
		rel = Cosine(query, r.Embedding)
	}
	return w.scoreWith(r, rel, now)
}

// scoreWith computes the combined score from a precomputed relevance, for
// records whose similarity came from the vector index instead of a local
// embedding.
func (w Weights) scoreWith(r *Record, rel float64, now time.Time) Scored {
	rec := w.recency(now.Sub(r.LastAccessedAt))
	imp := float64(r.Importance)
	return Scored{
		Record:     r,
		Relevance:  rel,
		Recency:    rec,
		Importance: imp,
		Score:      w.Alpha*rel + w.Beta*rec + w.Gamma*imp,
	}
}

// recency is exp(-λ·hoursSinceLastAccess) with λ = ln2/halfLife.
func (w Weights) recency(sinceAccess time.Duration) float64 {
	half := w.HalfLifeHours
	if half <= 0 {
		half = 24
	}
	lambda := math.Ln2 / half
	hours := sinceAccess.Hours()
	if hours < 0 {
		hours = 0
	}
	return math.Exp(-lambda * hours)
}

// Cosine returns the cosine similarity of two vectors, 0 for mismatched
// or zero-magnitude inputs.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
