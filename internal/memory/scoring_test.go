package memory

import (
	"math"
	"testing"
	"time"
)

func TestCosine(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"mismatched length", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"empty", nil, nil, 0},
		{"zero magnitude", []float32{0, 0}, []float32{1, 2}, 0},
	}
	for _, tc := range cases {
		if got := Cosine(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("%s: Cosine = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRecencyHalfLife(t *testing.T) {
	w := DefaultWeights()

	if got := w.recency(0); math.Abs(got-1) > 1e-9 {
		t.Errorf("recency(0) = %v, want 1", got)
	}
	// One half-life halves the score.
	if got := w.recency(24 * time.Hour); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("recency(24h) = %v, want 0.5", got)
	}
	if got := w.recency(48 * time.Hour); math.Abs(got-0.25) > 1e-9 {
		t.Errorf("recency(48h) = %v, want 0.25", got)
	}
	// Clock skew must not produce scores above 1.
	if got := w.recency(-time.Hour); got > 1 {
		t.Errorf("recency(negative) = %v, want <= 1", got)
	}
}

func TestScoreComposition(t *testing.T) {
	w := DefaultWeights()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	query := []float32{1, 0}

	r := &Record{
		Importance:     7,
		Embedding:      []float32{1, 0},
		LastAccessedAt: now.Add(-24 * time.Hour),
	}
	sc := w.score(r, query, now)
	want := 1.0*1 + 1.0*0.5 + 1.0*7
	if math.Abs(sc.Score-want) > 1e-9 {
		t.Errorf("score = %v, want %v", sc.Score, want)
	}

	// Without an embedding relevance contributes zero, nothing else breaks.
	bare := &Record{Importance: 3, LastAccessedAt: now}
	sc = w.score(bare, query, now)
	if sc.Relevance != 0 {
		t.Errorf("relevance without embedding = %v, want 0", sc.Relevance)
	}
	if math.Abs(sc.Score-(1.0+3.0)) > 1e-9 {
		t.Errorf("score = %v, want 4", sc.Score)
	}
}

func TestImportanceDominatesWeakRelevance(t *testing.T) {
	// Importance is used un-normalized: a 10-importance memory with no
	// relevance outranks a perfectly relevant 1-importance one.
	w := DefaultWeights()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	query := []float32{1, 0}

	vital := &Record{Importance: 10, LastAccessedAt: now}
	trivial := &Record{Importance: 1, Embedding: []float32{1, 0}, LastAccessedAt: now}

	if w.score(vital, query, now).Score <= w.score(trivial, query, now).Score {
		t.Error("high-importance memory did not dominate low-importance relevant one")
	}
}

func TestClampImportance(t *testing.T) {
	for in, want := range map[int]int{-5: 1, 0: 1, 1: 1, 5: 5, 10: 10, 99: 10} {
		if got := ClampImportance(in); got != want {
			t.Errorf("ClampImportance(%d) = %d, want %d", in, got, want)
		}
	}
}
