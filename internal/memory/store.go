package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Embedder turns text into a vector. Retrieval tolerates failure: a memory
// or query without an embedding simply scores zero relevance.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Persister is the durable sink for memory rows. Writes are best-effort
// from the store's point of view; the in-process log stays authoritative
// for the running simulation.
type Persister interface {
	SaveMemory(ctx context.Context, r *Record) error
	TouchMemory(ctx context.Context, id string, at time.Time) error
}

// VectorHit is one nearest-neighbour result from a vector index.
type VectorHit struct {
	MemoryID string
	Score    float64
}

// VectorIndex receives embeddings for similarity search backends and
// answers nearest-neighbour queries over them.
type VectorIndex interface {
	UpsertMemory(ctx context.Context, r *Record) error
	Search(ctx context.Context, agentID string, vector []float32, topK int) ([]VectorHit, error)
}

// RecordLoader fetches persisted rows by id. Used together with the
// vector index to rebuild an agent's in-process log after a restart.
type RecordLoader interface {
	GetMemories(ctx context.Context, ids []string) ([]*Record, error)
}

// Store is the per-agent append-only memory log with combined retrieval
// scoring. Records are never deleted during normal operation.
type Store struct {
	mu      sync.RWMutex
	byAgent map[string][]*Record
	byID    map[string]*Record

	weights  Weights
	topN     int
	embedder Embedder
	persist  Persister
	vectors  VectorIndex
	loader   RecordLoader
	logger   *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithEmbedder attaches an embedding provider for append and retrieval.
func WithEmbedder(e Embedder) Option { return func(s *Store) { s.embedder = e } }

// WithPersister attaches a durable sink.
func WithPersister(p Persister) Option { return func(s *Store) { s.persist = p } }

// WithVectorIndex attaches a vector search backend.
func WithVectorIndex(v VectorIndex) Option { return func(s *Store) { s.vectors = v } }

// WithRecordLoader attaches a durable source for hydrating a cold log.
func WithRecordLoader(l RecordLoader) Option { return func(s *Store) { s.loader = l } }

// WithTopN overrides the default retrieval result bound.
func WithTopN(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.topN = n
		}
	}
}

// NewStore creates a memory store with the given scoring weights.
func NewStore(weights Weights, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		byAgent: make(map[string][]*Record),
		byID:    make(map[string]*Record),
		weights: weights,
		topN:    DefaultTopN,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append adds a record to the owning agent's log. Importance is clamped to
// [1,10]. When the record has no embedding and an embedder is attached, the
// content is embedded; embedding failure degrades the record, not the call.
func (s *Store) Append(ctx context.Context, r *Record) error {
	if r.AgentID == "" {
		return fmt.Errorf("memory record requires agent id")
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Kind == "" {
		r.Kind = KindObservation
	}
	r.Importance = ClampImportance(r.Importance)
	if r.LastAccessedAt.IsZero() {
		r.LastAccessedAt = r.CreatedAt
	}

	if len(r.Embedding) == 0 && s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, r.Content)
		if err != nil {
			s.logger.Warn("embedding failed, storing memory without vector",
				zap.String("agent", r.AgentID), zap.Error(err))
		} else {
			r.Embedding = vec
		}
	}

	s.mu.Lock()
	s.byAgent[r.AgentID] = append(s.byAgent[r.AgentID], r)
	s.byID[r.ID] = r
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.SaveMemory(ctx, r); err != nil {
			s.logger.Warn("memory persist failed",
				zap.String("id", r.ID), zap.Error(err))
		}
	}
	if s.vectors != nil && len(r.Embedding) > 0 {
		if err := s.vectors.UpsertMemory(ctx, r); err != nil {
			s.logger.Warn("vector upsert failed",
				zap.String("id", r.ID), zap.Error(err))
		}
	}

	s.logger.Debug("memory appended",
		zap.String("agent", r.AgentID),
		zap.String("kind", string(r.Kind)),
		zap.Int("importance", r.Importance))
	return nil
}

// Get returns copies of an agent's records passing the filter, oldest first.
func (s *Store) Get(agentID string, f Filter) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, r := range s.byAgent[agentID] {
		if f.Matches(r) {
			out = append(out, r.Clone())
		}
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// RetrieveRelevant scores an agent's memories against the query text and
// returns the topN by combined score, updating each returned record's
// lastAccessedAt. Retrieval is deliberately not read-only: it ages the
// recency decay clock forward.
func (s *Store) RetrieveRelevant(ctx context.Context, agentID, queryText string, topN int, now time.Time) []Scored {
	if topN <= 0 {
		topN = s.topN
	}

	var query []float32
	if s.embedder != nil && queryText != "" {
		vec, err := s.embedder.Embed(ctx, queryText)
		if err != nil {
			s.logger.Warn("query embedding failed, relevance scores zero",
				zap.String("agent", agentID), zap.Error(err))
		} else {
			query = vec
		}
	}

	var hydrated map[string]float64
	if len(query) > 0 {
		hydrated = s.hydrateIfCold(ctx, agentID, query, topN)
	}

	s.mu.Lock()
	records := s.byAgent[agentID]
	scored := make([]Scored, 0, len(records))
	for _, r := range records {
		if rel, ok := hydrated[r.ID]; ok && len(r.Embedding) == 0 {
			scored = append(scored, s.weights.scoreWith(r, rel, now))
			continue
		}
		scored = append(scored, s.weights.score(r, query, now))
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Record.LastAccessedAt.After(scored[j].Record.LastAccessedAt)
	})
	if len(scored) > topN {
		scored = scored[:topN]
	}

	out := make([]Scored, len(scored))
	for i, sc := range scored {
		sc.Record.LastAccessedAt = now
		out[i] = Scored{
			Record:     sc.Record.Clone(),
			Score:      sc.Score,
			Relevance:  sc.Relevance,
			Recency:    sc.Recency,
			Importance: sc.Importance,
		}
	}
	s.mu.Unlock()

	if s.persist != nil {
		for _, sc := range out {
			if err := s.persist.TouchMemory(ctx, sc.Record.ID, now); err != nil {
				s.logger.Warn("memory touch persist failed",
					zap.String("id", sc.Record.ID), zap.Error(err))
			}
		}
	}
	return out
}

// hydrateIfCold rebuilds an agent's log from the vector index and the
// durable store when the in-process log is empty, as after a restart.
// Persisted rows carry no embedding, so the index similarity stands in
// for relevance; the returned map is record id -> similarity.
func (s *Store) hydrateIfCold(ctx context.Context, agentID string, query []float32, topK int) map[string]float64 {
	if s.vectors == nil || s.loader == nil {
		return nil
	}
	s.mu.RLock()
	cold := len(s.byAgent[agentID]) == 0
	s.mu.RUnlock()
	if !cold {
		return nil
	}

	hits, err := s.vectors.Search(ctx, agentID, query, topK)
	if err != nil {
		s.logger.Warn("vector search failed, log stays cold",
			zap.String("agent", agentID), zap.Error(err))
		return nil
	}
	if len(hits) == 0 {
		return nil
	}
	ids := make([]string, len(hits))
	rel := make(map[string]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.MemoryID
		rel[h.MemoryID] = h.Score
	}
	rows, err := s.loader.GetMemories(ctx, ids)
	if err != nil {
		s.logger.Warn("memory hydration load failed",
			zap.String("agent", agentID), zap.Error(err))
		return nil
	}

	s.mu.Lock()
	for _, r := range rows {
		if _, exists := s.byID[r.ID]; exists {
			continue
		}
		s.byAgent[r.AgentID] = append(s.byAgent[r.AgentID], r)
		s.byID[r.ID] = r
	}
	s.mu.Unlock()

	s.logger.Info("memory log hydrated from vector index",
		zap.String("agent", agentID), zap.Int("records", len(rows)))
	return rel
}

// Touch updates a record's lastAccessedAt.
func (s *Store) Touch(ctx context.Context, id string, at time.Time) bool {
	s.mu.Lock()
	r, ok := s.byID[id]
	if ok {
		r.LastAccessedAt = at
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	if s.persist != nil {
		if err := s.persist.TouchMemory(ctx, id, at); err != nil {
			s.logger.Warn("memory touch persist failed", zap.String("id", id), zap.Error(err))
		}
	}
	return true
}

// Link records the bidirectional relation between a reflection and its
// source memories: the reflection already lists its sources, and each
// source is updated to back-reference the reflection.
func (s *Store) Link(ctx context.Context, reflectionID string, sourceIDs []string) {
	s.mu.Lock()
	for _, id := range sourceIDs {
		if src, ok := s.byID[id]; ok {
			src.RelatedMemoryIDs = append(src.RelatedMemoryIDs, reflectionID)
		}
	}
	s.mu.Unlock()

	if s.persist != nil {
		for _, id := range sourceIDs {
			if src := s.Record(id); src != nil {
				if err := s.persist.SaveMemory(ctx, src); err != nil {
					s.logger.Warn("source back-reference persist failed",
						zap.String("id", id), zap.Error(err))
				}
			}
		}
	}
}

// Record returns a copy of one record, or nil.
func (s *Store) Record(id string) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.byID[id]; ok {
		return r.Clone()
	}
	return nil
}

// Count returns the number of records held for an agent.
func (s *Store) Count(agentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byAgent[agentID])
}

// isReflection reports whether an id names a reflection-kind record.
// Caller must hold at least the read lock.
func (s *Store) isReflection(id string) bool {
	r, ok := s.byID[id]
	return ok && r.Kind == KindReflection
}

// Unreflected returns copies of the agent's non-reflection records created
// within (now-window, now] that no reflection has cited yet.
func (s *Store) Unreflected(agentID string, now time.Time, window time.Duration) []*Record {
	cutoff := now.Add(-window)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, r := range s.byAgent[agentID] {
		if r.Kind == KindReflection {
			continue
		}
		if !r.CreatedAt.After(cutoff) {
			continue
		}
		cited := false
		for _, rel := range r.RelatedMemoryIDs {
			if s.isReflection(rel) {
				cited = true
				break
			}
		}
		if cited {
			continue
		}
		out = append(out, r.Clone())
	}
	return out
}
