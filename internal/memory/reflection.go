package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/vivarium/internal/cognition"
)

// Reflection trigger defaults.
const (
	DefaultReflectionThreshold = 150
	DefaultReflectionWindow    = 24 * time.Hour
	DefaultReflectionMinCount  = 3
)

// ReflectionConfig tunes the trigger rule.
type ReflectionConfig struct {
	ImportanceThreshold int           `json:"importance_threshold"`
	Window              time.Duration `json:"window"`
	MinCount            int           `json:"min_count"`
}

// DefaultReflectionConfig returns the standard trigger parameters.
func DefaultReflectionConfig() ReflectionConfig {
	return ReflectionConfig{
		ImportanceThreshold: DefaultReflectionThreshold,
		Window:              DefaultReflectionWindow,
		MinCount:            DefaultReflectionMinCount,
	}
}

// ReflectionTrigger watches accumulated importance of un-reflected memories
// and, past the threshold, asks the cognition service to synthesize an
// insight memory. Earlier reflections never count toward the sum, and
// memories a reflection has cited are excluded from future sums.
type ReflectionTrigger struct {
	store     *Store
	cognition cognition.Service
	cfg       ReflectionConfig
	logger    *zap.Logger
}

// NewReflectionTrigger creates a trigger bound to a store and a cognition
// service.
func NewReflectionTrigger(store *Store, svc cognition.Service, cfg ReflectionConfig, logger *zap.Logger) *ReflectionTrigger {
	if cfg.ImportanceThreshold <= 0 {
		cfg.ImportanceThreshold = DefaultReflectionThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultReflectionWindow
	}
	if cfg.MinCount <= 0 {
		cfg.MinCount = DefaultReflectionMinCount
	}
	return &ReflectionTrigger{
		store:     store,
		cognition: svc,
		cfg:       cfg,
		logger:    logger,
	}
}

// ShouldTrigger reports whether the agent's un-reflected memories within the
// trailing window sum to at least the importance threshold, with at least
// MinCount qualifying memories.
func (t *ReflectionTrigger) ShouldTrigger(agentID string, now time.Time) bool {
	qualifying := t.store.Unreflected(agentID, now, t.cfg.Window)
	if len(qualifying) < t.cfg.MinCount {
		return false
	}
	sum := 0
	for _, r := range qualifying {
		sum += r.Importance
	}
	return sum >= t.cfg.ImportanceThreshold
}

// Generate synthesizes a reflection for the agent if the trigger fires (or
// force is set), persists it as a reflection-kind memory citing every
// source, and back-references each source. A cognition failure is logged
// and surfaces as a nil reflection; it never aborts the caller's tick.
func (t *ReflectionTrigger) Generate(ctx context.Context, agentID, worldID, agentContext string, now time.Time, force bool) *Record {
	if !force && !t.ShouldTrigger(agentID, now) {
		return nil
	}

	sources := t.store.Unreflected(agentID, now, t.cfg.Window)
	if len(sources) == 0 {
		return nil
	}

	excerpts := make([]cognition.MemoryExcerpt, len(sources))
	sourceIDs := make([]string, len(sources))
	for i, r := range sources {
		excerpts[i] = cognition.MemoryExcerpt{
			ID:         r.ID,
			Content:    r.Content,
			Importance: r.Importance,
		}
		sourceIDs[i] = r.ID
	}

	insight, err := t.cognition.SynthesizeReflection(ctx, excerpts, agentContext)
	if err != nil {
		t.logger.Warn("reflection synthesis failed, skipping this tick",
			zap.String("agent", agentID), zap.Error(err))
		return nil
	}

	reflection := &Record{
		ID:               uuid.New().String(),
		AgentID:          agentID,
		WorldID:          worldID,
		Kind:             KindReflection,
		Content:          insight.Insight,
		CreatedAt:        now,
		Importance:       ClampImportance(insight.Importance),
		LastAccessedAt:   now,
		RelatedMemoryIDs: sourceIDs,
	}
	if err := t.store.Append(ctx, reflection); err != nil {
		t.logger.Warn("reflection append failed",
			zap.String("agent", agentID), zap.Error(err))
		return nil
	}
	t.store.Link(ctx, reflection.ID, sourceIDs)

	t.logger.Info("reflection generated",
		zap.String("agent", agentID),
		zap.Int("sources", len(sourceIDs)),
		zap.Int("importance", reflection.Importance))
	return reflection
}
