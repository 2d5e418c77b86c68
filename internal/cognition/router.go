package cognition

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Backend is a registered cognition service with an identity.
type Backend interface {
	Service
	ID() string
}

// Router fans cognition calls out to a primary backend with an ordered
// fallback chain. A call only fails after every backend in the chain has
// failed; the caller then applies its documented fallback value.
type Router struct {
	mu        sync.RWMutex
	backends  map[string]Backend
	order     []string
	defaultID string
	logger    *zap.Logger
}

// NewRouter creates an empty cognition router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		backends: make(map[string]Backend),
		logger:   logger,
	}
}

// Register adds a backend. The first registered backend becomes the default.
func (r *Router) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.ID()] = b
	r.order = append(r.order, b.ID())
	if r.defaultID == "" {
		r.defaultID = b.ID()
	}
	r.logger.Info("registered cognition backend", zap.String("id", b.ID()))
}

// SetDefault selects the primary backend.
func (r *Router) SetDefault(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.backends[id]; ok {
		r.defaultID = id
	}
}

// chain returns the primary followed by the remaining backends in
// registration order.
func (r *Router) chain() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Backend, 0, len(r.order))
	if b, ok := r.backends[r.defaultID]; ok {
		out = append(out, b)
	}
	for _, id := range r.order {
		if id == r.defaultID {
			continue
		}
		out = append(out, r.backends[id])
	}
	return out
}

func (r *Router) noBackends() error {
	return fmt.Errorf("no cognition backends registered")
}

// Embed implements Service.
func (r *Router) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for _, b := range r.chain() {
		vec, err := b.Embed(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		r.logger.Warn("embed backend failed", zap.String("backend", b.ID()), zap.Error(err))
	}
	if lastErr == nil {
		lastErr = r.noBackends()
	}
	return nil, lastErr
}

// ScoreImportance implements Service.
func (r *Router) ScoreImportance(ctx context.Context, text, agentContext string) (int, error) {
	var lastErr error
	for _, b := range r.chain() {
		n, err := b.ScoreImportance(ctx, text, agentContext)
		if err == nil {
			return n, nil
		}
		lastErr = err
		r.logger.Warn("importance backend failed", zap.String("backend", b.ID()), zap.Error(err))
	}
	if lastErr == nil {
		lastErr = r.noBackends()
	}
	return 0, lastErr
}

// SynthesizeReflection implements Service.
func (r *Router) SynthesizeReflection(ctx context.Context, memories []MemoryExcerpt, agentContext string) (*Reflection, error) {
	var lastErr error
	for _, b := range r.chain() {
		ref, err := b.SynthesizeReflection(ctx, memories, agentContext)
		if err == nil {
			return ref, nil
		}
		lastErr = err
		r.logger.Warn("reflection backend failed", zap.String("backend", b.ID()), zap.Error(err))
	}
	if lastErr == nil {
		lastErr = r.noBackends()
	}
	return nil, lastErr
}

// GeneratePlan implements Service.
func (r *Router) GeneratePlan(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	var lastErr error
	for _, b := range r.chain() {
		plan, err := b.GeneratePlan(ctx, req)
		if err == nil {
			return plan, nil
		}
		lastErr = err
		r.logger.Warn("plan backend failed", zap.String("backend", b.ID()), zap.Error(err))
	}
	if lastErr == nil {
		lastErr = r.noBackends()
	}
	return nil, lastErr
}

// GenerateUtterance implements Service.
func (r *Router) GenerateUtterance(ctx context.Context, req UtteranceRequest) (*Utterance, error) {
	var lastErr error
	for _, b := range r.chain() {
		u, err := b.GenerateUtterance(ctx, req)
		if err == nil {
			return u, nil
		}
		lastErr = err
		r.logger.Warn("utterance backend failed", zap.String("backend", b.ID()), zap.Error(err))
	}
	if lastErr == nil {
		lastErr = r.noBackends()
	}
	return nil, lastErr
}
