// Package plan produces and refreshes the three-level hierarchical plan
// that drives each agent: daily activities, hourly decomposition, and the
// single immediate step consumed by action generation.
package plan

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/vivarium/internal/cognition"
)

// Cache lifetimes are proportional to granularity so cognition calls stay
// bounded: a daily plan outlives an hourly one by far, measured in
// simulated time.
const (
	dailyTTL  = 24 * time.Hour
	hourlyTTL = time.Hour
	minuteTTL = 5 * time.Minute
)

// replanMarkers are the observation substrings that signal unexpected
// change and make replanning worthwhile.
var replanMarkers = []string{"unexpected", "changed", "new"}

// Context carries the agent-side inputs to plan generation.
type Context struct {
	AgentID   string
	AgentName string
	Goals     []string
	Traits    []string
	Summary   string // retrieved-memory context
	TimeOfDay string
}

type cached struct {
	activities  []string
	generatedAt time.Time
}

// Planner generates plans through the cognition service and caches them
// per agent and granularity.
type Planner struct {
	cognition cognition.Service
	mu        sync.Mutex
	cache     map[string]map[cognition.Granularity]cached // agentID -> granularity -> plan
	logger    *zap.Logger
}

// NewPlanner creates a planner.
func NewPlanner(svc cognition.Service, logger *zap.Logger) *Planner {
	return &Planner{
		cognition: svc,
		cache:     make(map[string]map[cognition.Granularity]cached),
		logger:    logger,
	}
}

// Generate returns the plan for the given granularity, serving from cache
// while it is fresh. A cognition failure degrades to the documented
// fallback plan, which is returned but never cached.
func (p *Planner) Generate(ctx context.Context, gran cognition.Granularity, pc Context, now time.Time) []string {
	if acts, ok := p.fresh(pc.AgentID, gran, now); ok {
		return acts
	}

	req := cognition.PlanRequest{
		AgentID:     pc.AgentID,
		AgentName:   pc.AgentName,
		Granularity: gran,
		Goals:       pc.Goals,
		Traits:      pc.Traits,
		Context:     pc.Summary,
		TimeOfDay:   pc.TimeOfDay,
	}
	if gran != cognition.GranularityDaily {
		req.ParentPlan, _ = p.fresh(pc.AgentID, parentOf(gran), now)
	}

	result, err := p.cognition.GeneratePlan(ctx, req)
	if err != nil {
		p.logger.Warn("plan generation failed, using fallback",
			zap.String("agent", pc.AgentID),
			zap.String("granularity", string(gran)),
			zap.Error(err))
		return cognition.FallbackPlan(gran).Activities
	}

	p.put(pc.AgentID, gran, result.Activities, now)
	p.logger.Debug("plan generated",
		zap.String("agent", pc.AgentID),
		zap.String("granularity", string(gran)),
		zap.Int("activities", len(result.Activities)))
	return result.Activities
}

// CurrentStep returns the immediate step for the agent, generating the
// minute-level plan if needed.
func (p *Planner) CurrentStep(ctx context.Context, pc Context, now time.Time) string {
	acts := p.Generate(ctx, cognition.GranularityMinute, pc, now)
	if len(acts) == 0 {
		return cognition.FallbackAction
	}
	return acts[0]
}

// ReplanIfNeeded checks an observation for markers of unexpected change
// and, when one is present, discards the remainder of the current hourly
// plan and regenerates it from the triggering context. Reports whether a
// replan happened.
func (p *Planner) ReplanIfNeeded(ctx context.Context, observation string, pc Context, now time.Time) bool {
	if !hasReplanMarker(observation) {
		return false
	}

	p.invalidate(pc.AgentID, cognition.GranularityHourly)
	p.invalidate(pc.AgentID, cognition.GranularityMinute)

	pc.Summary = strings.TrimSpace(pc.Summary + "\nTriggering observation: " + observation)
	p.Generate(ctx, cognition.GranularityHourly, pc, now)

	p.logger.Info("replanned after salient observation",
		zap.String("agent", pc.AgentID))
	return true
}

// Invalidate drops all cached plans for an agent.
func (p *Planner) Invalidate(agentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, agentID)
}

func hasReplanMarker(observation string) bool {
	lower := strings.ToLower(observation)
	for _, m := range replanMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func parentOf(g cognition.Granularity) cognition.Granularity {
	if g == cognition.GranularityMinute {
		return cognition.GranularityHourly
	}
	return cognition.GranularityDaily
}

func ttlOf(g cognition.Granularity) time.Duration {
	switch g {
	case cognition.GranularityDaily:
		return dailyTTL
	case cognition.GranularityHourly:
		return hourlyTTL
	default:
		return minuteTTL
	}
}

func (p *Planner) fresh(agentID string, g cognition.Granularity, now time.Time) ([]string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.cache[agentID][g]
	if !ok {
		return nil, false
	}
	if now.Sub(c.generatedAt) >= ttlOf(g) {
		return nil, false
	}
	return append([]string(nil), c.activities...), true
}

func (p *Planner) put(agentID string, g cognition.Granularity, activities []string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cache[agentID] == nil {
		p.cache[agentID] = make(map[cognition.Granularity]cached)
	}
	p.cache[agentID][g] = cached{
		activities:  append([]string(nil), activities...),
		generatedAt: now,
	}
}

func (p *Planner) invalidate(agentID string, g cognition.Granularity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.cache[agentID]; ok {
		delete(m, g)
	}
}
