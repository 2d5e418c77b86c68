package engine

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/vivarium/internal/cognition"
	"github.com/nidhogg/vivarium/internal/dialogue"
	"github.com/nidhogg/vivarium/internal/memory"
	"github.com/nidhogg/vivarium/internal/plan"
	"github.com/nidhogg/vivarium/internal/relation"
	"github.com/nidhogg/vivarium/internal/sim"
	"github.com/nidhogg/vivarium/internal/world"
)

// DefaultObserveRadius bounds metric perception for agents without an
// explicit override. Dialogue eligibility stays area based regardless.
const DefaultObserveRadius = 10.0

const maxDialogueTurns = 4

// Pipeline runs one agent through the full cognitive sequence each tick:
// observe, remember, reflect, replan, act, converse. It implements
// AgentProcessor and mutates only the agent copy it is handed; all shared
// stores are internally synchronized.
type Pipeline struct {
	memories    *memory.Store
	reflections *memory.ReflectionTrigger
	planner     *plan.Planner
	dialogues   *dialogue.Coordinator
	relations   relation.Store
	cognition   cognition.Service

	observeRadius float64

	rngMu sync.Mutex
	rng   *rand.Rand

	logger *zap.Logger
}

// PipelineOption tunes pipeline construction.
type PipelineOption func(*Pipeline)

// WithObserveRadius overrides the metric perception radius.
func WithObserveRadius(r float64) PipelineOption {
	return func(p *Pipeline) {
		if r > 0 {
			p.observeRadius = r
		}
	}
}

// WithRandSource fixes the initiation roll source for deterministic tests.
func WithRandSource(src rand.Source) PipelineOption {
	return func(p *Pipeline) { p.rng = rand.New(src) }
}

// NewPipeline wires the cognitive pipeline.
func NewPipeline(memories *memory.Store, reflections *memory.ReflectionTrigger, planner *plan.Planner, dialogues *dialogue.Coordinator, relations relation.Store, svc cognition.Service, logger *zap.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		memories:      memories,
		reflections:   reflections,
		planner:       planner,
		dialogues:     dialogues,
		relations:     relations,
		cognition:     svc,
		observeRadius: DefaultObserveRadius,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:        logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process implements AgentProcessor.
func (p *Pipeline) Process(ctx context.Context, snapshot *world.State, agent *world.Agent) error {
	now := snapshot.CurrentTime

	observations := p.observe(snapshot, agent)
	p.remember(ctx, agent, observations, now)

	if r := p.reflections.Generate(ctx, agent.ID, agent.WorldID, p.agentContext(agent), now, false); r != nil {
		p.logger.Info("reflection formed",
			zap.String("agent", agent.ID),
			zap.String("insight", r.Content))
	}

	pc := p.planContext(ctx, agent, snapshot, observations, now)
	for _, obs := range observations {
		if p.planner.ReplanIfNeeded(ctx, obs, pc, now) {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("agent %s pipeline: %w", agent.ID, err)
	}

	p.act(ctx, agent, pc, now)
	p.converse(ctx, snapshot, agent)
	return nil
}

// observe gathers what the agent perceives this tick: other agents inside
// the metric radius plus objects sharing its area.
func (p *Pipeline) observe(snapshot *world.State, agent *world.Agent) []string {
	var out []string
	for _, other := range snapshot.NearbyAgents(agent.ID, p.observeRadius) {
		action := other.CurrentAction
		if action == "" {
			action = "idle"
		}
		out = append(out, fmt.Sprintf("%s is %s in %s", other.Name, action, other.Location.Area))
	}
	for _, obj := range snapshot.ObjectsInArea(agent.Location.Area) {
		if obj.State == "" {
			continue
		}
		out = append(out, fmt.Sprintf("the %s is %s", obj.Name, obj.State))
	}
	return out
}

// remember scores and appends each observation. A failed importance score
// falls back to the documented default; a failed append is logged and the
// remaining observations still land.
func (p *Pipeline) remember(ctx context.Context, agent *world.Agent, observations []string, now time.Time) {
	agentCtx := p.agentContext(agent)
	for _, obs := range observations {
		importance, err := p.cognition.ScoreImportance(ctx, obs, agentCtx)
		if err != nil {
			p.logger.Debug("importance scoring failed, using default",
				zap.String("agent", agent.ID), zap.Error(err))
			importance = cognition.DefaultImportance
		}
		rec := &memory.Record{
			ID:             uuid.New().String(),
			AgentID:        agent.ID,
			WorldID:        agent.WorldID,
			Kind:           memory.KindObservation,
			Content:        obs,
			CreatedAt:      now,
			Importance:     importance,
			LastAccessedAt: now,
		}
		if err := p.memories.Append(ctx, rec); err != nil {
			p.logger.Warn("observation append failed",
				zap.String("agent", agent.ID), zap.Error(err))
		}
	}
}

// planContext assembles the planner inputs, summarizing the agent's most
// relevant memories against its current situation.
func (p *Pipeline) planContext(ctx context.Context, agent *world.Agent, snapshot *world.State, observations []string, now time.Time) plan.Context {
	query := fmt.Sprintf("%s in %s", agent.CurrentAction, agent.Location.Area)
	if len(observations) > 0 {
		query += "; " + strings.Join(observations, "; ")
	}

	var summary []string
	for _, sc := range p.memories.RetrieveRelevant(ctx, agent.ID, query, 0, now) {
		summary = append(summary, sc.Record.Content)
	}

	return plan.Context{
		AgentID:   agent.ID,
		AgentName: agent.Name,
		Goals:     agent.Goals,
		Traits:    agent.Traits,
		Summary:   strings.Join(summary, "\n"),
		TimeOfDay: string(sim.PhaseOf(now)),
	}
}

// act resolves the agent's immediate step and records the refreshed plan
// levels on the agent.
func (p *Pipeline) act(ctx context.Context, agent *world.Agent, pc plan.Context, now time.Time) {
	daily := p.planner.Generate(ctx, cognition.GranularityDaily, pc, now)
	hourly := p.planner.Generate(ctx, cognition.GranularityHourly, pc, now)
	step := p.planner.CurrentStep(ctx, pc, now)

	agent.CurrentAction = step
	agent.Plan = world.PlanState{
		DailyPlan:   daily,
		HourlyPlan:  hourly,
		CurrentStep: step,
		GeneratedAt: now,
	}
}

// converse rolls the relationship-weighted initiation gate against one
// co-located candidate and, when it passes, plays out a short bounded
// conversation. The coordinator folds sentiment into relationships and
// writes the summary memories when the dialogue ends.
func (p *Pipeline) converse(ctx context.Context, snapshot *world.State, agent *world.Agent) {
	candidates := snapshot.AgentsInArea(agent.Location.Area, agent.ID)
	if len(candidates) == 0 {
		return
	}
	partner := candidates[p.roll(len(candidates))]

	label, err := p.relations.Label(ctx, agent.ID, partner.ID)
	if err != nil {
		p.logger.Debug("relationship lookup failed, treating as stranger",
			zap.String("agent", agent.ID), zap.Error(err))
		label = relation.LabelStranger
	}
	if p.rollFloat() >= dialogue.InitiationProbability(label) {
		return
	}

	situation := fmt.Sprintf("%s and %s are both in %s during the %s",
		agent.Name, partner.Name, agent.Location.Area, sim.PhaseOf(snapshot.CurrentTime))

	d, err := p.dialogues.Initiate(ctx, agent, partner, situation)
	if err != nil {
		p.logger.Debug("dialogue initiation rejected",
			zap.String("agent", agent.ID),
			zap.String("partner", partner.ID),
			zap.Error(err))
		return
	}

	speaker, listener := partner, agent
	for turn := 0; turn < maxDialogueTurns; turn++ {
		if _, err := p.dialogues.Respond(ctx, speaker, listener, d.ID, situation); err != nil {
			p.logger.Debug("dialogue response failed",
				zap.String("dialogue", d.ID), zap.Error(err))
			break
		}
		speaker, listener = listener, speaker
	}

	if err := p.dialogues.End(ctx, d.ID, "conversation ran its course"); err != nil {
		p.logger.Warn("dialogue end failed",
			zap.String("dialogue", d.ID), zap.Error(err))
	}
}

func (p *Pipeline) agentContext(agent *world.Agent) string {
	return fmt.Sprintf("%s; traits: %s; goals: %s",
		agent.Name, strings.Join(agent.Traits, ", "), strings.Join(agent.Goals, ", "))
}

func (p *Pipeline) roll(n int) int {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.rng.Intn(n)
}

func (p *Pipeline) rollFloat() float64 {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.rng.Float64()
}
