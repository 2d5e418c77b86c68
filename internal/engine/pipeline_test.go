package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/vivarium/internal/cognition"
	"github.com/nidhogg/vivarium/internal/dialogue"
	"github.com/nidhogg/vivarium/internal/memory"
	"github.com/nidhogg/vivarium/internal/plan"
	"github.com/nidhogg/vivarium/internal/relation"
	"github.com/nidhogg/vivarium/internal/world"
)

// pipelineCognition returns fixed values for every operation.
type pipelineCognition struct{}

func (pipelineCognition) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}
func (pipelineCognition) ScoreImportance(context.Context, string, string) (int, error) {
	return 6, nil
}
func (pipelineCognition) SynthesizeReflection(context.Context, []cognition.MemoryExcerpt, string) (*cognition.Reflection, error) {
	return nil, errors.New("not enough material")
}
func (pipelineCognition) GeneratePlan(_ context.Context, req cognition.PlanRequest) (*cognition.PlanResult, error) {
	return &cognition.PlanResult{Activities: []string{"step for " + string(req.Granularity)}}, nil
}
func (pipelineCognition) GenerateUtterance(context.Context, cognition.UtteranceRequest) (*cognition.Utterance, error) {
	return &cognition.Utterance{Content: "lovely morning", Emotion: "happy"}, nil
}

// fixedSource yields a constant so initiation rolls are deterministic:
// zero always passes the gate, the half-range value never does (0.5 is
// above every initiation probability).
type fixedSource int64

func (s fixedSource) Int63() int64 { return int64(s) }
func (fixedSource) Seed(int64)     {}

const neverInitiate = fixedSource(1 << 62)
const alwaysInitiate = fixedSource(0)

var pipeNow = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func pipelineSnapshot() *world.State {
	return &world.State{
		WorldID:     "w1",
		CurrentTime: pipeNow,
		Agents: map[string]*world.Agent{
			"a1": {
				ID: "a1", WorldID: "w1", Name: "Mara", Status: world.StatusActive,
				Location: world.Location{Area: "plaza", X: 0, Y: 0},
				Goals:    []string{"open a cafe"}, Traits: []string{"curious"},
			},
			"a2": {
				ID: "a2", WorldID: "w1", Name: "Theo", Status: world.StatusActive,
				Location: world.Location{Area: "plaza", X: 3, Y: 0},
			},
		},
		Objects: map[string]*world.Object{
			"o1": {ID: "o1", Name: "fountain", State: "overflowing", Location: world.Location{Area: "plaza"}},
		},
	}
}

func newTestPipeline(src fixedSource) (*Pipeline, *memory.Store, *relation.InMemory) {
	logger := zap.NewNop()
	svc := pipelineCognition{}
	mems := memory.NewStore(memory.DefaultWeights(), logger)
	reflections := memory.NewReflectionTrigger(mems, svc, memory.DefaultReflectionConfig(), logger)
	planner := plan.NewPlanner(svc, logger)
	rels := relation.NewInMemory()
	dialogues := dialogue.NewCoordinator(svc, rels, mems, nil, func() time.Time { return pipeNow }, logger)
	p := NewPipeline(mems, reflections, planner, dialogues, rels, svc, logger, WithRandSource(src))
	return p, mems, rels
}

func TestProcessObservesAndActs(t *testing.T) {
	p, mems, _ := newTestPipeline(neverInitiate)
	snap := pipelineSnapshot()
	agent := snap.Agents["a1"].Clone()

	if err := p.Process(context.Background(), snap, agent); err != nil {
		t.Fatalf("Process: %v", err)
	}

	// Observations of the nearby agent and the area object became memories.
	recs := mems.Get("a1", memory.Filter{Kind: memory.KindObservation})
	if len(recs) != 2 {
		t.Fatalf("memories = %d, want 2", len(recs))
	}
	var sawAgent, sawObject bool
	for _, r := range recs {
		if r.Content == "Theo is idle in plaza" {
			sawAgent = true
		}
		if r.Content == "the fountain is overflowing" {
			sawObject = true
		}
		if r.Importance != 6 {
			t.Errorf("importance = %d, want scored 6", r.Importance)
		}
	}
	if !sawAgent || !sawObject {
		t.Errorf("observations missing: agent=%v object=%v (%+v)", sawAgent, sawObject, recs)
	}

	// The plan landed on the agent copy.
	if agent.CurrentAction != "step for minute" {
		t.Errorf("action = %q, want the minute step", agent.CurrentAction)
	}
	if len(agent.Plan.DailyPlan) == 0 || len(agent.Plan.HourlyPlan) == 0 {
		t.Errorf("plan = %+v, want daily and hourly levels", agent.Plan)
	}
	if !agent.Plan.GeneratedAt.Equal(pipeNow) {
		t.Errorf("plan generated at %v, want %v", agent.Plan.GeneratedAt, pipeNow)
	}
}

func TestProcessAloneStillActs(t *testing.T) {
	p, mems, _ := newTestPipeline(neverInitiate)
	snap := pipelineSnapshot()
	delete(snap.Agents, "a2")
	delete(snap.Objects, "o1")
	agent := snap.Agents["a1"].Clone()

	if err := p.Process(context.Background(), snap, agent); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if recs := mems.Get("a1", memory.Filter{}); len(recs) != 0 {
		t.Errorf("memories = %d, want none with nothing to observe", len(recs))
	}
	if agent.CurrentAction == "" {
		t.Error("agent has no action after processing")
	}
}

func TestProcessConverses(t *testing.T) {
	p, mems, rels := newTestPipeline(alwaysInitiate)
	snap := pipelineSnapshot()
	agent := snap.Agents["a1"].Clone()

	if err := p.Process(context.Background(), snap, agent); err != nil {
		t.Fatalf("Process: %v", err)
	}

	// The conversation concluded: summary memories for both participants.
	for _, id := range []string{"a1", "a2"} {
		recs := mems.Get(id, memory.Filter{Tag: "dialogue"})
		if len(recs) != 1 {
			t.Fatalf("agent %s dialogue memories = %d, want 1", id, len(recs))
		}
		if !strings.Contains(recs[0].Content, "positive") {
			t.Errorf("summary = %q, want positive sentiment", recs[0].Content)
		}
	}

	// Happy small talk strengthened the relationship.
	label, _ := rels.Label(context.Background(), "a1", "a2")
	if label == relation.LabelStranger {
		t.Error("relationship unchanged after a positive conversation")
	}
}

func TestProcessCancelledContext(t *testing.T) {
	p, _, _ := newTestPipeline(neverInitiate)
	snap := pipelineSnapshot()
	agent := snap.Agents["a1"].Clone()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Process(ctx, snap, agent); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
