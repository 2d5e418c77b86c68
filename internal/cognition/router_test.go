package cognition

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

// stubBackend is a scriptable backend for router tests.
type stubBackend struct {
	id    string
	fail  bool
	calls int
}

func (s *stubBackend) ID() string { return s.id }

func (s *stubBackend) Embed(context.Context, string) ([]float32, error) {
	s.calls++
	if s.fail {
		return nil, errors.New(s.id + " down")
	}
	return []float32{1}, nil
}
func (s *stubBackend) ScoreImportance(context.Context, string, string) (int, error) {
	s.calls++
	if s.fail {
		return 0, errors.New(s.id + " down")
	}
	return 6, nil
}
func (s *stubBackend) SynthesizeReflection(context.Context, []MemoryExcerpt, string) (*Reflection, error) {
	s.calls++
	if s.fail {
		return nil, errors.New(s.id + " down")
	}
	return &Reflection{Insight: "from " + s.id}, nil
}
func (s *stubBackend) GeneratePlan(context.Context, PlanRequest) (*PlanResult, error) {
	s.calls++
	if s.fail {
		return nil, errors.New(s.id + " down")
	}
	return &PlanResult{Activities: []string{"from " + s.id}}, nil
}
func (s *stubBackend) GenerateUtterance(context.Context, UtteranceRequest) (*Utterance, error) {
	s.calls++
	if s.fail {
		return nil, errors.New(s.id + " down")
	}
	return &Utterance{Content: "from " + s.id}, nil
}

func TestRouterNoBackends(t *testing.T) {
	r := NewRouter(zap.NewNop())
	if _, err := r.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error with no backends")
	}
	if _, err := r.GeneratePlan(context.Background(), PlanRequest{}); err == nil {
		t.Fatal("expected error with no backends")
	}
}

func TestRouterPrefersDefault(t *testing.T) {
	r := NewRouter(zap.NewNop())
	primary := &stubBackend{id: "primary"}
	backup := &stubBackend{id: "backup"}
	r.Register(primary)
	r.Register(backup)

	u, err := r.GenerateUtterance(context.Background(), UtteranceRequest{})
	if err != nil {
		t.Fatalf("GenerateUtterance: %v", err)
	}
	if u.Content != "from primary" {
		t.Errorf("content = %q, want primary's", u.Content)
	}
	if backup.calls != 0 {
		t.Errorf("backup called %d times while primary healthy", backup.calls)
	}
}

func TestRouterFallsThrough(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(&stubBackend{id: "primary", fail: true})
	backup := &stubBackend{id: "backup"}
	r.Register(backup)

	plan, err := r.GeneratePlan(context.Background(), PlanRequest{})
	if err != nil {
		t.Fatalf("GeneratePlan: %v", err)
	}
	if plan.Activities[0] != "from backup" {
		t.Errorf("plan = %+v, want backup's", plan)
	}
}

func TestRouterAllFail(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(&stubBackend{id: "a", fail: true})
	r.Register(&stubBackend{id: "b", fail: true})

	if _, err := r.ScoreImportance(context.Background(), "x", "y"); err == nil {
		t.Fatal("expected error when every backend fails")
	}
}

func TestRouterSetDefault(t *testing.T) {
	r := NewRouter(zap.NewNop())
	first := &stubBackend{id: "first"}
	second := &stubBackend{id: "second"}
	r.Register(first)
	r.Register(second)
	r.SetDefault("second")

	ref, err := r.SynthesizeReflection(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("SynthesizeReflection: %v", err)
	}
	if ref.Insight != "from second" {
		t.Errorf("insight = %q, want second's", ref.Insight)
	}

	// Unknown ids leave the default untouched.
	r.SetDefault("ghost")
	vec, err := r.Embed(context.Background(), "x")
	if err != nil || len(vec) != 1 {
		t.Errorf("Embed after bogus SetDefault: %v %v", vec, err)
	}
}
