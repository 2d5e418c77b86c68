package relation

import (
	"context"
	"testing"
)

func TestNudgeBidirectional(t *testing.T) {
	m := NewInMemory()

	if err := m.Nudge(context.Background(), "a", "b", 0.1, "pleasant chat"); err != nil {
		t.Fatalf("Nudge: %v", err)
	}

	for _, pair := range [][2]string{{"a", "b"}, {"b", "a"}} {
		label, err := m.Label(context.Background(), pair[0], pair[1])
		if err != nil {
			t.Fatalf("Label(%s, %s): %v", pair[0], pair[1], err)
		}
		if label != LabelAcquaintance {
			t.Errorf("%s->%s label = %q, want acquaintance", pair[0], pair[1], label)
		}
	}

	rels, err := m.Relations(context.Background(), "a")
	if err != nil {
		t.Fatalf("Relations: %v", err)
	}
	if len(rels) != 1 {
		t.Fatalf("relations = %d, want 1", len(rels))
	}
	if rels[0].Strength != 0.5 {
		t.Errorf("strength = %v, want 0.5 (0.4 base + 0.1)", rels[0].Strength)
	}
	if len(rels[0].History) != 1 || rels[0].History[0] != "pleasant chat" {
		t.Errorf("history = %v, want the interaction summary", rels[0].History)
	}
}

func TestLabelUnknownIsStranger(t *testing.T) {
	m := NewInMemory()
	label, err := m.Label(context.Background(), "a", "nobody")
	if err != nil {
		t.Fatalf("Label: %v", err)
	}
	if label != LabelStranger {
		t.Errorf("label = %q, want stranger", label)
	}
}

func TestStrengthClamped(t *testing.T) {
	m := NewInMemory()

	for i := 0; i < 20; i++ {
		m.Nudge(context.Background(), "a", "b", 0.1, "")
	}
	rels, _ := m.Relations(context.Background(), "a")
	if rels[0].Strength != 1 {
		t.Errorf("strength = %v, want clamped to 1", rels[0].Strength)
	}
	if rels[0].Label != LabelFriend {
		t.Errorf("label = %q, want friend", rels[0].Label)
	}

	for i := 0; i < 30; i++ {
		m.Nudge(context.Background(), "a", "b", -0.1, "")
	}
	rels, _ = m.Relations(context.Background(), "a")
	if rels[0].Strength != 0 {
		t.Errorf("strength = %v, want clamped to 0", rels[0].Strength)
	}
	if rels[0].Label != LabelRival {
		t.Errorf("label = %q, want rival", rels[0].Label)
	}
}

func TestLabelThresholds(t *testing.T) {
	tests := []struct {
		strength float64
		want     string
	}{
		{0.0, LabelRival},
		{0.19, LabelRival},
		{0.2, LabelAcquaintance},
		{0.59, LabelAcquaintance},
		{0.6, LabelFriend},
		{1.0, LabelFriend},
	}
	for _, tt := range tests {
		if got := labelFor(tt.strength); got != tt.want {
			t.Errorf("labelFor(%v) = %q, want %q", tt.strength, got, tt.want)
		}
	}
}

func TestRelationsReturnsCopies(t *testing.T) {
	m := NewInMemory()
	m.Nudge(context.Background(), "a", "b", 0.1, "first")

	rels, _ := m.Relations(context.Background(), "a")
	rels[0].Strength = 99
	rels[0].History[0] = "mutated"

	again, _ := m.Relations(context.Background(), "a")
	if again[0].Strength != 0.5 || again[0].History[0] != "first" {
		t.Error("Relations exposed internal state")
	}
}

// derivedOnly has no SetLabel; seeding must leave it untouched.
type derivedOnly struct{ Store }

func TestSeedLabels(t *testing.T) {
	m := NewInMemory()
	SeedLabels(m, map[string]map[string]string{
		"a": {"b": LabelFriend},
		"b": {"a": LabelFriend, "c": LabelRival},
	})

	for _, tc := range []struct {
		from, to, want string
	}{
		{"a", "b", LabelFriend},
		{"b", "a", LabelFriend},
		{"b", "c", LabelRival},
		{"c", "b", LabelStranger}, // seed labels are directed
	} {
		label, err := m.Label(context.Background(), tc.from, tc.to)
		if err != nil {
			t.Fatalf("Label(%s, %s): %v", tc.from, tc.to, err)
		}
		if label != tc.want {
			t.Errorf("%s->%s label = %q, want %q", tc.from, tc.to, label, tc.want)
		}
	}

	// Stores without direct label writes are skipped, not panicked on.
	SeedLabels(derivedOnly{Store: m}, map[string]map[string]string{"x": {"y": LabelFriend}})
	if label, _ := m.Label(context.Background(), "x", "y"); label != LabelStranger {
		t.Errorf("x->y label = %q, want seeding skipped", label)
	}
}
