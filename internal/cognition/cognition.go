// Package cognition defines the typed contract with the remote service
// that turns structured context into scores, plans, reflections, and
// utterances. Every operation may fail or time out; callers own a
// deterministic fallback per failure mode rather than guessing at
// malformed responses.
package cognition

import (
	"context"
	"time"
)

// MemoryExcerpt is the slice of a memory record handed to the service.
type MemoryExcerpt struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	Importance int    `json:"importance"`
}

// Reflection is a synthesized insight over source memories.
type Reflection struct {
	Insight     string   `json:"insight"`
	EvidenceIDs []string `json:"evidence_ids"`
	Importance  int      `json:"importance"`
}

// Granularity selects a plan level.
type Granularity string

const (
	GranularityDaily  Granularity = "daily"
	GranularityHourly Granularity = "hourly"
	GranularityMinute Granularity = "minute"
)

// PlanRequest carries the agent context for plan generation.
type PlanRequest struct {
	AgentID     string      `json:"agent_id"`
	AgentName   string      `json:"agent_name"`
	Granularity Granularity `json:"granularity"`
	Goals       []string    `json:"goals"`
	Traits      []string    `json:"traits"`
	Context     string      `json:"context"`
	ParentPlan  []string    `json:"parent_plan,omitempty"`
	TimeOfDay   string      `json:"time_of_day"`
}

// PlanResult is the generated activity list. For minute granularity the
// list holds a single immediate step.
type PlanResult struct {
	Activities []string `json:"activities"`
}

// UtteranceRequest carries speaker context plus full conversation history.
type UtteranceRequest struct {
	SpeakerID      string    `json:"speaker_id"`
	SpeakerName    string    `json:"speaker_name"`
	SpeakerTraits  []string  `json:"speaker_traits"`
	PartnerName    string    `json:"partner_name"`
	Relationship   string    `json:"relationship"`
	Context        string    `json:"context"`
	History        []Turn    `json:"history"`
}

// Turn is one prior message in a conversation.
type Turn struct {
	SpeakerID string    `json:"speaker_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Utterance is a generated conversational message.
type Utterance struct {
	Content string `json:"content"`
	Emotion string `json:"emotion,omitempty"`
	Intent  string `json:"intent,omitempty"`
}

// Service is the five-operation cognition contract.
type Service interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ScoreImportance(ctx context.Context, text, agentContext string) (int, error)
	SynthesizeReflection(ctx context.Context, memories []MemoryExcerpt, agentContext string) (*Reflection, error)
	GeneratePlan(ctx context.Context, req PlanRequest) (*PlanResult, error)
	GenerateUtterance(ctx context.Context, req UtteranceRequest) (*Utterance, error)
}

// Documented fallbacks for degraded operation. Call sites substitute these
// after retries are exhausted; failures never propagate to the tick driver.
const (
	DefaultImportance = 5
	FallbackUtterance = "Hm, let me think about that."
	FallbackAction    = "continue current activity"
)

// FallbackPlan is the plan used when generation fails.
func FallbackPlan(g Granularity) *PlanResult {
	switch g {
	case GranularityDaily:
		return &PlanResult{Activities: []string{
			"wake up and get ready",
			"have breakfast",
			"work on main goal",
			"take a midday break",
			"continue working",
			"have dinner",
			"wind down and sleep",
		}}
	case GranularityHourly:
		return &PlanResult{Activities: []string{FallbackAction}}
	default:
		return &PlanResult{Activities: []string{FallbackAction}}
	}
}
