// Package dialogue manages proximity-gated, turn-taking conversations
// between agents and folds their outcomes back into memory and
// relationship state.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/vivarium/internal/cognition"
	"github.com/nidhogg/vivarium/internal/memory"
	"github.com/nidhogg/vivarium/internal/relation"
	"github.com/nidhogg/vivarium/internal/world"
)

var (
	ErrAgentInactive  = errors.New("agent is not active")
	ErrDifferentWorld = errors.New("agents are in different worlds")
	ErrNotColocated   = errors.New("agents are not in the same area")
	ErrUnknownDialog  = errors.New("unknown dialogue")
	ErrNotParticipant = errors.New("agent is not a participant")
	ErrEnded          = errors.New("dialogue already ended")
)

// Message is one turn in a dialogue.
type Message struct {
	SpeakerID string    `json:"speaker_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Emotion   string    `json:"emotion,omitempty"`
	Intent    string    `json:"intent,omitempty"`
}

// Dialogue is a conversation between co-located agents.
type Dialogue struct {
	ID             string         `json:"id"`
	ParticipantIDs []string       `json:"participant_ids"`
	WorldID        string         `json:"world_id"`
	Location       world.Location `json:"location"`
	StartedAt      time.Time      `json:"started_at"`
	EndedAt        *time.Time     `json:"ended_at,omitempty"`
	Messages       []Message      `json:"messages"`
}

// Clone returns a copy safe to hand to callers.
func (d *Dialogue) Clone() *Dialogue {
	cp := *d
	cp.ParticipantIDs = append([]string(nil), d.ParticipantIDs...)
	cp.Messages = append([]Message(nil), d.Messages...)
	if d.EndedAt != nil {
		t := *d.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}

// Relationship nudge applied after a concluded conversation.
const sentimentNudge = 0.1

// Initiation probabilities by relationship label.
const (
	probFriend   = 0.3
	probStranger = 0.1
	probOther    = 0.2
)

// InitiationProbability returns the chance an agent opens a conversation
// with a co-located agent, given their relationship label.
func InitiationProbability(label string) float64 {
	switch label {
	case relation.LabelFriend:
		return probFriend
	case relation.LabelStranger, "":
		return probStranger
	default:
		return probOther
	}
}

// Recorder persists concluded dialogues. Optional.
type Recorder interface {
	SaveDialogue(ctx context.Context, d *Dialogue) error
}

// Coordinator runs the dialogue lifecycle. Each message is independently
// requested from the cognition service with the full history as context;
// on failure a canned utterance is substituted so the conversation never
// stalls.
type Coordinator struct {
	cognition cognition.Service
	relations relation.Store
	memories  *memory.Store
	recorder  Recorder

	mu     sync.RWMutex
	active map[string]*Dialogue
	clock  func() time.Time
	logger *zap.Logger
}

// NewCoordinator creates a dialogue coordinator. now supplies simulated
// time; recorder may be nil.
func NewCoordinator(svc cognition.Service, relations relation.Store, memories *memory.Store, recorder Recorder, now func() time.Time, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		cognition: svc,
		relations: relations,
		memories:  memories,
		recorder:  recorder,
		active:    make(map[string]*Dialogue),
		clock:     now,
		logger:    logger,
	}
}

// Initiate opens a conversation between two agents. Both must be active,
// in the same world, and in the same named area — dialogue proximity is
// area equality, not metric distance.
func (c *Coordinator) Initiate(ctx context.Context, initiator, target *world.Agent, situation string) (*Dialogue, error) {
	if initiator.Status != world.StatusActive {
		return nil, fmt.Errorf("initiator %s: %w", initiator.ID, ErrAgentInactive)
	}
	if target.Status != world.StatusActive {
		return nil, fmt.Errorf("target %s: %w", target.ID, ErrAgentInactive)
	}
	if initiator.WorldID != target.WorldID {
		return nil, ErrDifferentWorld
	}
	if initiator.Location.Area != target.Location.Area {
		return nil, ErrNotColocated
	}

	now := c.clock()
	d := &Dialogue{
		ID:             uuid.New().String(),
		ParticipantIDs: []string{initiator.ID, target.ID},
		WorldID:        initiator.WorldID,
		Location:       initiator.Location,
		StartedAt:      now,
	}

	opening := c.utterance(ctx, initiator, target, situation, nil)
	d.Messages = append(d.Messages, opening)

	c.mu.Lock()
	c.active[d.ID] = d
	c.mu.Unlock()

	c.logger.Debug("dialogue initiated",
		zap.String("dialogue", d.ID),
		zap.String("initiator", initiator.ID),
		zap.String("target", target.ID),
		zap.String("area", initiator.Location.Area))
	return d.Clone(), nil
}

// Respond appends the responder's next message, generated against the full
// conversation history.
func (c *Coordinator) Respond(ctx context.Context, responder, partner *world.Agent, dialogueID, situation string) (Message, error) {
	c.mu.RLock()
	d, ok := c.active[dialogueID]
	c.mu.RUnlock()
	if !ok {
		return Message{}, ErrUnknownDialog
	}
	if d.EndedAt != nil {
		return Message{}, ErrEnded
	}
	if !d.hasParticipant(responder.ID) {
		return Message{}, fmt.Errorf("%s: %w", responder.ID, ErrNotParticipant)
	}

	c.mu.RLock()
	history := append([]Message(nil), d.Messages...)
	c.mu.RUnlock()

	msg := c.utterance(ctx, responder, partner, situation, history)

	c.mu.Lock()
	d.Messages = append(d.Messages, msg)
	c.mu.Unlock()
	return msg, nil
}

// End closes a dialogue, derives its sentiment from message emotion tags,
// nudges the participants' relationship accordingly, and writes a summary
// observation into each participant's memory.
func (c *Coordinator) End(ctx context.Context, dialogueID, reason string) error {
	c.mu.Lock()
	d, ok := c.active[dialogueID]
	if ok {
		delete(c.active, dialogueID)
	}
	c.mu.Unlock()
	if !ok {
		return ErrUnknownDialog
	}
	if d.EndedAt != nil {
		return ErrEnded
	}

	now := c.clock()
	d.EndedAt = &now

	sentiment := Classify(d.Messages)
	if len(d.ParticipantIDs) >= 2 {
		a, b := d.ParticipantIDs[0], d.ParticipantIDs[1]
		summary := fmt.Sprintf("conversation ended (%s, %s)", reason, sentiment)
		var delta float64
		switch sentiment {
		case SentimentPositive:
			delta = sentimentNudge
		case SentimentNegative:
			delta = -sentimentNudge
		}
		if delta != 0 {
			if err := c.relations.Nudge(ctx, a, b, delta, summary); err != nil {
				c.logger.Warn("relationship nudge failed",
					zap.String("dialogue", d.ID), zap.Error(err))
			}
		}
	}

	c.remember(ctx, d, sentiment)

	if c.recorder != nil {
		if err := c.recorder.SaveDialogue(ctx, d); err != nil {
			c.logger.Warn("dialogue persist failed",
				zap.String("dialogue", d.ID), zap.Error(err))
		}
	}

	c.logger.Debug("dialogue ended",
		zap.String("dialogue", d.ID),
		zap.String("reason", reason),
		zap.String("sentiment", string(sentiment)),
		zap.Int("messages", len(d.Messages)))
	return nil
}

// Active returns copies of the open dialogues.
func (c *Coordinator) Active() []*Dialogue {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Dialogue, 0, len(c.active))
	for _, d := range c.active {
		out = append(out, d.Clone())
	}
	return out
}

// Get returns one open dialogue, or nil.
func (c *Coordinator) Get(id string) *Dialogue {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if d, ok := c.active[id]; ok {
		return d.Clone()
	}
	return nil
}

// utterance generates one message, substituting the canned fallback on
// cognition failure.
func (c *Coordinator) utterance(ctx context.Context, speaker, partner *world.Agent, situation string, history []Message) Message {
	label, err := c.relations.Label(ctx, speaker.ID, partner.ID)
	if err != nil {
		c.logger.Warn("relationship lookup failed",
			zap.String("speaker", speaker.ID), zap.Error(err))
		label = relation.LabelStranger
	}

	turns := make([]cognition.Turn, len(history))
	for i, m := range history {
		turns[i] = cognition.Turn{SpeakerID: m.SpeakerID, Content: m.Content, Timestamp: m.Timestamp}
	}

	u, err := c.cognition.GenerateUtterance(ctx, cognition.UtteranceRequest{
		SpeakerID:     speaker.ID,
		SpeakerName:   speaker.Name,
		SpeakerTraits: speaker.Traits,
		PartnerName:   partner.Name,
		Relationship:  label,
		Context:       situation,
		History:       turns,
	})
	if err != nil {
		c.logger.Warn("utterance generation failed, using fallback",
			zap.String("speaker", speaker.ID), zap.Error(err))
		u = &cognition.Utterance{Content: cognition.FallbackUtterance, Emotion: "neutral"}
	}

	return Message{
		SpeakerID: speaker.ID,
		Content:   u.Content,
		Timestamp: c.clock(),
		Emotion:   u.Emotion,
		Intent:    u.Intent,
	}
}

// remember writes a conversation summary observation for each participant.
func (c *Coordinator) remember(ctx context.Context, d *Dialogue, sentiment Sentiment) {
	if c.memories == nil {
		return
	}
	var last string
	if n := len(d.Messages); n > 0 {
		last = d.Messages[n-1].Content
	}
	for _, id := range d.ParticipantIDs {
		rec := &memory.Record{
			AgentID:    id,
			WorldID:    d.WorldID,
			Kind:       memory.KindObservation,
			Content:    fmt.Sprintf("had a %s conversation at %s; it closed with: %q", sentiment, d.Location.Area, last),
			CreatedAt:  *d.EndedAt,
			Importance: importanceOf(sentiment),
			Tags:       []string{"dialogue"},
		}
		if err := c.memories.Append(ctx, rec); err != nil {
			c.logger.Warn("dialogue memory append failed",
				zap.String("agent", id), zap.Error(err))
		}
	}
}

func importanceOf(s Sentiment) int {
	if s == SentimentNeutral {
		return 3
	}
	return 5
}

func (d *Dialogue) hasParticipant(id string) bool {
	for _, p := range d.ParticipantIDs {
		if p == id {
			return true
		}
	}
	return false
}
