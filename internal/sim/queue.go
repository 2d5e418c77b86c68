package sim

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventKind categorizes scheduled events.
type EventKind string

const (
	EventAgentAction      EventKind = "agent-action"
	EventWorld            EventKind = "world-event"
	EventScheduled        EventKind = "scheduled"
	EventUserIntervention EventKind = "user-intervention"
	EventSystem           EventKind = "system"
)

// Priority orders events sharing the same due time.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityNormal:   "normal",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

func (p Priority) String() string {
	if n, ok := priorityNames[p]; ok {
		return n
	}
	return "normal"
}

// ParsePriority maps a priority name to its level, defaulting to normal.
func ParsePriority(s string) Priority {
	for p, n := range priorityNames {
		if n == s {
			return p
		}
	}
	return PriorityNormal
}

var (
	ErrInvalidDueTime    = errors.New("event due time is required")
	ErrInvalidRecurrence = errors.New("invalid recurrence rule")
	ErrInvalidInterval   = errors.New("invalid interval string")
)

// RecurrenceRule describes how an event repeats. Occurrences fire at
// originalDueAt + interval × n (fixed phase), never at last-fire + interval,
// so a late drain does not introduce drift.
type RecurrenceRule struct {
	Interval       time.Duration `json:"interval"`
	EndAt          *time.Time    `json:"end_at,omitempty"`
	MaxOccurrences int           `json:"max_occurrences,omitempty"`
}

// ScheduledEvent is a one-time or recurring event keyed by (due time, priority).
type ScheduledEvent struct {
	ID         string          `json:"id"`
	Kind       EventKind       `json:"kind"`
	DueAt      time.Time       `json:"due_at"`
	Priority   Priority        `json:"priority"`
	Payload    map[string]any  `json:"payload,omitempty"`
	Recurrence *RecurrenceRule `json:"recurrence,omitempty"`

	// originalDueAt anchors fixed-phase recurrence; occurrences counts fires.
	originalDueAt time.Time
	occurrences   int
}

// QueueStats reports counters for observability.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Recurring int   `json:"recurring"`
	Scheduled int64 `json:"scheduled"`
	Drained   int64 `json:"drained"`
	Cancelled int64 `json:"cancelled"`
	Retired   int64 `json:"retired"`
}

// EventQueue is an ordered collection of scheduled events, sorted by
// (dueAt ascending, priority descending). A recurring event stays in the
// schedule until its recurrence terminates; a non-recurring event is
// removed exactly once, when drained or cancelled.
type EventQueue struct {
	mu     sync.Mutex
	events []*ScheduledEvent
	stats  QueueStats
	logger *zap.Logger
}

// NewEventQueue creates an empty event queue.
func NewEventQueue(logger *zap.Logger) *EventQueue {
	return &EventQueue{logger: logger}
}

// Schedule inserts a one-time event and returns its id.
func (q *EventQueue) Schedule(ev *ScheduledEvent) (string, error) {
	if ev.DueAt.IsZero() {
		return "", ErrInvalidDueTime
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Kind == "" {
		ev.Kind = EventScheduled
	}
	ev.Recurrence = nil
	ev.originalDueAt = ev.DueAt

	q.mu.Lock()
	q.insert(ev)
	q.stats.Scheduled++
	q.mu.Unlock()

	q.logger.Debug("event scheduled",
		zap.String("id", ev.ID),
		zap.String("kind", string(ev.Kind)),
		zap.Time("due_at", ev.DueAt))
	return ev.ID, nil
}

// ScheduleRecurring inserts a recurring event and returns its id.
func (q *EventQueue) ScheduleRecurring(ev *ScheduledEvent, rule RecurrenceRule) (string, error) {
	if ev.DueAt.IsZero() {
		return "", ErrInvalidDueTime
	}
	if rule.Interval <= 0 {
		return "", fmt.Errorf("%w: non-positive interval %v", ErrInvalidRecurrence, rule.Interval)
	}
	if rule.MaxOccurrences < 0 {
		return "", fmt.Errorf("%w: negative max occurrences", ErrInvalidRecurrence)
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Kind == "" {
		ev.Kind = EventScheduled
	}
	ev.Recurrence = &rule
	ev.originalDueAt = ev.DueAt

	q.mu.Lock()
	q.insert(ev)
	q.stats.Scheduled++
	q.mu.Unlock()

	q.logger.Debug("recurring event scheduled",
		zap.String("id", ev.ID),
		zap.Duration("interval", rule.Interval),
		zap.Time("first_due", ev.DueAt))
	return ev.ID, nil
}

// Cancel removes a queued occurrence and, for recurring events, stops
// future rescheduling. Returns whether anything was cancelled.
func (q *EventQueue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, ev := range q.events {
		if ev.ID == id {
			q.events = append(q.events[:i], q.events[i+1:]...)
			q.stats.Cancelled++
			return true
		}
	}
	return false
}

// DrainDue pops and returns every event whose due time is at or before now,
// in (dueAt, priority) order. Drained recurring events are re-inserted at
// their next fixed-phase occurrence unless the recurrence has terminated.
func (q *EventQueue) DrainDue(now time.Time) []*ScheduledEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	// The queue is sorted, so the due events form a prefix.
	n := 0
	for n < len(q.events) && !q.events[n].DueAt.After(now) {
		n++
	}
	if n == 0 {
		return nil
	}

	due := make([]*ScheduledEvent, n)
	copy(due, q.events[:n])
	q.events = q.events[n:]
	q.stats.Drained += int64(n)

	for _, ev := range due {
		if ev.Recurrence == nil {
			continue
		}
		ev.occurrences++
		if next, ok := q.nextOccurrence(ev); ok {
			re := *ev
			re.DueAt = next
			q.insert(&re)
		} else {
			q.stats.Retired++
			q.logger.Debug("recurrence retired",
				zap.String("id", ev.ID),
				zap.Int("occurrences", ev.occurrences))
		}
	}
	return due
}

// nextOccurrence computes the next fixed-phase due time, or false when the
// recurrence has run out of occurrences or passed its end time.
func (q *EventQueue) nextOccurrence(ev *ScheduledEvent) (time.Time, bool) {
	rule := ev.Recurrence
	if rule.MaxOccurrences > 0 && ev.occurrences >= rule.MaxOccurrences {
		return time.Time{}, false
	}
	next := ev.originalDueAt.Add(rule.Interval * time.Duration(ev.occurrences))
	if rule.EndAt != nil && next.After(*rule.EndAt) {
		return time.Time{}, false
	}
	return next, true
}

// PeekUpcoming returns up to n upcoming events without removing them.
func (q *EventQueue) PeekUpcoming(n int) []*ScheduledEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 || n > len(q.events) {
		n = len(q.events)
	}
	out := make([]*ScheduledEvent, n)
	copy(out, q.events[:n])
	return out
}

// Stats returns queue counters.
func (q *EventQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Pending = len(q.events)
	for _, ev := range q.events {
		if ev.Recurrence != nil {
			s.Recurring++
		}
	}
	return s
}

// insert places ev at its binary-search position. Caller must hold q.mu.
func (q *EventQueue) insert(ev *ScheduledEvent) {
	i := sort.Search(len(q.events), func(i int) bool {
		e := q.events[i]
		if !e.DueAt.Equal(ev.DueAt) {
			return e.DueAt.After(ev.DueAt)
		}
		return e.Priority < ev.Priority // higher priority first within a due time
	})
	q.events = append(q.events, nil)
	copy(q.events[i+1:], q.events[i:])
	q.events[i] = ev
}

var intervalRe = regexp.MustCompile(`^(\d+)(s|m|h|d)$`)

// ParseInterval parses interval strings like "30m", "1h", "2d" into a
// duration. Days are not supported by time.ParseDuration, hence the
// dedicated parser.
func ParseInterval(s string) (time.Duration, error) {
	m := intervalRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}
	var unit time.Duration
	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}
	return time.Duration(n) * unit, nil
}

var dailyRe = regexp.MustCompile(`^(\d{2}):(\d{2})$`)

// ParseDailyTrigger resolves a wall-clock trigger like "06:00" to the next
// simulated instant at that time of day, rolling to the next day if the
// time has already passed.
func ParseDailyTrigger(s string, now time.Time) (time.Time, error) {
	m := dailyRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next, nil
}
