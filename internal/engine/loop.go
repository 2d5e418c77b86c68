package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/vivarium/internal/sim"
	"github.com/nidhogg/vivarium/internal/world"
)

// LoopState is the simulation loop's lifecycle state.
type LoopState string

const (
	LoopStopped LoopState = "stopped"
	LoopRunning LoopState = "running"
	LoopPaused  LoopState = "paused"
)

// Defaults for the parallelism boundary: agents are processed in
// fixed-size batches, sequentially batch by batch, concurrently within a
// batch up to the semaphore limit. This bounds simultaneous outbound
// cognition calls.
const (
	DefaultBatchSize     = 10
	DefaultMaxConcurrent = 5
	DefaultAgentTimeout  = 30 * time.Second
	tickStatsWindow      = 100
)

// AgentProcessor runs one agent through the cognitive pipeline against a
// world snapshot, mutating the passed agent copy in place.
type AgentProcessor interface {
	Process(ctx context.Context, snapshot *world.State, agent *world.Agent) error
}

// AgentSummary is the per-agent slice of a change notification.
type AgentSummary struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Location      world.Location `json:"location"`
	CurrentAction string         `json:"current_action"`
}

// ChangeNotification is the structured payload emitted after each tick.
type ChangeNotification struct {
	WorldID     string         `json:"world_id"`
	CurrentTime time.Time      `json:"current_time"`
	Version     uint64         `json:"version"`
	Agents      []AgentSummary `json:"agents"`
}

// Notifier receives change notifications. Publication is best-effort.
type Notifier interface {
	PublishChange(ctx context.Context, n ChangeNotification) error
}

// AgentError records one agent's isolated failure within a tick.
type AgentError struct {
	AgentID string `json:"agent_id"`
	Err     string `json:"error"`
}

// TickResult reports what one tick accomplished. Errors list the agents
// whose pipelines failed; their siblings and the tick itself still succeed.
type TickResult struct {
	Tick          sim.Tick      `json:"tick"`
	Processed     int           `json:"processed"`
	Errors        []AgentError  `json:"errors"`
	EventsApplied int           `json:"events_applied"`
	Version       uint64        `json:"version"`
	Duration      time.Duration `json:"duration"`
}

// TickStats is the rolling tick-duration window.
type TickStats struct {
	Ticks   uint64        `json:"ticks"`
	Dropped uint64        `json:"dropped"`
	Window  int           `json:"window"`
	Average time.Duration `json:"average"`
	Max     time.Duration `json:"max"`
	Last    time.Duration `json:"last"`
}

// LoopConfig tunes the loop.
type LoopConfig struct {
	BatchSize     int           `json:"batch_size"`
	MaxConcurrent int           `json:"max_concurrent"`
	AgentTimeout  time.Duration `json:"agent_timeout"`
}

// Loop is the top-level simulation driver. Each tick it drains due events,
// folds them into the world, runs active agents through the processor in
// bounded-concurrency batches, commits the mutated world state, and emits
// a change notification.
type Loop struct {
	clock     *sim.Clock
	queue     *sim.EventQueue
	worldMgr  *world.Manager
	processor AgentProcessor
	notifier  Notifier

	batchSize     int
	maxConcurrent int
	agentTimeout  time.Duration

	mu        sync.RWMutex
	state     LoopState
	last      *TickResult
	durations []time.Duration
	ticks     uint64
	dropped   uint64

	busy   atomic.Bool
	logger *zap.Logger
}

// NewLoop composes the simulation loop and registers it on the clock.
func NewLoop(clock *sim.Clock, queue *sim.EventQueue, mgr *world.Manager, processor AgentProcessor, notifier Notifier, cfg LoopConfig, logger *zap.Logger) *Loop {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = DefaultAgentTimeout
	}
	l := &Loop{
		clock:         clock,
		queue:         queue,
		worldMgr:      mgr,
		processor:     processor,
		notifier:      notifier,
		batchSize:     cfg.BatchSize,
		maxConcurrent: cfg.MaxConcurrent,
		agentTimeout:  cfg.AgentTimeout,
		state:         LoopStopped,
		logger:        logger,
	}
	clock.AddListener(l)
	return l
}

// Start moves the loop to running and starts the clock. Idempotent while
// running.
func (l *Loop) Start() {
	l.mu.Lock()
	if l.state == LoopRunning {
		l.mu.Unlock()
		l.logger.Debug("loop already running, start ignored")
		return
	}
	l.state = LoopRunning
	l.mu.Unlock()

	l.clock.Start()
	l.logger.Info("simulation loop started",
		zap.Int("batch_size", l.batchSize),
		zap.Int("max_concurrent", l.maxConcurrent))
}

// Pause stops new batch dispatch promptly; in-flight agent calls complete
// or time out on their own deadlines.
func (l *Loop) Pause() {
	l.mu.Lock()
	if l.state != LoopRunning {
		l.mu.Unlock()
		return
	}
	l.state = LoopPaused
	l.mu.Unlock()
	l.clock.Pause()
	l.logger.Info("simulation loop paused")
}

// Resume continues a paused loop.
func (l *Loop) Resume() {
	l.mu.Lock()
	if l.state != LoopPaused {
		l.mu.Unlock()
		return
	}
	l.state = LoopRunning
	l.mu.Unlock()
	l.clock.Resume()
	l.logger.Info("simulation loop resumed")
}

// Stop halts the loop and the clock.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.state == LoopStopped {
		l.mu.Unlock()
		return
	}
	l.state = LoopStopped
	l.mu.Unlock()
	l.clock.Stop()
	l.logger.Info("simulation loop stopped")
}

// State returns the loop's lifecycle state.
func (l *Loop) State() LoopState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// LastResult returns the most recent tick result, or nil.
func (l *Loop) LastResult() *TickResult {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.last
}

// Stats returns the rolling tick-duration statistics.
func (l *Loop) Stats() TickStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := TickStats{
		Ticks:   l.ticks,
		Dropped: l.dropped,
		Window:  len(l.durations),
	}
	if len(l.durations) == 0 {
		return s
	}
	var sum time.Duration
	for _, d := range l.durations {
		sum += d
		if d > s.Max {
			s.Max = d
		}
	}
	s.Average = sum / time.Duration(len(l.durations))
	s.Last = l.durations[len(l.durations)-1]
	return s
}

// OnTick implements ClockListener. If the previous tick is still being
// processed the new tick is dropped and logged — ticks must never pile up.
func (l *Loop) OnTick(t sim.Tick) {
	l.mu.RLock()
	running := l.state == LoopRunning
	l.mu.RUnlock()
	if !running {
		return
	}

	if !l.busy.CompareAndSwap(false, true) {
		l.mu.Lock()
		l.dropped++
		l.mu.Unlock()
		l.logger.Warn("previous tick still processing, dropping tick",
			zap.Uint64("tick", t.TicksElapsed))
		return
	}
	defer l.busy.Store(false)

	result := l.runTick(t)

	l.mu.Lock()
	l.last = result
	l.ticks++
	l.durations = append(l.durations, result.Duration)
	if len(l.durations) > tickStatsWindow {
		l.durations = l.durations[1:]
	}
	l.mu.Unlock()

	if len(result.Errors) > 0 {
		l.logger.Warn("tick completed with agent errors",
			zap.Uint64("tick", t.TicksElapsed),
			zap.Int("processed", result.Processed),
			zap.Int("errors", len(result.Errors)))
	} else {
		l.logger.Debug("tick completed",
			zap.Uint64("tick", t.TicksElapsed),
			zap.Int("processed", result.Processed),
			zap.Duration("duration", result.Duration))
	}
}

// OnTimeSkipped implements SkipListener: a skip moves the world clock
// reading without running a tick.
func (l *Loop) OnTimeSkipped(_ time.Duration, now time.Time) {
	l.worldMgr.SetTime(now)
}

// runTick executes one full tick: events first, then agents, then a single
// committed write and notification.
func (l *Loop) runTick(t sim.Tick) *TickResult {
	start := time.Now()
	result := &TickResult{Tick: t}

	snapshot := l.worldMgr.Snapshot()
	snapshot.CurrentTime = t.SimulatedTime

	// Due events fold into the snapshot before any agent observes it.
	due := l.queue.DrainDue(t.SimulatedTime)
	eventTouched := make(map[string]struct{})
	for _, ev := range due {
		l.applyEvent(snapshot, ev, eventTouched)
	}
	result.EventsApplied = len(due)

	agents := snapshot.ActiveAgents()
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })

	processed := make(map[string]*world.Agent, len(agents))
	var resMu sync.Mutex

	sem := make(chan struct{}, l.maxConcurrent)
	for i := 0; i < len(agents); i += l.batchSize {
		if l.State() != LoopRunning {
			break // pause/stop halts new batch dispatch promptly
		}
		end := i + l.batchSize
		if end > len(agents) {
			end = len(agents)
		}
		batch := agents[i:end]

		var wg sync.WaitGroup
		for _, a := range batch {
			wg.Add(1)
			go func(a *world.Agent) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				ctx, cancel := context.WithTimeout(context.Background(), l.agentTimeout)
				defer cancel()

				cp := a.Clone()
				err := l.process(ctx, snapshot, cp)

				resMu.Lock()
				defer resMu.Unlock()
				if err != nil {
					result.Errors = append(result.Errors, AgentError{AgentID: a.ID, Err: err.Error()})
					return
				}
				result.Processed++
				processed[cp.ID] = cp
			}(a)
		}
		wg.Wait()
	}

	sort.Slice(result.Errors, func(i, j int) bool {
		return result.Errors[i].AgentID < result.Errors[j].AgentID
	})

	// Single end-of-pipeline commit: event effects plus successful agent
	// mutations land together, so readers never see a partial tick.
	result.Version = l.worldMgr.Update(func(s *world.State) {
		s.CurrentTime = t.SimulatedTime
		s.Weather = snapshot.Weather
		s.GlobalEffects = append([]string(nil), snapshot.GlobalEffects...)
		for id, cp := range processed {
			if _, ok := s.Agents[id]; ok {
				cp.UpdatedAt = t.SimulatedTime
				s.Agents[id] = cp
			}
		}
		// Event-driven agent changes commit even when the agent's pipeline
		// failed or the agent is inactive; processed clones carry them
		// already.
		for id := range eventTouched {
			if _, ok := processed[id]; ok {
				continue
			}
			sa, ok := snapshot.Agents[id]
			if !ok {
				continue
			}
			if cur, ok := s.Agents[id]; ok {
				cur.CurrentAction = sa.CurrentAction
				cur.Location = sa.Location
				cur.UpdatedAt = t.SimulatedTime
			}
		}
	})

	if l.notifier != nil {
		final := l.worldMgr.Snapshot()
		n := ChangeNotification{
			WorldID:     final.WorldID,
			CurrentTime: final.CurrentTime,
			Version:     final.Version,
		}
		for _, a := range final.ActiveAgents() {
			n.Agents = append(n.Agents, AgentSummary{
				ID:            a.ID,
				Name:          a.Name,
				Location:      a.Location,
				CurrentAction: a.CurrentAction,
			})
		}
		sort.Slice(n.Agents, func(i, j int) bool { return n.Agents[i].ID < n.Agents[j].ID })
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.notifier.PublishChange(ctx, n); err != nil {
			l.logger.Warn("change notification failed", zap.Error(err))
		}
		cancel()
	}

	result.Duration = time.Since(start)
	return result
}

// process isolates a single agent's pipeline run, converting panics into
// recorded errors so one agent cannot abort its batch.
func (l *Loop) process(ctx context.Context, snapshot *world.State, agent *world.Agent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent pipeline panic: %v", r)
		}
	}()
	return l.processor.Process(ctx, snapshot, agent)
}

// applyEvent folds an event payload into the snapshot, recording touched
// agent ids. Unknown payload shapes are logged and skipped: a malformed
// event cannot fail the tick.
func (l *Loop) applyEvent(s *world.State, ev *sim.ScheduledEvent, touched map[string]struct{}) {
	for key, val := range ev.Payload {
		switch key {
		case "weather":
			if w, ok := val.(string); ok {
				s.Weather = w
			}
		case "global_effect":
			if g, ok := val.(string); ok {
				s.GlobalEffects = append(s.GlobalEffects, g)
			}
		case "agent_action":
			m, ok := val.(map[string]any)
			if !ok {
				continue
			}
			id, _ := m["agent_id"].(string)
			action, _ := m["action"].(string)
			if a, found := s.Agents[id]; found && action != "" {
				a.CurrentAction = action
				touched[id] = struct{}{}
			}
		case "agent_move":
			m, ok := val.(map[string]any)
			if !ok {
				continue
			}
			id, _ := m["agent_id"].(string)
			area, _ := m["area"].(string)
			if a, found := s.Agents[id]; found && area != "" {
				a.Location.Area = area
				if loc, known := s.Locations[area]; known {
					a.Location = loc
				}
				touched[id] = struct{}{}
			}
		default:
			l.logger.Debug("unhandled event payload key",
				zap.String("event", ev.ID), zap.String("key", key))
		}
	}
}
