package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DayPhase buckets the simulated hour of day.
type DayPhase string

const (
	PhaseDawn      DayPhase = "dawn"
	PhaseMorning   DayPhase = "morning"
	PhaseAfternoon DayPhase = "afternoon"
	PhaseEvening   DayPhase = "evening"
	PhaseNight     DayPhase = "night"
)

// PhaseOf returns the day phase for a simulated instant.
// Buckets: dawn [5,7), morning [7,12), afternoon [12,18), evening [18,21), night otherwise.
func PhaseOf(t time.Time) DayPhase {
	switch h := t.Hour(); {
	case h >= 5 && h < 7:
		return PhaseDawn
	case h >= 7 && h < 12:
		return PhaseMorning
	case h >= 12 && h < 18:
		return PhaseAfternoon
	case h >= 18 && h < 21:
		return PhaseEvening
	default:
		return PhaseNight
	}
}

var (
	ErrInvalidTickRate   = errors.New("tick rate must be positive")
	ErrInvalidMultiplier = errors.New("time multiplier must be positive")
	ErrInvalidSkip       = errors.New("skip amount must be positive")
)

// Tick describes one discrete advance of simulated time.
type Tick struct {
	SimulatedTime  time.Time
	TicksElapsed   uint64
	DeltaSimulated time.Duration
}

// ClockListener receives simulated time ticks.
type ClockListener interface {
	OnTick(t Tick)
}

// ListenerFunc adapts a plain function to the ClockListener interface.
type ListenerFunc func(t Tick)

func (f ListenerFunc) OnTick(t Tick) { f(t) }

// SkipListener receives time-skip notifications. Skips do not emit ticks;
// listeners that care about discontinuous jumps implement this as well.
type SkipListener interface {
	OnTimeSkipped(skipped time.Duration, now time.Time)
}

// ClockState is a read-only snapshot of the clock.
type ClockState struct {
	WallClockOrigin time.Time     `json:"wall_clock_origin"`
	SimulatedTime   time.Time     `json:"simulated_time"`
	Multiplier      float64       `json:"multiplier"`
	TickRateHz      float64       `json:"tick_rate_hz"`
	Paused          bool          `json:"paused"`
	Running         bool          `json:"running"`
	TicksElapsed    uint64        `json:"ticks_elapsed"`
	DayPhase        DayPhase      `json:"day_phase"`
	TickInterval    time.Duration `json:"tick_interval"`
}

// Clock converts wall-clock elapsed time into simulated time at a
// configurable multiplier. It emits ticks at a fixed wall-clock rate and
// supports pause/resume and instantaneous time-skip. Simulated time is
// monotonically non-decreasing while running.
type Clock struct {
	interval   time.Duration
	tickRateHz float64

	mu            sync.RWMutex
	multiplier    float64
	simTime       time.Time
	wallOrigin    time.Time
	lastWall      time.Time
	remainder     float64 // fractional simulated nanoseconds not yet drained
	ticksElapsed  uint64
	paused        bool
	running       bool
	listeners     []ClockListener
	skipListeners []SkipListener

	cancel context.CancelFunc
	logger *zap.Logger
}

// NewClock creates a clock ticking at tickRateHz wall-clock frequency with
// the given simulated-time multiplier and origin. Misconfiguration is
// rejected here, before Start is reachable.
func NewClock(tickRateHz, multiplier float64, origin time.Time, logger *zap.Logger) (*Clock, error) {
	if tickRateHz <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTickRate, tickRateHz)
	}
	if multiplier <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMultiplier, multiplier)
	}
	return &Clock{
		interval:   time.Duration(float64(time.Second) / tickRateHz),
		tickRateHz: tickRateHz,
		multiplier: multiplier,
		simTime:    origin,
		logger:     logger,
	}, nil
}

// AddListener registers a tick listener.
func (c *Clock) AddListener(l ClockListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
	if sl, ok := l.(SkipListener); ok {
		c.skipListeners = append(c.skipListeners, sl)
	}
}

// Start begins emitting ticks. Calling Start while already running is a no-op.
func (c *Clock) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.logger.Debug("clock already running, start ignored")
		return
	}
	c.running = true
	c.paused = false
	now := time.Now()
	c.wallOrigin = now
	c.lastWall = now
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	go c.loop(ctx)
	c.logger.Info("clock started",
		zap.Float64("tick_rate_hz", c.tickRateHz),
		zap.Float64("multiplier", c.Multiplier()))
}

// Stop halts tick emission entirely.
func (c *Clock) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		c.logger.Debug("clock not running, stop ignored")
		return
	}
	c.running = false
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.logger.Info("clock stopped")
}

// Pause freezes simulated time. Pausing an already paused clock is a no-op.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.logger.Debug("clock already paused, pause ignored")
		return
	}
	c.paused = true
	c.logger.Info("clock paused", zap.Time("simulated_time", c.simTime))
}

// Resume unfreezes simulated time. Resuming a running clock is a no-op.
func (c *Clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		c.logger.Debug("clock not paused, resume ignored")
		return
	}
	c.paused = false
	c.lastWall = time.Now()
	c.logger.Info("clock resumed", zap.Time("simulated_time", c.simTime))
}

// SetSpeed changes the time multiplier. Takes effect on the next tick and
// never retroactively changes elapsed simulated time.
func (c *Clock) SetSpeed(multiplier float64) error {
	if multiplier <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidMultiplier, multiplier)
	}
	c.mu.Lock()
	c.multiplier = multiplier
	c.mu.Unlock()
	c.logger.Info("clock speed changed", zap.Float64("multiplier", multiplier))
	return nil
}

// SkipTime jumps simulated time forward by the given number of minutes.
// The jump is immediate and synchronous: no tick is emitted, but skip
// listeners are notified.
func (c *Clock) SkipTime(minutes float64) error {
	if minutes <= 0 {
		return fmt.Errorf("%w: %v minutes", ErrInvalidSkip, minutes)
	}
	skipped := time.Duration(minutes * float64(time.Minute))

	c.mu.Lock()
	c.simTime = c.simTime.Add(skipped)
	now := c.simTime
	skipListeners := make([]SkipListener, len(c.skipListeners))
	copy(skipListeners, c.skipListeners)
	c.mu.Unlock()

	for _, l := range skipListeners {
		l.OnTimeSkipped(skipped, now)
	}
	c.logger.Info("time skipped",
		zap.Duration("skipped", skipped),
		zap.Time("simulated_time", now))
	return nil
}

// State returns a snapshot of the clock.
func (c *Clock) State() ClockState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ClockState{
		WallClockOrigin: c.wallOrigin,
		SimulatedTime:   c.simTime,
		Multiplier:      c.multiplier,
		TickRateHz:      c.tickRateHz,
		Paused:          c.paused,
		Running:         c.running,
		TicksElapsed:    c.ticksElapsed,
		DayPhase:        PhaseOf(c.simTime),
		TickInterval:    c.interval,
	}
}

// Now returns the current simulated time.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.simTime
}

// Multiplier returns the current time multiplier.
func (c *Clock) Multiplier() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.multiplier
}

// TimeOfDay returns the current day phase.
func (c *Clock) TimeOfDay() DayPhase {
	return PhaseOf(c.Now())
}

func (c *Clock) loop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			deltaWall := now.Sub(c.lastWall)
			c.lastWall = now
			c.mu.Unlock()
			c.step(deltaWall)
		}
	}
}

// step advances simulated time by deltaWall × multiplier and emits one tick.
// The fractional remainder is accumulated and drained, never truncated away,
// so no simulated time is lost or double-counted across ticks.
func (c *Clock) step(deltaWall time.Duration) {
	c.mu.Lock()
	if c.paused || !c.running {
		c.mu.Unlock()
		return
	}

	c.remainder += float64(deltaWall) * c.multiplier
	advance := time.Duration(c.remainder)
	c.remainder -= float64(advance)

	c.simTime = c.simTime.Add(advance)
	c.ticksElapsed++
	tick := Tick{
		SimulatedTime:  c.simTime,
		TicksElapsed:   c.ticksElapsed,
		DeltaSimulated: advance,
	}
	listeners := make([]ClockListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		l.OnTick(tick)
	}
}
