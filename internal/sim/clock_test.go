package sim

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClock(t *testing.T, tickRateHz, multiplier float64, origin time.Time) *Clock {
	t.Helper()
	c, err := NewClock(tickRateHz, multiplier, origin, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClock: %v", err)
	}
	c.running = true // drive steps directly, no ticker goroutine
	return c
}

func TestNewClockValidation(t *testing.T) {
	origin := time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)
	if _, err := NewClock(0, 60, origin, zap.NewNop()); err == nil {
		t.Error("expected error for zero tick rate")
	}
	if _, err := NewClock(-1, 60, origin, zap.NewNop()); err == nil {
		t.Error("expected error for negative tick rate")
	}
	if _, err := NewClock(1, 0, origin, zap.NewNop()); err == nil {
		t.Error("expected error for zero multiplier")
	}
	if _, err := NewClock(1, -5, origin, zap.NewNop()); err == nil {
		t.Error("expected error for negative multiplier")
	}
}

func TestStepMultiplier(t *testing.T) {
	origin := time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)
	c := newTestClock(t, 10, 60, origin)

	// 10 steps of 100ms wall time at 60x should advance exactly 60s.
	for i := 0; i < 10; i++ {
		c.step(100 * time.Millisecond)
	}
	want := origin.Add(60 * time.Second)
	if got := c.Now(); !got.Equal(want) {
		t.Errorf("simulated time = %v, want %v", got, want)
	}
	if c.State().TicksElapsed != 10 {
		t.Errorf("ticks = %d, want 10", c.State().TicksElapsed)
	}
}

func TestStepRemainderAccumulates(t *testing.T) {
	origin := time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)
	c := newTestClock(t, 1, 1.5, origin)

	// 1ns wall at 1.5x produces a fractional remainder that must not be
	// dropped: after two steps exactly 3ns have passed.
	c.step(time.Nanosecond)
	c.step(time.Nanosecond)
	want := origin.Add(3 * time.Nanosecond)
	if got := c.Now(); !got.Equal(want) {
		t.Errorf("simulated time = %v, want %v", got, want)
	}
}

func TestStepMonotonic(t *testing.T) {
	origin := time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)
	c := newTestClock(t, 10, 3.7, origin)

	prev := c.Now()
	for i := 0; i < 1000; i++ {
		c.step(time.Millisecond)
		now := c.Now()
		if now.Before(prev) {
			t.Fatalf("simulated time went backwards: %v -> %v", prev, now)
		}
		prev = now
	}
}

func TestPauseFreezesTime(t *testing.T) {
	origin := time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)
	c := newTestClock(t, 10, 60, origin)

	c.step(100 * time.Millisecond)
	c.Pause()
	frozen := c.Now()
	c.step(100 * time.Millisecond)
	c.step(100 * time.Millisecond)
	if got := c.Now(); !got.Equal(frozen) {
		t.Errorf("time advanced while paused: %v -> %v", frozen, got)
	}

	c.Resume()
	c.step(100 * time.Millisecond)
	if got := c.Now(); !got.After(frozen) {
		t.Error("time did not advance after resume")
	}
}

func TestSetSpeedNotRetroactive(t *testing.T) {
	origin := time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)
	c := newTestClock(t, 10, 60, origin)

	c.step(time.Second) // 60s at 60x
	if err := c.SetSpeed(120); err != nil {
		t.Fatalf("SetSpeed: %v", err)
	}
	c.step(time.Second) // 120s at 120x

	want := origin.Add(180 * time.Second)
	if got := c.Now(); !got.Equal(want) {
		t.Errorf("simulated time = %v, want %v", got, want)
	}

	if err := c.SetSpeed(0); err == nil {
		t.Error("expected error for zero multiplier")
	}
}

func TestSkipTime(t *testing.T) {
	origin := time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)
	c := newTestClock(t, 10, 60, origin)

	var ticks int
	var skippedDur time.Duration
	var skippedTo time.Time
	c.AddListener(&recordingListener{
		onTick: func(Tick) { ticks++ },
		onSkip: func(d time.Duration, now time.Time) {
			skippedDur = d
			skippedTo = now
		},
	})

	if err := c.SkipTime(30); err != nil {
		t.Fatalf("SkipTime: %v", err)
	}
	if ticks != 0 {
		t.Errorf("skip emitted %d ticks, want 0", ticks)
	}
	if skippedDur != 30*time.Minute {
		t.Errorf("skipped = %v, want 30m", skippedDur)
	}
	want := origin.Add(30 * time.Minute)
	if !skippedTo.Equal(want) || !c.Now().Equal(want) {
		t.Errorf("skipped to %v, clock at %v, want %v", skippedTo, c.Now(), want)
	}

	if err := c.SkipTime(0); err == nil {
		t.Error("expected error for zero skip")
	}
	if err := c.SkipTime(-5); err == nil {
		t.Error("expected error for negative skip")
	}
}

type recordingListener struct {
	onTick func(Tick)
	onSkip func(time.Duration, time.Time)
}

func (r *recordingListener) OnTick(t Tick) { r.onTick(t) }
func (r *recordingListener) OnTimeSkipped(d time.Duration, now time.Time) {
	r.onSkip(d, now)
}

func TestPhaseOf(t *testing.T) {
	cases := []struct {
		hour int
		want DayPhase
	}{
		{0, PhaseNight},
		{4, PhaseNight},
		{5, PhaseDawn},
		{6, PhaseDawn},
		{7, PhaseMorning},
		{11, PhaseMorning},
		{12, PhaseAfternoon},
		{17, PhaseAfternoon},
		{18, PhaseEvening},
		{20, PhaseEvening},
		{21, PhaseNight},
		{23, PhaseNight},
	}
	for _, tc := range cases {
		at := time.Date(2026, 6, 1, tc.hour, 30, 0, 0, time.UTC)
		if got := PhaseOf(at); got != tc.want {
			t.Errorf("PhaseOf(hour=%d) = %s, want %s", tc.hour, got, tc.want)
		}
	}
}

func TestStartIdempotent(t *testing.T) {
	origin := time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)
	c, err := NewClock(100, 1, origin, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClock: %v", err)
	}
	c.Start()
	c.Start() // no-op, must not panic or double the loop
	c.Stop()
	c.Stop() // no-op
}
