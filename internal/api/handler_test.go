package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/vivarium/internal/cognition"
	"github.com/nidhogg/vivarium/internal/dialogue"
	"github.com/nidhogg/vivarium/internal/engine"
	"github.com/nidhogg/vivarium/internal/memory"
	"github.com/nidhogg/vivarium/internal/plan"
	"github.com/nidhogg/vivarium/internal/relation"
	"github.com/nidhogg/vivarium/internal/sim"
	"github.com/nidhogg/vivarium/internal/world"
)

var apiOrigin = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

// offlineCognition fails every operation, exercising the degraded paths.
type offlineCognition struct{}

func (offlineCognition) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("offline")
}
func (offlineCognition) ScoreImportance(context.Context, string, string) (int, error) {
	return 0, errors.New("offline")
}
func (offlineCognition) SynthesizeReflection(context.Context, []cognition.MemoryExcerpt, string) (*cognition.Reflection, error) {
	return nil, errors.New("offline")
}
func (offlineCognition) GeneratePlan(context.Context, cognition.PlanRequest) (*cognition.PlanResult, error) {
	return nil, errors.New("offline")
}
func (offlineCognition) GenerateUtterance(context.Context, cognition.UtteranceRequest) (*cognition.Utterance, error) {
	return nil, errors.New("offline")
}

// newTestHandler creates a Handler wired with lightweight in-memory deps (no
// Postgres/Neo4j/Redis/Qdrant).
func newTestHandler(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	logger := zap.NewNop()
	svc := offlineCognition{}

	clock, err := sim.NewClock(0.0001, 60, apiOrigin, logger)
	if err != nil {
		t.Fatalf("NewClock: %v", err)
	}
	queue := sim.NewEventQueue(logger)

	mgr := world.NewManager(&world.State{
		WorldID:     "testworld",
		CurrentTime: apiOrigin,
		Weather:     "clear",
	}, 0, logger)

	mems := memory.NewStore(memory.DefaultWeights(), logger)
	reflections := memory.NewReflectionTrigger(mems, svc, memory.DefaultReflectionConfig(), logger)
	rels := relation.NewInMemory()
	dialogues := dialogue.NewCoordinator(svc, rels, mems, nil, clock.Now, logger)

	planner := plan.NewPlanner(svc, logger)
	pipeline := engine.NewPipeline(mems, reflections, planner, dialogues, rels, svc, logger)
	loop := engine.NewLoop(clock, queue, mgr, pipeline, nil, engine.LoopConfig{}, logger)
	t.Cleanup(loop.Stop)

	h := NewHandler(clock, queue, loop, mgr, mems, reflections, dialogues, rels, logger)
	return h, h.Router()
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func deleteReq(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest("DELETE", ts.URL+path, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	return resp
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
	if body["loop"] != "stopped" {
		t.Errorf("expected loop stopped, got %q", body["loop"])
	}
}

func TestGetWorld(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/world")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var state world.State
	decodeJSON(t, resp, &state)
	if state.WorldID != "testworld" || state.Weather != "clear" {
		t.Errorf("world = %s/%s, want testworld/clear", state.WorldID, state.Weather)
	}
}

func TestRevertWorld(t *testing.T) {
	h, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	// Nothing to revert yet.
	resp := postJSON(t, ts, "/api/world/revert", nil)
	if resp.StatusCode != 409 {
		t.Fatalf("empty history: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	h.worldMgr.Update(func(s *world.State) { s.Weather = "rain" })

	resp = postJSON(t, ts, "/api/world/revert", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("revert: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	if got := h.worldMgr.Snapshot().Weather; got != "clear" {
		t.Errorf("weather after revert = %q, want clear", got)
	}
}

func TestClockControls(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/clock")
	if resp.StatusCode != 200 {
		t.Fatalf("clock state: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Speed must be positive.
	resp = postJSON(t, ts, "/api/clock/speed", map[string]float64{"multiplier": 0})
	if resp.StatusCode != 400 {
		t.Errorf("zero speed: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/clock/speed", map[string]float64{"multiplier": 120})
	if resp.StatusCode != 200 {
		t.Errorf("set speed: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Skips must move forward.
	resp = postJSON(t, ts, "/api/clock/skip", map[string]float64{"minutes": -5})
	if resp.StatusCode != 400 {
		t.Errorf("negative skip: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/clock/skip", map[string]float64{"minutes": 30})
	if resp.StatusCode != 200 {
		t.Fatalf("skip: expected 200, got %d", resp.StatusCode)
	}
	var state sim.ClockState
	decodeJSON(t, resp, &state)
	want := apiOrigin.Add(30 * time.Minute)
	if !state.SimulatedTime.Equal(want) {
		t.Errorf("simulated time = %v, want %v", state.SimulatedTime, want)
	}
}

func TestSimulationLifecycle(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/simulation/start", nil)
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "running" {
		t.Errorf("after start, status = %q", body["status"])
	}

	resp = getJSON(t, ts, "/api/simulation/stats")
	if resp.StatusCode != 200 {
		t.Fatalf("stats: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/simulation/stop", nil)
	decodeJSON(t, resp, &body)
	if body["status"] != "stopped" {
		t.Errorf("after stop, status = %q", body["status"])
	}
}

func TestAgentCRUD(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	// Name is required.
	resp := postJSON(t, ts, "/api/agents", map[string]interface{}{"goals": []string{"wander"}})
	if resp.StatusCode != 400 {
		t.Fatalf("missing name: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/agents", map[string]interface{}{
		"name":     "Mara",
		"location": map[string]interface{}{"area": "plaza", "x": 1.0, "y": 2.0},
		"goals":    []string{"open a cafe"},
		"traits":   []string{"curious"},
	})
	if resp.StatusCode != 201 {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	var created world.Agent
	decodeJSON(t, resp, &created)
	if created.ID == "" || created.WorldID != "testworld" || created.Status != world.StatusActive {
		t.Errorf("created = %+v", created)
	}

	resp = getJSON(t, ts, "/api/agents/"+created.ID)
	if resp.StatusCode != 200 {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	var fetched world.Agent
	decodeJSON(t, resp, &fetched)
	if fetched.Name != "Mara" || fetched.Location.Area != "plaza" {
		t.Errorf("fetched = %+v", fetched)
	}

	resp = getJSON(t, ts, "/api/agents")
	var listed []world.Agent
	decodeJSON(t, resp, &listed)
	if len(listed) != 1 {
		t.Fatalf("listed %d agents, want 1", len(listed))
	}

	// Soft delete: gone from the active list but the record survives.
	resp = deleteReq(t, ts, "/api/agents/"+created.ID)
	if resp.StatusCode != 200 {
		t.Fatalf("delete: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/agents")
	decodeJSON(t, resp, &listed)
	if len(listed) != 0 {
		t.Errorf("deleted agent still listed")
	}
	resp = getJSON(t, ts, "/api/agents/"+created.ID)
	var afterDelete world.Agent
	decodeJSON(t, resp, &afterDelete)
	if afterDelete.Status != world.StatusDeleted {
		t.Errorf("status = %q, want deleted", afterDelete.Status)
	}

	resp = getJSON(t, ts, "/api/agents/nope")
	if resp.StatusCode != 404 {
		t.Errorf("unknown agent: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAgentMemories(t *testing.T) {
	h, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	for _, content := range []string{"saw the market open", "heard thunder"} {
		if err := h.memories.Append(context.Background(), &memory.Record{
			AgentID:   "a1",
			WorldID:   "testworld",
			Content:   content,
			CreatedAt: apiOrigin,
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	resp := getJSON(t, ts, "/api/agents/a1/memories")
	var recs []memory.Record
	decodeJSON(t, resp, &recs)
	if len(recs) != 2 {
		t.Fatalf("memories = %d, want 2", len(recs))
	}

	// Retrieval without a query is rejected.
	resp = postJSON(t, ts, "/api/agents/a1/memories/retrieve", map[string]string{})
	if resp.StatusCode != 400 {
		t.Errorf("empty query: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/agents/a1/memories/retrieve", map[string]interface{}{
		"query": "weather", "top_n": 1,
	})
	if resp.StatusCode != 200 {
		t.Fatalf("retrieve: expected 200, got %d", resp.StatusCode)
	}
	var scored []memory.Scored
	decodeJSON(t, resp, &scored)
	if len(scored) != 1 {
		t.Errorf("retrieved %d, want 1", len(scored))
	}
}

func TestForceReflectionUnprocessable(t *testing.T) {
	h, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	h.worldMgr.Update(func(s *world.State) {
		s.Agents["a1"] = &world.Agent{ID: "a1", WorldID: "testworld", Name: "Mara", Status: world.StatusActive}
	})

	// Cognition is offline, so forced reflection produces nothing.
	resp := postJSON(t, ts, "/api/agents/a1/reflect", nil)
	if resp.StatusCode != 422 {
		t.Errorf("expected 422, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/agents/nope/reflect", nil)
	if resp.StatusCode != 404 {
		t.Errorf("unknown agent: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestEventScheduling(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	// due_at is required.
	resp := postJSON(t, ts, "/api/events", map[string]interface{}{"kind": "weather_change"})
	if resp.StatusCode != 400 {
		t.Fatalf("missing due_at: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Bad interval strings are rejected.
	resp = postJSON(t, ts, "/api/events", map[string]interface{}{
		"kind":     "weather_change",
		"due_at":   apiOrigin.Add(time.Hour).Format(time.RFC3339),
		"interval": "every tuesday",
	})
	if resp.StatusCode != 400 {
		t.Fatalf("bad interval: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/events", map[string]interface{}{
		"kind":     "weather_change",
		"due_at":   apiOrigin.Add(time.Hour).Format(time.RFC3339),
		"priority": "high",
		"payload":  map[string]interface{}{"weather": "rain"},
	})
	if resp.StatusCode != 201 {
		t.Fatalf("schedule: expected 201, got %d", resp.StatusCode)
	}
	var ev sim.ScheduledEvent
	decodeJSON(t, resp, &ev)
	if ev.ID == "" || ev.Priority != sim.PriorityHigh {
		t.Errorf("event = %+v", ev)
	}

	resp = getJSON(t, ts, "/api/events")
	var upcoming []sim.ScheduledEvent
	decodeJSON(t, resp, &upcoming)
	if len(upcoming) != 1 {
		t.Fatalf("upcoming = %d, want 1", len(upcoming))
	}

	resp = deleteReq(t, ts, "/api/events/"+ev.ID)
	if resp.StatusCode != 200 {
		t.Fatalf("cancel: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = deleteReq(t, ts, "/api/events/"+ev.ID)
	if resp.StatusCode != 404 {
		t.Errorf("cancel twice: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestEventDailyScheduling(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	// Malformed wall-clock triggers are rejected.
	resp := postJSON(t, ts, "/api/events", map[string]interface{}{
		"kind":  "sunrise",
		"daily": "25:00",
	})
	if resp.StatusCode != 400 {
		t.Fatalf("bad daily: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// daily and interval cannot be combined.
	resp = postJSON(t, ts, "/api/events", map[string]interface{}{
		"kind":     "sunrise",
		"daily":    "06:00",
		"interval": "1h",
	})
	if resp.StatusCode != 400 {
		t.Fatalf("daily+interval: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Sim clock reads 09:00, so "06:00" rolls to tomorrow.
	resp = postJSON(t, ts, "/api/events", map[string]interface{}{
		"kind":    "sunrise",
		"daily":   "06:00",
		"payload": map[string]interface{}{"weather": "clear"},
	})
	if resp.StatusCode != 201 {
		t.Fatalf("schedule daily: expected 201, got %d", resp.StatusCode)
	}
	var ev sim.ScheduledEvent
	decodeJSON(t, resp, &ev)
	want := time.Date(2026, 6, 2, 6, 0, 0, 0, time.UTC)
	if !ev.DueAt.Equal(want) {
		t.Errorf("due = %v, want rolled to %v", ev.DueAt, want)
	}

	// "18:30" is still ahead today.
	resp = postJSON(t, ts, "/api/events", map[string]interface{}{
		"kind":  "dusk",
		"daily": "18:30",
	})
	if resp.StatusCode != 201 {
		t.Fatalf("schedule daily: expected 201, got %d", resp.StatusCode)
	}
	var dusk sim.ScheduledEvent
	decodeJSON(t, resp, &dusk)
	if want := apiOrigin.Add(9*time.Hour + 30*time.Minute); !dusk.DueAt.Equal(want) {
		t.Errorf("due = %v, want same-day %v", dusk.DueAt, want)
	}

	resp = getJSON(t, ts, "/api/events")
	var upcoming []sim.ScheduledEvent
	decodeJSON(t, resp, &upcoming)
	if len(upcoming) != 2 {
		t.Errorf("upcoming = %d, want 2", len(upcoming))
	}
}

func TestListDialoguesEmpty(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/dialogues")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
