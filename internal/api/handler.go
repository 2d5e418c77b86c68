package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/vivarium/internal/dialogue"
	"github.com/nidhogg/vivarium/internal/engine"
	"github.com/nidhogg/vivarium/internal/memory"
	"github.com/nidhogg/vivarium/internal/relation"
	"github.com/nidhogg/vivarium/internal/sim"
	"github.com/nidhogg/vivarium/internal/world"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	clock       *sim.Clock
	queue       *sim.EventQueue
	loop        *engine.Loop
	worldMgr    *world.Manager
	memories    *memory.Store
	reflections *memory.ReflectionTrigger
	dialogues   *dialogue.Coordinator
	relations   relation.Store
	logger      *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	clock *sim.Clock,
	queue *sim.EventQueue,
	loop *engine.Loop,
	worldMgr *world.Manager,
	memories *memory.Store,
	reflections *memory.ReflectionTrigger,
	dialogues *dialogue.Coordinator,
	relations relation.Store,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		clock:       clock,
		queue:       queue,
		loop:        loop,
		worldMgr:    worldMgr,
		memories:    memories,
		reflections: reflections,
		dialogues:   dialogues,
		relations:   relations,
		logger:      logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		// World state
		r.Get("/world", h.getWorld)
		r.Post("/world/revert", h.revertWorld)

		// Clock controls
		r.Get("/clock", h.clockState)
		r.Post("/clock/pause", h.pauseClock)
		r.Post("/clock/resume", h.resumeClock)
		r.Post("/clock/speed", h.setSpeed)
		r.Post("/clock/skip", h.skipTime)

		// Simulation loop
		r.Post("/simulation/start", h.startLoop)
		r.Post("/simulation/stop", h.stopLoop)
		r.Get("/simulation/stats", h.loopStats)

		// Agents
		r.Get("/agents", h.listAgents)
		r.Post("/agents", h.createAgent)
		r.Get("/agents/{id}", h.getAgent)
		r.Delete("/agents/{id}", h.deleteAgent)
		r.Get("/agents/{id}/memories", h.getAgentMemories)
		r.Post("/agents/{id}/memories/retrieve", h.retrieveMemories)
		r.Post("/agents/{id}/reflect", h.forceReflection)
		r.Get("/agents/{id}/relations", h.getAgentRelations)

		// Scheduled events
		r.Get("/events", h.listEvents)
		r.Post("/events", h.scheduleEvent)
		r.Delete("/events/{id}", h.cancelEvent)

		// Dialogues
		r.Get("/dialogues", h.listDialogues)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"loop":   string(h.loop.State()),
	})
}

func (h *Handler) getWorld(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.worldMgr.Snapshot())
}

func (h *Handler) revertWorld(w http.ResponseWriter, r *http.Request) {
	if !h.worldMgr.Revert() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no history to revert"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "reverted",
		"version": h.worldMgr.Version(),
	})
}

func (h *Handler) clockState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.clock.State())
}

func (h *Handler) pauseClock(w http.ResponseWriter, r *http.Request) {
	h.loop.Pause()
	writeJSON(w, http.StatusOK, h.clock.State())
}

func (h *Handler) resumeClock(w http.ResponseWriter, r *http.Request) {
	h.loop.Resume()
	writeJSON(w, http.StatusOK, h.clock.State())
}

type speedRequest struct {
	Multiplier float64 `json:"multiplier"`
}

func (h *Handler) setSpeed(w http.ResponseWriter, r *http.Request) {
	var req speedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := h.clock.SetSpeed(req.Multiplier); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h.clock.State())
}

type skipRequest struct {
	Minutes float64 `json:"minutes"`
}

func (h *Handler) skipTime(w http.ResponseWriter, r *http.Request) {
	var req skipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := h.clock.SkipTime(req.Minutes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h.clock.State())
}

func (h *Handler) startLoop(w http.ResponseWriter, r *http.Request) {
	h.loop.Start()
	writeJSON(w, http.StatusOK, map[string]string{"status": string(h.loop.State())})
}

func (h *Handler) stopLoop(w http.ResponseWriter, r *http.Request) {
	h.loop.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": string(h.loop.State())})
}

func (h *Handler) loopStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":       h.loop.State(),
		"stats":       h.loop.Stats(),
		"last_result": h.loop.LastResult(),
		"queue":       h.queue.Stats(),
	})
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.worldMgr.Snapshot().ActiveAgents())
}

type createAgentRequest struct {
	Name     string         `json:"name"`
	Location world.Location `json:"location"`
	Goals    []string       `json:"goals"`
	Traits   []string       `json:"traits"`
}

func (h *Handler) createAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	snap := h.worldMgr.Snapshot()
	a := &world.Agent{
		ID:            uuid.New().String(),
		WorldID:       snap.WorldID,
		Name:          req.Name,
		Location:      req.Location,
		Goals:         req.Goals,
		Traits:        req.Traits,
		Relationships: map[string]string{},
		Status:        world.StatusActive,
		CreatedAt:     snap.CurrentTime,
		UpdatedAt:     snap.CurrentTime,
	}
	h.worldMgr.Update(func(s *world.State) {
		s.Agents[a.ID] = a
	})
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a := h.worldMgr.Agent(id)
	if a == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// deleteAgent is a soft delete: the agent drops out of tick processing but
// its record and memories are retained.
func (h *Handler) deleteAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.worldMgr.Agent(id) == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	h.worldMgr.Update(func(s *world.State) {
		if a, ok := s.Agents[id]; ok {
			a.Status = world.StatusDeleted
		}
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func (h *Handler) getAgentMemories(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	f := memory.Filter{}
	if kind := r.URL.Query().Get("kind"); kind != "" {
		f.Kind = memory.Kind(kind)
	}
	if tag := r.URL.Query().Get("tag"); tag != "" {
		f.Tag = tag
	}
	writeJSON(w, http.StatusOK, h.memories.Get(id, f))
}

type retrieveRequest struct {
	Query string `json:"query"`
	TopN  int    `json:"top_n"`
}

func (h *Handler) retrieveMemories(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	now := h.clock.Now()
	scored := h.memories.RetrieveRelevant(r.Context(), id, req.Query, req.TopN, now)
	writeJSON(w, http.StatusOK, scored)
}

func (h *Handler) forceReflection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a := h.worldMgr.Agent(id)
	if a == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	rec := h.reflections.Generate(r.Context(), id, a.WorldID, a.Name, h.clock.Now(), true)
	if rec == nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "no reflection produced"})
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) getAgentRelations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rels, err := h.relations.Relations(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rels)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	writeJSON(w, http.StatusOK, h.queue.PeekUpcoming(limit))
}

type scheduleEventRequest struct {
	Kind     string         `json:"kind"`
	DueAt    time.Time      `json:"due_at"`
	Priority string         `json:"priority"`
	Payload  map[string]any `json:"payload"`
	Interval string         `json:"interval,omitempty"` // e.g. "30m", "1d"
	Daily    string         `json:"daily,omitempty"`    // wall-clock "HH:MM", recurs every day
	MaxRuns  int            `json:"max_runs,omitempty"`
}

func (h *Handler) scheduleEvent(w http.ResponseWriter, r *http.Request) {
	var req scheduleEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Daily == "" && req.DueAt.IsZero() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "due_at or daily is required"})
		return
	}
	if req.Daily != "" && req.Interval != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "daily and interval are mutually exclusive"})
		return
	}

	ev := &sim.ScheduledEvent{
		Kind:     sim.EventKind(req.Kind),
		DueAt:    req.DueAt,
		Priority: sim.ParsePriority(req.Priority),
		Payload:  req.Payload,
	}

	var err error
	switch {
	case req.Daily != "":
		var due time.Time
		due, err = sim.ParseDailyTrigger(req.Daily, h.clock.Now())
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		ev.DueAt = due
		_, err = h.queue.ScheduleRecurring(ev, sim.RecurrenceRule{Interval: 24 * time.Hour, MaxOccurrences: req.MaxRuns})
	case req.Interval != "":
		var interval time.Duration
		interval, err = sim.ParseInterval(req.Interval)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		_, err = h.queue.ScheduleRecurring(ev, sim.RecurrenceRule{Interval: interval, MaxOccurrences: req.MaxRuns})
	default:
		_, err = h.queue.Schedule(ev)
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, sim.ErrInvalidDueTime) || errors.Is(err, sim.ErrInvalidRecurrence) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (h *Handler) cancelEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.queue.Cancel(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "event not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "id": id})
}

func (h *Handler) listDialogues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dialogues.Active())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
