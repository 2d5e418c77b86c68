package world

import (
	"time"

	"github.com/nidhogg/vivarium/internal/sim"
)

// AgentStatus tracks an agent's lifecycle. Deletion is logical only; the
// record is retained for audit.
type AgentStatus string

const (
	StatusActive   AgentStatus = "active"
	StatusInactive AgentStatus = "inactive"
	StatusDeleted  AgentStatus = "deleted"
)

// Location places an agent or object in the world. Area is a named region
// used for dialogue proximity; X/Y are used for metric nearby queries.
type Location struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Area string  `json:"area"`
}

// PlanState is the agent's current hierarchical plan.
type PlanState struct {
	DailyPlan   []string  `json:"daily_plan"`
	HourlyPlan  []string  `json:"hourly_plan"`
	CurrentStep string    `json:"current_step"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Agent is a resident of the world.
type Agent struct {
	ID            string            `json:"id"`
	WorldID       string            `json:"world_id"`
	Name          string            `json:"name"`
	Location      Location          `json:"location"`
	CurrentAction string            `json:"current_action"`
	Relationships map[string]string `json:"relationships"` // agentID -> label
	Goals         []string          `json:"goals"`
	Traits        []string          `json:"traits"`
	Plan          PlanState         `json:"plan"`
	Status        AgentStatus       `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Clone returns a deep copy safe for concurrent mutation in a tick batch.
func (a *Agent) Clone() *Agent {
	cp := *a
	cp.Relationships = make(map[string]string, len(a.Relationships))
	for k, v := range a.Relationships {
		cp.Relationships[k] = v
	}
	cp.Goals = append([]string(nil), a.Goals...)
	cp.Traits = append([]string(nil), a.Traits...)
	cp.Plan.DailyPlan = append([]string(nil), a.Plan.DailyPlan...)
	cp.Plan.HourlyPlan = append([]string(nil), a.Plan.HourlyPlan...)
	return &cp
}

// Object is a non-agent entity residents can observe.
type Object struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	State    string   `json:"state"`
	Location Location `json:"location"`
}

// State aggregates everything the simulation mutates each tick. Every
// mutation through the Manager increments Version.
type State struct {
	WorldID         string              `json:"world_id"`
	CurrentTime     time.Time           `json:"current_time"`
	DayPhase        sim.DayPhase        `json:"day_phase"`
	Weather         string              `json:"weather"`
	Agents          map[string]*Agent   `json:"agents"`
	Objects         map[string]*Object  `json:"objects"`
	Locations       map[string]Location `json:"locations"`
	ActiveDialogues []string            `json:"active_dialogues"`
	GlobalEffects   []string            `json:"global_effects"`
	Version         uint64              `json:"version"`
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	cp := *s
	cp.Agents = make(map[string]*Agent, len(s.Agents))
	for id, a := range s.Agents {
		cp.Agents[id] = a.Clone()
	}
	cp.Objects = make(map[string]*Object, len(s.Objects))
	for id, o := range s.Objects {
		oc := *o
		cp.Objects[id] = &oc
	}
	cp.Locations = make(map[string]Location, len(s.Locations))
	for k, v := range s.Locations {
		cp.Locations[k] = v
	}
	cp.ActiveDialogues = append([]string(nil), s.ActiveDialogues...)
	cp.GlobalEffects = append([]string(nil), s.GlobalEffects...)
	return &cp
}

// ActiveAgents returns agents with active status.
func (s *State) ActiveAgents() []*Agent {
	out := make([]*Agent, 0, len(s.Agents))
	for _, a := range s.Agents {
		if a.Status == StatusActive {
			out = append(out, a)
		}
	}
	return out
}
