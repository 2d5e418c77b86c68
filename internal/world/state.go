package world

import (
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/vivarium/internal/sim"
)

// DefaultHistoryDepth bounds the revert ring.
const DefaultHistoryDepth = 10

// Manager owns the mutable world state. All mutation goes through Update,
// which runs under a single lock, increments the version counter, and
// snapshots the prior state into a bounded ring so one mutation can be
// reverted at a time. Readers always see a fully committed version.
type Manager struct {
	mu      sync.RWMutex
	state   *State
	history []*State // oldest first, len <= depth
	depth   int
	logger  *zap.Logger
}

// NewManager creates a manager around an initial state.
func NewManager(initial *State, historyDepth int, logger *zap.Logger) *Manager {
	if historyDepth <= 0 {
		historyDepth = DefaultHistoryDepth
	}
	if initial.Agents == nil {
		initial.Agents = make(map[string]*Agent)
	}
	if initial.Objects == nil {
		initial.Objects = make(map[string]*Object)
	}
	if initial.Locations == nil {
		initial.Locations = make(map[string]Location)
	}
	initial.DayPhase = sim.PhaseOf(initial.CurrentTime)
	return &Manager{
		state:  initial,
		depth:  historyDepth,
		logger: logger,
	}
}

// Snapshot returns a deep copy of the current state.
func (m *Manager) Snapshot() *State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// Version returns the current state version.
func (m *Manager) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Version
}

// Update applies fn to the state under the mutation lock, pushes the prior
// state into the history ring, and returns the new version.
func (m *Manager) Update(fn func(s *State)) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	prior := m.state.Clone()
	m.history = append(m.history, prior)
	if len(m.history) > m.depth {
		m.history = m.history[1:]
	}

	fn(m.state)
	m.state.Version++
	m.state.DayPhase = sim.PhaseOf(m.state.CurrentTime)
	return m.state.Version
}

// Revert restores the most recent snapshot from the history ring. Returns
// false, leaving state unchanged, when the history is empty.
func (m *Manager) Revert() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return false
	}
	m.state = m.history[len(m.history)-1]
	m.history = m.history[:len(m.history)-1]
	m.logger.Info("world state reverted", zap.Uint64("version", m.state.Version))
	return true
}

// SetTime advances the world clock reading. Part of the normal tick commit.
func (m *Manager) SetTime(t time.Time) uint64 {
	return m.Update(func(s *State) {
		s.CurrentTime = t
	})
}

// Agent returns a copy of one agent, or nil.
func (m *Manager) Agent(id string) *Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.state.Agents[id]; ok {
		return a.Clone()
	}
	return nil
}

// AgentsInArea returns active agents sharing a named area, excluding the
// given agent. Dialogue proximity is area equality, not metric distance.
func (s *State) AgentsInArea(area, excludeID string) []*Agent {
	var out []*Agent
	for _, a := range s.Agents {
		if a.ID == excludeID || a.Status != StatusActive {
			continue
		}
		if a.Location.Area == area {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NearbyAgents returns active agents within a metric radius of the given
// agent, nearest first. Used for general observation, not dialogue gating.
func (s *State) NearbyAgents(agentID string, radius float64) []*Agent {
	self, ok := s.Agents[agentID]
	if !ok {
		return nil
	}
	type cand struct {
		a *Agent
		d float64
	}
	var cands []cand
	for _, a := range s.Agents {
		if a.ID == agentID || a.Status != StatusActive {
			continue
		}
		d := distance(self.Location, a.Location)
		if d <= radius {
			cands = append(cands, cand{a, d})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].d != cands[j].d {
			return cands[i].d < cands[j].d
		}
		return cands[i].a.ID < cands[j].a.ID
	})
	out := make([]*Agent, len(cands))
	for i, c := range cands {
		out[i] = c.a
	}
	return out
}

// ObjectsInArea returns objects sharing a named area.
func (s *State) ObjectsInArea(area string) []*Object {
	var out []*Object
	for _, o := range s.Objects {
		if o.Location.Area == area {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func distance(a, b Location) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}
