package world

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Seed is the on-disk bootstrap shape for a fresh world.
type Seed struct {
	WorldID   string              `json:"world_id"`
	Weather   string              `json:"weather"`
	Locations map[string]Location `json:"locations"`
	Agents    []*Agent            `json:"agents"`
	Objects   []*Object           `json:"objects"`
}

// LoadSeed reads a world seed file and builds the initial state. Agents
// without an ID or status get one; agent world IDs are forced to the
// seed's world.
func LoadSeed(path string, origin time.Time) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	if seed.WorldID == "" {
		return nil, fmt.Errorf("seed %s: world_id is required", path)
	}

	st := &State{
		WorldID:     seed.WorldID,
		CurrentTime: origin,
		Weather:     seed.Weather,
		Agents:      make(map[string]*Agent, len(seed.Agents)),
		Objects:     make(map[string]*Object, len(seed.Objects)),
		Locations:   seed.Locations,
	}
	for _, a := range seed.Agents {
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		if a.Status == "" {
			a.Status = StatusActive
		}
		if a.Relationships == nil {
			a.Relationships = map[string]string{}
		}
		a.WorldID = seed.WorldID
		a.CreatedAt = origin
		a.UpdatedAt = origin
		st.Agents[a.ID] = a
	}
	for _, o := range seed.Objects {
		if o.ID == "" {
			o.ID = uuid.New().String()
		}
		st.Objects[o.ID] = o
	}
	return st, nil
}
