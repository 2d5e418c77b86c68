package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server     ServerConfig     `json:"server"`
	World      WorldConfig      `json:"world"`
	Simulation SimulationConfig `json:"simulation"`
	Cognition  []BackendConfig  `json:"cognition"`
	Database   DatabaseConfig   `json:"database"`
	Migrations string           `json:"migrations_dir"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type WorldConfig struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SeedFile  string `json:"seed_file"`
	TimeStart string `json:"time_start"` // RFC 3339 simulated origin
}

// SimulationConfig tunes the clock, loop, and cognitive thresholds.
type SimulationConfig struct {
	TickRateHz          float64 `json:"tick_rate_hz"`
	TimeMultiplier      float64 `json:"time_multiplier"`
	BatchSize           int     `json:"batch_size"`
	MaxConcurrent       int     `json:"max_concurrent"`
	AgentTimeoutSec     int     `json:"agent_timeout_sec"`
	ObserveRadius       float64 `json:"observe_radius"`
	ReflectionThreshold int     `json:"reflection_threshold"`
	ReflectionWindowHrs int     `json:"reflection_window_hours"`
	ReflectionMinCount  int     `json:"reflection_min_count"`
	RetrievalTopN       int     `json:"retrieval_top_n"`
	RecencyHalfLifeHrs  float64 `json:"recency_half_life_hours"`
	RelevanceWeight     float64 `json:"relevance_weight"`
	RecencyWeight       float64 `json:"recency_weight"`
	ImportanceWeight    float64 `json:"importance_weight"`
}

// BackendConfig describes one cognition backend. The first entry is the
// default; the rest form the fallback chain.
type BackendConfig struct {
	ID             string `json:"id"`
	Endpoint       string `json:"endpoint"`
	APIKey         string `json:"api_key"`
	Model          string `json:"model"`
	EmbeddingModel string `json:"embedding_model"`
	TimeoutSec     int    `json:"timeout_sec"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type Neo4jConfig struct {
	URI       string  `json:"uri"`
	User      string  `json:"user"`
	Password  string  `json:"password"`
	DecayRate float64 `json:"decay_rate"`
}

type RedisConfig struct {
	URL       string `json:"url"`
	StreamCap int64  `json:"stream_cap"`
}

type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
	Dimension  int    `json:"dimension"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	s := &c.Simulation
	if s.TickRateHz == 0 {
		s.TickRateHz = 1
	}
	if s.TimeMultiplier == 0 {
		s.TimeMultiplier = 60
	}
	if s.BatchSize == 0 {
		s.BatchSize = 10
	}
	if s.MaxConcurrent == 0 {
		s.MaxConcurrent = 5
	}
	if s.AgentTimeoutSec == 0 {
		s.AgentTimeoutSec = 30
	}
	if s.ObserveRadius == 0 {
		s.ObserveRadius = 10
	}
	if s.ReflectionThreshold == 0 {
		s.ReflectionThreshold = 150
	}
	if s.ReflectionWindowHrs == 0 {
		s.ReflectionWindowHrs = 24
	}
	if s.ReflectionMinCount == 0 {
		s.ReflectionMinCount = 3
	}
	if s.RetrievalTopN == 0 {
		s.RetrievalTopN = 20
	}
	if s.RecencyHalfLifeHrs == 0 {
		s.RecencyHalfLifeHrs = 24
	}
	if s.RelevanceWeight == 0 {
		s.RelevanceWeight = 1
	}
	if s.RecencyWeight == 0 {
		s.RecencyWeight = 1
	}
	if s.ImportanceWeight == 0 {
		s.ImportanceWeight = 1
	}
	if c.World.ID == "" {
		c.World.ID = "default"
	}
	if c.Migrations == "" {
		c.Migrations = "migrations"
	}
}

func (c *Config) validate() error {
	s := c.Simulation
	if s.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be positive, got %v", s.TickRateHz)
	}
	if s.TimeMultiplier <= 0 {
		return fmt.Errorf("time_multiplier must be positive, got %v", s.TimeMultiplier)
	}
	if s.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1, got %d", s.BatchSize)
	}
	if s.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", s.MaxConcurrent)
	}
	if c.World.TimeStart != "" {
		if _, err := time.Parse(time.RFC3339, c.World.TimeStart); err != nil {
			return fmt.Errorf("world.time_start: %w", err)
		}
	}
	for i, b := range c.Cognition {
		if b.ID == "" {
			return fmt.Errorf("cognition[%d]: id required", i)
		}
		if b.Endpoint == "" {
			return fmt.Errorf("cognition[%d] %s: endpoint required", i, b.ID)
		}
	}
	return nil
}

// TimeOrigin returns the configured simulated start time, or the zero
// value replaced by real now at the call site when unset.
func (c *Config) TimeOrigin() time.Time {
	if c.World.TimeStart == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, c.World.TimeStart)
	return t
}
