package relation

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Graph stores relationships in Neo4j. It also implements the clock
// listener contract so strengths decay with simulated time.
type Graph struct {
	driver    neo4j.DriverWithContext
	decayRate float64 // strength decay per tick
	logger    *zap.Logger
}

// NewGraph creates a Neo4j-backed relationship store.
func NewGraph(uri, user, password string, decayRate float64, logger *zap.Logger) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Graph{driver: driver, decayRate: decayRate, logger: logger}, nil
}

// Ping verifies connectivity.
func (g *Graph) Ping(ctx context.Context) error {
	return g.driver.VerifyConnectivity(ctx)
}

// Close shuts down the driver.
func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// Label implements Store.
func (g *Graph) Label(ctx context.Context, fromID, toID string) (string, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (a:Agent {id: $from})-[r:KNOWS]->(b:Agent {id: $to})
		 RETURN r.label AS label`,
		map[string]any{"from": fromID, "to": toID})
	if err != nil {
		return "", fmt.Errorf("get relationship label: %w", err)
	}
	if !result.Next(ctx) {
		return LabelStranger, nil
	}
	if v, ok := result.Record().Get("label"); ok && v != nil {
		return v.(string), nil
	}
	return LabelStranger, nil
}

// Nudge implements Store. The edge is merged in both directions so the
// relationship stays symmetric after a shared dialogue.
func (g *Graph) Nudge(ctx context.Context, aID, bID string, delta float64, summary string) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MERGE (a:Agent {id: $a})
		 MERGE (b:Agent {id: $b})
		 MERGE (a)-[ab:KNOWS]->(b)
		 MERGE (b)-[ba:KNOWS]->(a)
		 ON CREATE SET ab.strength = 0.4, ab.history = []
		 ON CREATE SET ba.strength = 0.4, ba.history = []
		 WITH a, b, ab, ba
		 SET ab.strength = CASE
		       WHEN ab.strength + $delta > 1.0 THEN 1.0
		       WHEN ab.strength + $delta < 0.0 THEN 0.0
		       ELSE ab.strength + $delta END,
		     ba.strength = CASE
		       WHEN ba.strength + $delta > 1.0 THEN 1.0
		       WHEN ba.strength + $delta < 0.0 THEN 0.0
		       ELSE ba.strength + $delta END,
		     ab.history = ab.history + $summary,
		     ba.history = ba.history + $summary,
		     ab.updated_at = datetime(),
		     ba.updated_at = datetime()
		 SET ab.label = CASE
		       WHEN ab.strength >= $friend THEN 'friend'
		       WHEN ab.strength < $rival THEN 'rival'
		       ELSE 'acquaintance' END,
		     ba.label = ab.label`,
		map[string]any{
			"a":       aID,
			"b":       bID,
			"delta":   delta,
			"summary": summary,
			"friend":  friendThreshold,
			"rival":   rivalThreshold,
		})
	if err != nil {
		return fmt.Errorf("nudge relationship: %w", err)
	}
	return nil
}

// Relations implements Store.
func (g *Graph) Relations(ctx context.Context, agentID string) ([]*Relationship, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (a:Agent {id: $agentId})-[r:KNOWS]->(b:Agent)
		 RETURN b.id AS toId, r.label AS label, r.strength AS strength, r.history AS history`,
		map[string]any{"agentId": agentID})
	if err != nil {
		return nil, fmt.Errorf("get relationships: %w", err)
	}

	var out []*Relationship
	for result.Next(ctx) {
		rec := result.Record()
		rel := &Relationship{FromAgentID: agentID, Label: LabelStranger}
		if v, ok := rec.Get("toId"); ok && v != nil {
			rel.ToAgentID = v.(string)
		}
		if v, ok := rec.Get("label"); ok && v != nil {
			rel.Label = v.(string)
		}
		if v, ok := rec.Get("strength"); ok && v != nil {
			rel.Strength = v.(float64)
		}
		if v, ok := rec.Get("history"); ok && v != nil {
			if hs, ok := v.([]any); ok {
				for _, h := range hs {
					if s, ok := h.(string); ok {
						rel.History = append(rel.History, s)
					}
				}
			}
		}
		out = append(out, rel)
	}
	return out, nil
}

// OnTick decays all relationship strengths toward zero with simulated time.
func (g *Graph) OnTick(worldTime time.Time) {
	ctx := context.Background()
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MATCH ()-[r:KNOWS]->()
		 WHERE r.strength > 0
		 SET r.strength = CASE
		   WHEN r.strength - $decay < 0 THEN 0
		   ELSE r.strength - $decay END`,
		map[string]any{"decay": g.decayRate})
	if err != nil {
		g.logger.Warn("relationship decay tick failed", zap.Error(err))
	}
}
