// Package graph records reasoning chains in Neo4j: one Chain node, one Step
// node per step, and DEPENDS_ON edges between steps.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/nidhogg/digitwin/internal/reasoning"
	"go.uber.org/zap"
)

// Graph handles Neo4j operations for chain post-mortems.
type Graph struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// StepNode is a step read back from the graph.
type StepNode struct {
	ID          string   `json:"step_id"`
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"`
	Position    int64    `json:"position"`
	DependsOn   []string `json:"depends_on"`
}

// New creates a Graph over a fresh driver.
func New(uri, user, password string, logger *zap.Logger) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Graph{driver: driver, logger: logger}, nil
}

// Ping verifies the Neo4j connection.
func (g *Graph) Ping(ctx context.Context) error {
	return g.driver.VerifyConnectivity(ctx)
}

// Close shuts down the driver.
func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// EnsureSchema creates the uniqueness constraints used by MERGE.
func (g *Graph) EnsureSchema(ctx context.Context) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for _, q := range []string{
		`CREATE CONSTRAINT chain_id IF NOT EXISTS FOR (c:Chain) REQUIRE c.id IS UNIQUE`,
		`CREATE CONSTRAINT step_id IF NOT EXISTS FOR (s:Step) REQUIRE s.id IS UNIQUE`,
	} {
		if _, err := session.Run(ctx, q, nil); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// RecordChain implements reasoning.ChainRecorder. Recording the same chain
// twice leaves a single copy of it.
func (g *Graph) RecordChain(ctx context.Context, chain reasoning.Chain) error {
	steps := make([]map[string]interface{}, 0, len(chain.Steps))
	for i, s := range chain.Steps {
		deps := make([]interface{}, 0, len(s.Dependencies))
		for _, d := range s.Dependencies {
			deps = append(deps, d)
		}
		steps = append(steps, map[string]interface{}{
			"id":         s.ID,
			"desc":       s.Description,
			"confidence": s.Confidence,
			"position":   int64(i),
			"deps":       deps,
		})
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx,
			`MERGE (c:Chain {id: $id})
			 SET c.question = $question, c.mode = $mode, c.status = $status,
			     c.error = $error, c.step_count = $count`,
			map[string]interface{}{
				"id":       chain.ID,
				"question": chain.Question,
				"mode":     chain.Mode,
				"status":   string(chain.Status),
				"error":    chain.Error,
				"count":    int64(len(chain.Steps)),
			}); err != nil {
			return nil, err
		}
		if _, err := tx.Run(ctx,
			`MATCH (c:Chain {id: $id})
			 UNWIND $steps AS step
			 MERGE (s:Step {id: step.id})
			 SET s.description = step.desc, s.confidence = step.confidence
			 MERGE (c)-[h:HAS_STEP]->(s)
			 SET h.position = step.position`,
			map[string]interface{}{"id": chain.ID, "steps": steps}); err != nil {
			return nil, err
		}
		_, err := tx.Run(ctx,
			`UNWIND $steps AS step
			 UNWIND step.deps AS dep
			 MATCH (s:Step {id: step.id}), (d:Step {id: dep})
			 MERGE (s)-[:DEPENDS_ON]->(d)`,
			map[string]interface{}{"steps": steps})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("record chain %s: %w", chain.ID, err)
	}

	g.logger.Debug("chain recorded",
		zap.String("chain_id", chain.ID),
		zap.Int("steps", len(chain.Steps)))
	return nil
}

// Steps returns a chain's steps in order with their dependencies.
func (g *Graph) Steps(ctx context.Context, chainID string) ([]StepNode, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (c:Chain {id: $id})-[h:HAS_STEP]->(s:Step)
		 OPTIONAL MATCH (s)-[:DEPENDS_ON]->(d:Step)
		 RETURN s.id AS id, s.description AS description, s.confidence AS confidence,
		        h.position AS position, collect(d.id) AS deps
		 ORDER BY position`,
		map[string]interface{}{"id": chainID})
	if err != nil {
		return nil, fmt.Errorf("get chain steps: %w", err)
	}

	var nodes []StepNode
	for result.Next(ctx) {
		rec := result.Record()
		id, _ := rec.Get("id")
		desc, _ := rec.Get("description")
		conf, _ := rec.Get("confidence")
		pos, _ := rec.Get("position")
		deps, _ := rec.Get("deps")

		n := StepNode{}
		n.ID, _ = id.(string)
		n.Description, _ = desc.(string)
		n.Confidence, _ = conf.(float64)
		n.Position, _ = pos.(int64)
		if ds, ok := deps.([]interface{}); ok {
			for _, d := range ds {
				if s, ok := d.(string); ok {
					n.DependsOn = append(n.DependsOn, s)
				}
			}
		}
		nodes = append(nodes, n)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read chain steps: %w", err)
	}
	return nodes, nil
}
