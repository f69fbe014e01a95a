//go:build integration

package graph

import (
	"context"
	"testing"
	"time"

	"github.com/nidhogg/digitwin/internal/reasoning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	"go.uber.org/zap"
)

func startGraph(t *testing.T) *Graph {
	t.Helper()
	ctx := context.Background()
	container, err := tcneo4j.Run(ctx, "neo4j:5-community", tcneo4j.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	uri, err := container.BoltUrl(ctx)
	require.NoError(t, err)

	g, err := New(uri, "", "", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { g.Close(ctx) })

	require.NoError(t, g.Ping(ctx))
	require.NoError(t, g.EnsureSchema(ctx))
	return g
}

func TestRecordChain(t *testing.T) {
	ctx := context.Background()
	g := startGraph(t)

	now := time.Now().UTC()
	chain := reasoning.Chain{
		ID:       "chain-1",
		Question: "What is Go?",
		Mode:     "analytical",
		Status:   reasoning.StatusCompleted,
		Steps: []reasoning.Step{
			{ID: "s1", Description: "Gather relevant context", Confidence: 0.9, Timestamp: now},
			{ID: "s2", Description: "Analyze question structure", Confidence: 0.85, Timestamp: now, Dependencies: []string{"s1"}},
			{ID: "s3", Description: "Generate response", Confidence: 0.8, Timestamp: now, Dependencies: []string{"s1", "s2"}},
		},
		StartedAt:  now,
		FinishedAt: now,
	}
	require.NoError(t, g.RecordChain(ctx, chain))
	require.NoError(t, g.RecordChain(ctx, chain))

	steps, err := g.Steps(ctx, "chain-1")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "s1", steps[0].ID)
	assert.Empty(t, steps[0].DependsOn)
	assert.Equal(t, []string{"s1"}, steps[1].DependsOn)
	assert.ElementsMatch(t, []string{"s1", "s2"}, steps[2].DependsOn)
}
