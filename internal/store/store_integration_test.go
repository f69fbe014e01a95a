//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/nidhogg/digitwin/internal/memory"
	"github.com/nidhogg/digitwin/internal/reasoning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
)

func startStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("digitwin_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := New(ctx, dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Migrate(ctx, "../../migrations"))
	// Re-running skips applied files.
	require.NoError(t, s.Migrate(ctx, "../../migrations"))

	var applied int
	require.NoError(t, s.db.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	require.Equal(t, 2, applied)
	return s
}

func TestMemoryPersistence(t *testing.T) {
	ctx := context.Background()
	s := startStore(t)

	missing, err := s.Load(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	now := time.Now().UTC().Truncate(time.Millisecond)
	mem := memory.AgentMemory{
		ConversationID: "s1",
		UserProfile:    map[string]any{"name": "Ada"},
		Preferences:    map[string]any{},
		InteractionHistory: []memory.InteractionRecord{
			{Timestamp: now, Tool: "advanced_query", Input: "What is Go?"},
		},
		LastUpdated: now,
	}
	require.NoError(t, s.Save(ctx, mem))

	mem.InteractionHistory = append(mem.InteractionHistory,
		memory.InteractionRecord{Timestamp: now, Input: "And channels?"})
	require.NoError(t, s.Save(ctx, mem))

	got, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ada", got.UserProfile["name"])
	assert.Len(t, got.InteractionHistory, 2)

	ids, err := s.ConversationIDs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)
}

func TestChainArchive(t *testing.T) {
	ctx := context.Background()
	s := startStore(t)

	started := time.Now().UTC().Truncate(time.Millisecond)
	chain := reasoning.Chain{
		ID:       "chain-1",
		Question: "Why is the sky blue?",
		Mode:     "analytical",
		Status:   reasoning.StatusCompleted,
		Steps: []reasoning.Step{
			{ID: "step-1", Description: "Gather relevant context", Confidence: 0.9, Timestamp: started},
		},
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
	}
	id := chain.ID

	require.NoError(t, s.RecordChain(ctx, chain))
	require.NoError(t, s.RecordChain(ctx, chain))

	chains, err := s.RecentChains(ctx, 5)
	require.NoError(t, err)
	require.Len(t, chains, 1)
	assert.Equal(t, id, chains[0].ID)
	assert.Equal(t, reasoning.StatusCompleted, chains[0].Status)
	assert.Len(t, chains[0].Steps, 1)
}
