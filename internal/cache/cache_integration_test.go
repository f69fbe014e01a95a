//go:build integration

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nidhogg/digitwin/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return "redis://" + endpoint
}

func TestCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	prefix := fmt.Sprintf("test-%d", time.Now().Unix())

	c, err := New(ctx, startRedis(t), prefix, time.Minute, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	missing, err := c.Load(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := c.Subscribe(subCtx)
	// XRead with "$" only sees entries added after the first blocking read starts.
	time.Sleep(200 * time.Millisecond)

	mem := memory.AgentMemory{
		ConversationID: "s1",
		UserProfile:    map[string]any{},
		Preferences:    map[string]any{"tone": "concise"},
		InteractionHistory: []memory.InteractionRecord{
			{Timestamp: time.Now().UTC(), Tool: "advanced_query", Input: "What is Go?"},
		},
		LastUpdated: time.Now().UTC(),
	}
	require.NoError(t, c.Save(ctx, mem))

	got, err := c.Load(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "s1", got.ConversationID)
	assert.Equal(t, "concise", got.Preferences["tone"])
	require.Len(t, got.InteractionHistory, 1)
	assert.Equal(t, "What is Go?", got.InteractionHistory[0].Input)

	ttl, err := c.rdb.TTL(ctx, c.memoryKey("s1")).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute)

	select {
	case ev := <-events:
		assert.Equal(t, "s1", ev.ConversationID)
		assert.Equal(t, 1, ev.Interactions)
	case <-time.After(5 * time.Second):
		t.Fatal("no mutation event received")
	}
}

func TestStoreWithCachePersister(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, startRedis(t), "store-test", time.Minute, zap.NewNop())
	require.NoError(t, err)
	defer c.Close()

	first := memory.NewStore(zap.NewNop(), c)
	first.RecordInteraction(ctx, "s2", memory.InteractionRecord{Tool: "advanced_query", Input: "hello"})

	// A fresh store sees the snapshot written by the first one.
	second := memory.NewStore(zap.NewNop(), c)
	mem := second.Get(ctx, "s2", memory.AllTime)
	require.Len(t, mem.InteractionHistory, 1)
	assert.Equal(t, "hello", mem.InteractionHistory[0].Input)
}
