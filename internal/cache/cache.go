// Package cache keeps agent memory snapshots in Redis and announces every
// mutation on a Redis stream.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/nidhogg/digitwin/internal/memory"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Keys are namespaced as:
//   - <prefix>/memory/<conversationID> for the JSON snapshot
//   - <prefix>/events for the mutation stream

// Event is published after each memory mutation.
type Event struct {
	ConversationID  string    `json:"conversation_id"`
	Interactions    int       `json:"interactions"`
	LearnedPatterns int       `json:"learned_patterns"`
	Timestamp       time.Time `json:"timestamp"`
}

// maxStreamLen caps the event stream; older entries are trimmed approximately.
const maxStreamLen = 10000

// Cache is a Redis-backed memory.Persister.
type Cache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// New connects to redisURL and verifies the connection.
func New(ctx context.Context, redisURL, prefix string, ttl time.Duration, logger *zap.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewWithClient(rdb, prefix, ttl, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *Cache {
	if prefix == "" {
		prefix = "digitwin"
	}
	return &Cache{rdb: rdb, prefix: prefix, ttl: ttl, logger: logger}
}

func (c *Cache) memoryKey(conversationID string) string {
	return path.Join(c.prefix, "memory", conversationID)
}

func (c *Cache) eventsKey() string {
	return path.Join(c.prefix, "events")
}

// Load implements memory.Persister. A missing or expired key yields (nil, nil).
func (c *Cache) Load(ctx context.Context, conversationID string) (*memory.AgentMemory, error) {
	data, err := c.rdb.Get(ctx, c.memoryKey(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory %s: %w", conversationID, err)
	}
	var mem memory.AgentMemory
	if err := json.Unmarshal(data, &mem); err != nil {
		return nil, fmt.Errorf("decode memory %s: %w", conversationID, err)
	}
	return &mem, nil
}

// Save implements memory.Persister. The snapshot write and the mutation
// event go out in one pipeline.
func (c *Cache) Save(ctx context.Context, mem memory.AgentMemory) error {
	data, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("encode memory %s: %w", mem.ConversationID, err)
	}
	ev, err := json.Marshal(Event{
		ConversationID:  mem.ConversationID,
		Interactions:    len(mem.InteractionHistory),
		LearnedPatterns: len(mem.LearnedPatterns),
		Timestamp:       mem.LastUpdated,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, c.memoryKey(mem.ConversationID), data, c.ttl)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: c.eventsKey(),
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(ev)},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save memory %s: %w", mem.ConversationID, err)
	}

	c.logger.Debug("memory cached",
		zap.String("conversation_id", mem.ConversationID),
		zap.Int("interactions", len(mem.InteractionHistory)))
	return nil
}

// Subscribe streams mutation events published after the call. Cancel ctx
// to stop; the channel is closed on exit.
func (c *Cache) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)
	stream := c.eventsKey()

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := c.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					c.logger.Warn("read memory events failed", zap.Error(err))
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev Event
					if json.Unmarshal([]byte(data), &ev) != nil {
						continue
					}
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}
