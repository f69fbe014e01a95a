package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/digitwin/internal/memory"
)

// Load implements memory.Persister. It returns (nil, nil) for unknown
// conversations.
func (s *Store) Load(ctx context.Context, conversationID string) (*memory.AgentMemory, error) {
	var data []byte
	err := s.db.QueryRow(ctx,
		`SELECT data FROM agent_memory WHERE conversation_id = $1`, conversationID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load memory %s: %w", conversationID, err)
	}

	var mem memory.AgentMemory
	if err := json.Unmarshal(data, &mem); err != nil {
		return nil, fmt.Errorf("decode memory %s: %w", conversationID, err)
	}
	return &mem, nil
}

// Save implements memory.Persister by upserting the full snapshot.
func (s *Store) Save(ctx context.Context, mem memory.AgentMemory) error {
	data, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("encode memory %s: %w", mem.ConversationID, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO agent_memory (conversation_id, data, interactions, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id) DO UPDATE SET
			data = EXCLUDED.data,
			interactions = EXCLUDED.interactions,
			updated_at = EXCLUDED.updated_at`,
		mem.ConversationID, data, len(mem.InteractionHistory), mem.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("save memory %s: %w", mem.ConversationID, err)
	}
	return nil
}

// ConversationIDs lists persisted conversations, most recently updated first.
func (s *Store) ConversationIDs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		`SELECT conversation_id FROM agent_memory ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
