package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/digitwin/internal/reasoning"
)

// RecordChain implements reasoning.ChainRecorder by archiving the chain.
func (s *Store) RecordChain(ctx context.Context, chain reasoning.Chain) error {
	steps, err := json.Marshal(chain.Steps)
	if err != nil {
		return fmt.Errorf("encode chain %s: %w", chain.ID, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO reasoning_chains (id, question, reasoning_mode, status, error, steps, started_at, finished_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			steps = EXCLUDED.steps,
			finished_at = EXCLUDED.finished_at`,
		chain.ID, chain.Question, chain.Mode, string(chain.Status), chain.Error,
		steps, chain.StartedAt, chain.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record chain %s: %w", chain.ID, err)
	}
	return nil
}

// RecentChains returns archived chains, newest first.
func (s *Store) RecentChains(ctx context.Context, limit int) ([]reasoning.Chain, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, question, reasoning_mode, status, COALESCE(error, ''), steps, started_at, finished_at
		FROM reasoning_chains
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query chains: %w", err)
	}
	defer rows.Close()

	var chains []reasoning.Chain
	for rows.Next() {
		var c reasoning.Chain
		var status string
		var steps []byte
		if err := rows.Scan(&c.ID, &c.Question, &c.Mode, &status, &c.Error, &steps, &c.StartedAt, &c.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan chain: %w", err)
		}
		c.Status = reasoning.Status(status)
		if err := json.Unmarshal(steps, &c.Steps); err != nil {
			return nil, fmt.Errorf("decode steps of %s: %w", c.ID, err)
		}
		chains = append(chains, c)
	}
	return chains, rows.Err()
}
