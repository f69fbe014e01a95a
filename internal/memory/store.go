package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store owns every AgentMemory in the process. Entries are created on first
// reference and never evicted.
type Store struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	persisters []Persister
	logger     *zap.Logger
	now        func() time.Time
}

type entry struct {
	mu  sync.Mutex
	mem AgentMemory
}

// NewStore creates a memory store. Persisters are consulted on first
// reference and notified after every mutation.
func NewStore(logger *zap.Logger, persisters ...Persister) *Store {
	return &Store{
		entries:    make(map[string]*entry),
		persisters: persisters,
		logger:     logger,
		now:        time.Now,
	}
}

// Len returns the number of conversations held in memory.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Get returns a snapshot of the conversation's memory with its interaction
// history narrowed to tr. An empty id yields an empty, unstored snapshot.
func (s *Store) Get(ctx context.Context, conversationID string, tr TimeRange) AgentMemory {
	if conversationID == "" {
		return newMemory("", s.now())
	}
	e := s.entry(ctx, conversationID)

	e.mu.Lock()
	snap := e.mem.clone()
	e.mu.Unlock()

	if w := tr.Window(); w > 0 {
		cutoff := s.now().Add(-w)
		kept := snap.InteractionHistory[:0]
		for _, r := range snap.InteractionHistory {
			if !r.Timestamp.Before(cutoff) {
				kept = append(kept, r)
			}
		}
		snap.InteractionHistory = kept
	}
	return snap
}

// RecordInteraction appends an exchange to the conversation history.
func (s *Store) RecordInteraction(ctx context.Context, conversationID string, rec InteractionRecord) {
	if conversationID == "" {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	rec.Metadata = cloneMap(rec.Metadata)
	s.mutate(ctx, conversationID, func(m *AgentMemory) {
		m.InteractionHistory = append(m.InteractionHistory, rec)
	})
}

// RecordLearning derives insights for focus from the interaction and
// feedback, appends them to learnedPatterns and returns them. Interactions
// carrying a message are logged into the history as well.
func (s *Store) RecordLearning(ctx context.Context, conversationID string, interaction map[string]any, focus LearningFocus, feedback map[string]any) LearningResult {
	now := s.now()
	result := deriveLearning(interaction, focus, feedback)
	if conversationID == "" {
		return result
	}

	s.mutate(ctx, conversationID, func(m *AgentMemory) {
		if rec, ok := interactionFromData(interaction, feedback, now); ok {
			m.InteractionHistory = append(m.InteractionHistory, rec)
		}
		for k, v := range result.profile {
			m.UserProfile[k] = v
		}
		for k, v := range result.preferences {
			m.Preferences[k] = v
		}
		m.LearnedPatterns = append(m.LearnedPatterns, LearnedPattern{
			Focus:       result.Focus,
			Insights:    append([]string(nil), result.Insights...),
			Adaptations: append([]string(nil), result.Adaptations...),
			Confidence:  result.Confidence,
			LearnedAt:   now,
		})
	})
	return result
}

// mutate applies fn under the entry lock and then persists the result.
// Persistence failures are logged and do not undo the mutation.
func (s *Store) mutate(ctx context.Context, conversationID string, fn func(*AgentMemory)) {
	e := s.entry(ctx, conversationID)

	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.mem)
	e.mem.LastUpdated = s.now()

	if len(s.persisters) == 0 {
		return
	}
	snap := e.mem.clone()
	for _, p := range s.persisters {
		if err := p.Save(ctx, snap); err != nil {
			s.logger.Warn("persist memory failed",
				zap.String("conversation", conversationID), zap.Error(err))
		}
	}
}

// entry returns the conversation's entry, creating it (and loading any
// persisted snapshot) on first reference.
func (s *Store) entry(ctx context.Context, conversationID string) *entry {
	s.mu.RLock()
	e, ok := s.entries[conversationID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	loaded := s.load(ctx, conversationID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[conversationID]; ok {
		return e
	}
	e = &entry{mem: loaded}
	s.entries[conversationID] = e
	return e
}

func (s *Store) load(ctx context.Context, conversationID string) AgentMemory {
	for _, p := range s.persisters {
		mem, err := p.Load(ctx, conversationID)
		if err != nil {
			s.logger.Warn("load memory failed",
				zap.String("conversation", conversationID), zap.Error(err))
			continue
		}
		if mem != nil {
			m := *mem
			m.ConversationID = conversationID
			m.normalize()
			return m.clone()
		}
	}
	return newMemory(conversationID, s.now())
}
