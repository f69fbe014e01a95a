package reasoning

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrChainNotFound     = errors.New("chain not found")
	ErrChainFrozen       = errors.New("chain is frozen")
	ErrUnknownDependency = errors.New("dependency not in chain")
)

// ChainTable holds every chain created during the process lifetime.
// A chain becomes visible to readers atomically on Create.
type ChainTable struct {
	mu     sync.RWMutex
	chains map[string]*chainEntry
	order  []string
}

type chainEntry struct {
	mu    sync.Mutex
	chain Chain
	index map[string]int // step id -> position
}

// Stats summarizes the table for the chains resource.
type Stats struct {
	TotalChains  int      `json:"total_chains"`
	ActiveChains []string `json:"active_chains"`
	AverageSteps float64  `json:"average_steps"`
}

// NewChainTable returns an empty table.
func NewChainTable() *ChainTable {
	return &ChainTable{chains: make(map[string]*chainEntry)}
}

// Create registers an empty running chain.
func (t *ChainTable) Create(id, question, mode string, startedAt time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.chains[id]; exists {
		return fmt.Errorf("chain %s already exists", id)
	}
	t.chains[id] = &chainEntry{
		chain: Chain{
			ID:        id,
			Question:  question,
			Mode:      mode,
			Status:    StatusRunning,
			Steps:     []Step{},
			StartedAt: startedAt,
		},
		index: make(map[string]int),
	}
	t.order = append(t.order, id)
	return nil
}

func (t *ChainTable) entry(id string) (*chainEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.chains[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChainNotFound, id)
	}
	return e, nil
}

// Append adds a step to a running chain. Every dependency must already be
// present in that chain, which keeps chains acyclic.
func (t *ChainTable) Append(chainID string, step Step) error {
	e, err := t.entry(chainID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.chain.Status != StatusRunning {
		return fmt.Errorf("%w: %s", ErrChainFrozen, chainID)
	}
	if _, dup := e.index[step.ID]; dup {
		return fmt.Errorf("step %s already in chain %s", step.ID, chainID)
	}
	for _, dep := range step.Dependencies {
		if _, ok := e.index[dep]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownDependency, dep)
		}
	}

	step.Input = cloneMap(step.Input)
	step.Output = map[string]any{}
	step.Dependencies = append([]string{}, step.Dependencies...)
	e.index[step.ID] = len(e.chain.Steps)
	e.chain.Steps = append(e.chain.Steps, step)
	return nil
}

// Complete records a step's output.
func (t *ChainTable) Complete(chainID, stepID string, output map[string]any) error {
	e, err := t.entry(chainID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.chain.Status != StatusRunning {
		return fmt.Errorf("%w: %s", ErrChainFrozen, chainID)
	}
	i, ok := e.index[stepID]
	if !ok {
		return fmt.Errorf("step %s not in chain %s", stepID, chainID)
	}
	e.chain.Steps[i].Output = cloneMap(output)
	return nil
}

// Finish freezes the chain with a terminal status. reason is served to
// clients as is, so it must not carry raw error detail.
func (t *ChainTable) Finish(chainID string, status Status, reason string, at time.Time) error {
	e, err := t.entry(chainID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.chain.Status != StatusRunning {
		return fmt.Errorf("%w: %s", ErrChainFrozen, chainID)
	}
	e.chain.Status = status
	e.chain.FinishedAt = at
	e.chain.Error = reason
	return nil
}

// Get returns a copy of the chain.
func (t *ChainTable) Get(id string) (Chain, bool) {
	e, err := t.entry(id)
	if err != nil {
		return Chain{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chain.clone(), true
}

// Len returns the number of chains.
func (t *ChainTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.chains)
}

// Stats reports chain ids in creation order and the mean step count, zero
// when the table is empty.
func (t *ChainTable) Stats() Stats {
	t.mu.RLock()
	ids := append([]string{}, t.order...)
	entries := make([]*chainEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, t.chains[id])
	}
	t.mu.RUnlock()

	var steps int
	for _, e := range entries {
		e.mu.Lock()
		steps += len(e.chain.Steps)
		e.mu.Unlock()
	}

	st := Stats{TotalChains: len(ids), ActiveChains: ids}
	if len(ids) > 0 {
		st.AverageSteps = float64(steps) / float64(len(ids))
	}
	return st
}
