package reasoning

import (
	"time"
)

// Status tracks where a chain is in its lifecycle.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Step is a single unit of work inside a chain. Dependencies name steps that
// were appended to the same chain earlier.
type Step struct {
	ID           string         `json:"step_id"`
	Description  string         `json:"description"`
	Input        map[string]any `json:"input_data"`
	Output       map[string]any `json:"output_data"`
	Confidence   float64        `json:"confidence"`
	Timestamp    time.Time      `json:"timestamp"`
	Dependencies []string       `json:"dependencies"`
}

// Chain is the ordered record of steps produced for one query.
type Chain struct {
	ID         string    `json:"chain_id"`
	Question   string    `json:"question"`
	Mode       string    `json:"reasoning_mode"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Steps      []Step    `json:"steps"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

func (c Chain) clone() Chain {
	out := c
	out.Steps = make([]Step, len(c.Steps))
	for i, s := range c.Steps {
		s.Input = cloneMap(s.Input)
		s.Output = cloneMap(s.Output)
		s.Dependencies = append([]string{}, s.Dependencies...)
		out.Steps[i] = s
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	}
	return v
}
