package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptyGoal rejects a request before planning starts.
var ErrEmptyGoal = errors.New("goal is required")

// Request is one tool-orchestration call.
type Request struct {
	Goal           string
	AvailableTools []string
	Constraints    map[string]any
	MaxSteps       int
}

// Step is a single tool invocation inside a plan.
type Step struct {
	Tool     string         `json:"tool"`
	Params   map[string]any `json:"params"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Plan is the ordered list of steps produced for one goal. It lives only for
// the duration of the request.
type Plan struct {
	Goal      string    `json:"goal"`
	Steps     []Step    `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
}

// StepResult is the record returned by executing one step.
type StepResult struct {
	Tool       string        `json:"tool"`
	Result     string        `json:"result"`
	Confidence float64       `json:"confidence"`
	Duration   time.Duration `json:"duration"`
}

// Outcome is a fully executed and synthesized plan.
type Outcome struct {
	Goal    string       `json:"goal"`
	Plan    Plan         `json:"plan"`
	Results []StepResult `json:"results"`
	Summary string       `json:"summary"`
}

// StepError reports the step that aborted a plan.
type StepError struct {
	Index int
	Tool  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index+1, e.Tool, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
