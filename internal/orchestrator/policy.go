package orchestrator

import (
	"context"
	"fmt"
	"time"
)

// Policy decides what a plan looks like and how its results are summarized.
type Policy interface {
	Plan(ctx context.Context, req Request) (Plan, error)
	Synthesize(ctx context.Context, goal string, results []StepResult) (string, error)
}

// Pipeline stage names used by the baseline policy.
const (
	ToolContextGathering = "context_gathering"
	ToolAnalysis         = "analysis"
	ToolSynthesis        = "synthesis"
)

// BaselinePolicy always proposes context gathering, analysis and synthesis,
// truncated to MaxSteps. Constraints ride along as step metadata and never
// change the pipeline's shape.
type BaselinePolicy struct {
	now func() time.Time
}

// NewBaselinePolicy returns the fixed three-stage policy.
func NewBaselinePolicy() *BaselinePolicy {
	return &BaselinePolicy{now: time.Now}
}

func (p *BaselinePolicy) Plan(_ context.Context, req Request) (Plan, error) {
	steps := []Step{
		{Tool: ToolContextGathering, Params: map[string]any{"goal": req.Goal}},
		{Tool: ToolAnalysis, Params: map[string]any{"goal": req.Goal, "context": "gathered"}},
		{Tool: ToolSynthesis, Params: map[string]any{"goal": req.Goal, "analysis": "completed"}},
	}
	if req.MaxSteps < len(steps) {
		steps = steps[:max(req.MaxSteps, 0)]
	}
	for i := range steps {
		meta := map[string]any{}
		if len(req.Constraints) > 0 {
			meta["constraints"] = cloneMap(req.Constraints)
		}
		if len(req.AvailableTools) > 0 {
			meta["available_tools"] = append([]string(nil), req.AvailableTools...)
		}
		if len(meta) > 0 {
			steps[i].Metadata = meta
		}
	}
	return Plan{Goal: req.Goal, Steps: steps, CreatedAt: p.now()}, nil
}

func (p *BaselinePolicy) Synthesize(_ context.Context, goal string, results []StepResult) (string, error) {
	return fmt.Sprintf("Goal '%s' achieved through %d orchestrated steps.", goal, len(results)), nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			v = cloneMap(nested)
		}
		out[k] = v
	}
	return out
}
