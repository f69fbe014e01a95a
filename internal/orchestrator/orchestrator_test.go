package orchestrator

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

func TestRunBaselinePipeline(t *testing.T) {
	o := New(nil, nil, zap.NewNop())
	out, err := o.Run(context.Background(), Request{Goal: "Summarize Earl's projects", MaxSteps: 5})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{ToolContextGathering, ToolAnalysis, ToolSynthesis}
	if len(out.Plan.Steps) != len(want) || len(out.Results) != len(want) {
		t.Fatalf("plan=%d results=%d, want %d", len(out.Plan.Steps), len(out.Results), len(want))
	}
	for i, tool := range want {
		if out.Plan.Steps[i].Tool != tool {
			t.Errorf("step %d tool = %s, want %s", i, out.Plan.Steps[i].Tool, tool)
		}
		r := out.Results[i]
		if r.Tool != tool || r.Result != "Executed "+tool+" successfully" || r.Confidence != DefaultStepConfidence {
			t.Errorf("result %d = %+v", i, r)
		}
	}
	for i, s := range out.Plan.Steps {
		if s.Params["goal"] != "Summarize Earl's projects" {
			t.Errorf("step %d params = %v", i, s.Params)
		}
	}
	if out.Summary != "Goal 'Summarize Earl's projects' achieved through 3 orchestrated steps." {
		t.Errorf("summary = %q", out.Summary)
	}
	if got := Render(out); got != "**Goal:** Summarize Earl's projects\n\n**Result:**\n"+out.Summary {
		t.Errorf("render = %q", got)
	}
}

func TestRunRespectsMaxSteps(t *testing.T) {
	o := New(nil, nil, zap.NewNop())
	for _, limit := range []int{1, 2, 3, 20} {
		out, err := o.Run(context.Background(), Request{Goal: "g", MaxSteps: limit})
		if err != nil {
			t.Fatalf("max=%d: %v", limit, err)
		}
		if len(out.Plan.Steps) > limit {
			t.Errorf("max=%d: plan has %d steps", limit, len(out.Plan.Steps))
		}
		if len(out.Results) != len(out.Plan.Steps) {
			t.Errorf("max=%d: results=%d plan=%d", limit, len(out.Results), len(out.Plan.Steps))
		}
	}
}

func TestRunDefaultStepBudget(t *testing.T) {
	if DefaultMaxSteps != 10 {
		t.Fatalf("DefaultMaxSteps = %d, want the schema default 10", DefaultMaxSteps)
	}
	o := New(&greedyPolicy{}, nil, zap.NewNop())
	out, err := o.Run(context.Background(), Request{Goal: "g"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Plan.Steps) != DefaultMaxSteps || len(out.Results) != DefaultMaxSteps {
		t.Errorf("plan=%d results=%d, want %d", len(out.Plan.Steps), len(out.Results), DefaultMaxSteps)
	}
}

func TestRunEmptyGoal(t *testing.T) {
	o := New(nil, nil, zap.NewNop())
	for _, g := range []string{"", "  \t"} {
		if _, err := o.Run(context.Background(), Request{Goal: g}); !errors.Is(err, ErrEmptyGoal) {
			t.Errorf("goal %q: err = %v", g, err)
		}
	}
}

func TestConstraintsBecomeMetadata(t *testing.T) {
	o := New(nil, nil, zap.NewNop())
	constraints := map[string]any{"budget": "low", "limits": map[string]any{"time": "1h"}}
	out, err := o.Run(context.Background(), Request{
		Goal:           "g",
		MaxSteps:       3,
		Constraints:    constraints,
		AvailableTools: []string{"advanced_query"},
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, s := range out.Plan.Steps {
		c, ok := s.Metadata["constraints"].(map[string]any)
		if !ok || c["budget"] != "low" {
			t.Errorf("step %d metadata = %v", i, s.Metadata)
		}
		tools, _ := s.Metadata["available_tools"].([]string)
		if len(tools) != 1 || tools[0] != "advanced_query" {
			t.Errorf("step %d tools = %v", i, s.Metadata["available_tools"])
		}
	}
	constraints["limits"].(map[string]any)["time"] = "2h"
	if got := out.Plan.Steps[0].Metadata["constraints"].(map[string]any)["limits"].(map[string]any)["time"]; got != "1h" {
		t.Errorf("metadata aliases caller map: %v", got)
	}
}

func TestStepFailureAborts(t *testing.T) {
	boom := errors.New("analysis backend down")
	exec := NewExecutor(zap.NewNop())
	exec.Handle(ToolAnalysis, func(context.Context, Step) (StepResult, error) { return StepResult{}, boom })
	synthCalled := false
	exec.Handle(ToolSynthesis, func(_ context.Context, s Step) (StepResult, error) {
		synthCalled = true
		return StepResult{Result: "ok", Confidence: 1}, nil
	})

	out, err := New(nil, exec, zap.NewNop()).Run(context.Background(), Request{Goal: "g", MaxSteps: 3})
	var serr *StepError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want *StepError", err)
	}
	if serr.Index != 1 || serr.Tool != ToolAnalysis || !errors.Is(err, boom) {
		t.Errorf("step error = %+v", serr)
	}
	if synthCalled {
		t.Error("later steps ran after failure")
	}
	if len(out.Results) != 1 || out.Summary != "" {
		t.Errorf("partial outcome = %+v", out)
	}
}

func TestHandlerPanicBecomesStepError(t *testing.T) {
	exec := NewExecutor(zap.NewNop())
	exec.Handle(ToolContextGathering, func(context.Context, Step) (StepResult, error) { panic("nil map") })
	_, err := New(nil, exec, zap.NewNop()).Run(context.Background(), Request{Goal: "g", MaxSteps: 3})
	var serr *StepError
	if !errors.As(err, &serr) || serr.Index != 0 {
		t.Fatalf("err = %v", err)
	}
}

type greedyPolicy struct{ BaselinePolicy }

func (greedyPolicy) Plan(_ context.Context, req Request) (Plan, error) {
	steps := make([]Step, req.MaxSteps+4)
	for i := range steps {
		steps[i] = Step{Tool: "noop"}
	}
	return Plan{Goal: req.Goal, Steps: steps}, nil
}

func TestOverlongPlanTruncated(t *testing.T) {
	o := New(&greedyPolicy{}, nil, zap.NewNop())
	out, err := o.Run(context.Background(), Request{Goal: "g", MaxSteps: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Plan.Steps) != 2 || len(out.Results) != 2 {
		t.Errorf("plan=%d results=%d", len(out.Plan.Steps), len(out.Results))
	}
}

func TestCancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil, nil, zap.NewNop()).Run(ctx, Request{Goal: "g", MaxSteps: 3})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}
