package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nidhogg/digitwin/internal/orchestrator"
	"github.com/nidhogg/digitwin/internal/reasoning"
	"github.com/nidhogg/digitwin/internal/synthesis"
)

// StepContextDepth is the retrieval depth of an orchestration context step.
const StepContextDepth = 3

var errStepParam = errors.New("step parameter missing")

// StepEngines are the collaborators behind the baseline orchestration stages.
type StepEngines struct {
	Gatherer    reasoning.ContextGatherer
	Analyzer    reasoning.QuestionAnalyzer
	Synthesizer *synthesis.Synthesizer
}

// RegisterStepHandlers binds each baseline stage to its engine. A handler
// reads only its own step's params.
func RegisterStepHandlers(exec *orchestrator.Executor, e StepEngines) {
	if e.Gatherer != nil {
		exec.Handle(orchestrator.ToolContextGathering, gatherStep(e.Gatherer))
	}
	if e.Analyzer != nil {
		exec.Handle(orchestrator.ToolAnalysis, analyzeStep(e.Analyzer))
	}
	if e.Synthesizer != nil {
		exec.Handle(orchestrator.ToolSynthesis, synthesizeStep(e.Synthesizer))
	}
}

func gatherStep(g reasoning.ContextGatherer) orchestrator.StepHandler {
	return func(ctx context.Context, step orchestrator.Step) (orchestrator.StepResult, error) {
		goal, err := stringParam(step, "goal")
		if err != nil {
			return orchestrator.StepResult{}, err
		}
		gathered, err := g.GatherContext(ctx, goal, StepContextDepth)
		if err != nil {
			return orchestrator.StepResult{}, fmt.Errorf("gather context: %w", err)
		}
		res := orchestrator.StepResult{Result: "Gathered context", Confidence: 0.9}
		if sources, _ := gathered["sources"].([]string); len(sources) > 0 {
			res.Result += " from " + strings.Join(sources, ", ")
		}
		return res, nil
	}
}

func analyzeStep(a reasoning.QuestionAnalyzer) orchestrator.StepHandler {
	return func(ctx context.Context, step orchestrator.Step) (orchestrator.StepResult, error) {
		goal, err := stringParam(step, "goal")
		if err != nil {
			return orchestrator.StepResult{}, err
		}
		analysis, err := a.AnalyzeQuestion(ctx, goal, "analytical")
		if err != nil {
			return orchestrator.StepResult{}, fmt.Errorf("analyze goal: %w", err)
		}
		return orchestrator.StepResult{
			Result:     fmt.Sprintf("Analyzed goal: intent %v, complexity %v", analysis["intent"], analysis["complexity"]),
			Confidence: 0.85,
		}, nil
	}
}

func synthesizeStep(s *synthesis.Synthesizer) orchestrator.StepHandler {
	return func(ctx context.Context, step orchestrator.Step) (orchestrator.StepResult, error) {
		goal, err := stringParam(step, "goal")
		if err != nil {
			return orchestrator.StepResult{}, err
		}
		analysis, _ := step.Params["analysis"].(string)
		out, err := s.Synthesize(ctx, goal, synthesis.FormatSummary, []synthesis.Source{
			{Type: "analysis", Content: analysis},
		})
		if err != nil {
			return orchestrator.StepResult{}, err
		}
		return orchestrator.StepResult{Result: out, Confidence: 0.8}, nil
	}
}

func stringParam(step orchestrator.Step, key string) (string, error) {
	v, _ := step.Params[key].(string)
	if strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: %s.%s", errStepParam, step.Tool, key)
	}
	return v, nil
}
