// Package orchestrator turns a free-text goal into a bounded plan of steps,
// executes the steps in order and summarizes the results.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DefaultMaxSteps applies when a request leaves MaxSteps unset. It matches
// the tool schema's default.
const DefaultMaxSteps = 10

// Orchestrator couples a planning policy with an executor.
type Orchestrator struct {
	policy   Policy
	executor *Executor
	logger   *zap.Logger
}

// New creates an orchestrator. A nil policy selects the baseline policy.
func New(policy Policy, executor *Executor, logger *zap.Logger) *Orchestrator {
	if policy == nil {
		policy = NewBaselinePolicy()
	}
	if executor == nil {
		executor = NewExecutor(logger)
	}
	return &Orchestrator{policy: policy, executor: executor, logger: logger}
}

// Executor exposes the step executor so callers can register handlers.
func (o *Orchestrator) Executor() *Executor { return o.executor }

// Run plans, executes and synthesizes one goal.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Outcome, error) {
	if strings.TrimSpace(req.Goal) == "" {
		return Outcome{}, ErrEmptyGoal
	}
	if req.MaxSteps <= 0 {
		req.MaxSteps = DefaultMaxSteps
	}

	plan, err := o.policy.Plan(ctx, req)
	if err != nil {
		return Outcome{}, fmt.Errorf("plan goal: %w", err)
	}
	if len(plan.Steps) > req.MaxSteps {
		o.logger.Warn("policy exceeded step budget, truncating",
			zap.Int("planned", len(plan.Steps)),
			zap.Int("max_steps", req.MaxSteps))
		plan.Steps = plan.Steps[:req.MaxSteps]
	}

	results, err := o.executor.Execute(ctx, plan)
	if err != nil {
		return Outcome{Goal: req.Goal, Plan: plan, Results: results}, err
	}

	summary, err := o.policy.Synthesize(ctx, req.Goal, results)
	if err != nil {
		return Outcome{Goal: req.Goal, Plan: plan, Results: results}, fmt.Errorf("synthesize results: %w", err)
	}

	o.logger.Info("orchestration completed",
		zap.String("goal", req.Goal),
		zap.Int("steps", len(results)))
	return Outcome{Goal: req.Goal, Plan: plan, Results: results, Summary: summary}, nil
}

// Render formats an outcome the way the orchestration tool reports it.
func Render(o Outcome) string {
	return fmt.Sprintf("**Goal:** %s\n\n**Result:**\n%s", o.Goal, o.Summary)
}
