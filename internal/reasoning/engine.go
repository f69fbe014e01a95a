package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/digitwin/internal/provider"
	"go.uber.org/zap"
)

// Fixed per-step confidences.
const (
	ContextConfidence    = 0.9
	AnalysisConfidence   = 0.85
	GenerationConfidence = 0.88
)

const (
	descContext    = "Gathering relevant context"
	descAnalysis   = "Analyzing question intent and complexity"
	descGeneration = "Generating response using advanced reasoning"
)

// ErrEmptyQuestion rejects a query before any chain is created.
var ErrEmptyQuestion = errors.New("question is required")

// ContextGatherer retrieves background material for a question.
type ContextGatherer interface {
	GatherContext(ctx context.Context, question string, depth int) (map[string]any, error)
}

// QuestionAnalyzer classifies a question's intent and complexity.
type QuestionAnalyzer interface {
	AnalyzeQuestion(ctx context.Context, question, mode string) (map[string]any, error)
}

// ResponseGenerator produces the final answer text.
type ResponseGenerator interface {
	GenerateResponse(ctx context.Context, question string, context, analysis map[string]any, mode string) (string, error)
}

// ChainRecorder is notified once a chain reaches a terminal state.
type ChainRecorder interface {
	RecordChain(ctx context.Context, chain Chain) error
}

// Query is one advanced-query request.
type Query struct {
	Question     string
	Mode         string
	Depth        int
	IncludeSteps bool
}

// Result is the outcome of a completed chain.
type Result struct {
	ChainID  string
	Response string
	// Trace is the formatted step listing, set only when requested.
	Trace string
	// Degraded is set when generation failed and the fallback text was used.
	Degraded bool
}

// QueryError reports a chain aborted by a collaborator failure. The partial
// chain stays in the table.
type QueryError struct {
	ChainID  string
	Question string
	Step     string
	Err      error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %q failed at %q: %v", e.Question, e.Step, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Engine runs the three-step reasoning chain for advanced queries.
type Engine struct {
	chains    *ChainTable
	gatherer  ContextGatherer
	analyzer  QuestionAnalyzer
	generator ResponseGenerator
	recorders []ChainRecorder
	logger    *zap.Logger
	now       func() time.Time
}

// NewEngine wires the engine to its chain table and collaborators.
func NewEngine(chains *ChainTable, g ContextGatherer, a QuestionAnalyzer, gen ResponseGenerator, logger *zap.Logger) *Engine {
	return &Engine{
		chains:    chains,
		gatherer:  g,
		analyzer:  a,
		generator: gen,
		logger:    logger,
		now:       time.Now,
	}
}

// AddRecorder registers a terminal-state observer.
func (e *Engine) AddRecorder(r ChainRecorder) {
	e.recorders = append(e.recorders, r)
}

// Chains exposes the engine's chain table.
func (e *Engine) Chains() *ChainTable { return e.chains }

// FallbackResponse is the degraded answer used when generation fails.
func FallbackResponse(question, mode string) string {
	return fmt.Sprintf("Advanced response for: %s (reasoning mode: %s)", question, mode)
}

// Run executes context gathering, question analysis and response generation
// in order. Context or analysis failures abort the chain with a *QueryError;
// generation failures fall back to FallbackResponse.
func (e *Engine) Run(ctx context.Context, q Query) (Result, error) {
	if strings.TrimSpace(q.Question) == "" {
		return Result{}, ErrEmptyQuestion
	}

	chainID := uuid.New().String()
	if err := e.chains.Create(chainID, q.Question, q.Mode, e.now()); err != nil {
		return Result{}, err
	}
	log := e.logger.With(zap.String("chain", chainID))

	ctxStep, err := e.begin(chainID, descContext, ContextConfidence,
		map[string]any{"question": q.Question, "depth": q.Depth})
	if err != nil {
		return Result{}, e.abort(ctx, chainID, q, descContext, err)
	}
	gathered, err := e.gatherer.GatherContext(ctx, q.Question, q.Depth)
	if err != nil {
		return Result{}, e.abort(ctx, chainID, q, descContext, err)
	}
	if err := e.chains.Complete(chainID, ctxStep, map[string]any{"context": gathered}); err != nil {
		return Result{}, e.abort(ctx, chainID, q, descContext, err)
	}

	analysisStep, err := e.begin(chainID, descAnalysis, AnalysisConfidence,
		map[string]any{"question": q.Question, "mode": q.Mode}, ctxStep)
	if err != nil {
		return Result{}, e.abort(ctx, chainID, q, descAnalysis, err)
	}
	analysis, err := e.analyzer.AnalyzeQuestion(ctx, q.Question, q.Mode)
	if err != nil {
		return Result{}, e.abort(ctx, chainID, q, descAnalysis, err)
	}
	if err := e.chains.Complete(chainID, analysisStep, analysis); err != nil {
		return Result{}, e.abort(ctx, chainID, q, descAnalysis, err)
	}

	genStep, err := e.begin(chainID, descGeneration, GenerationConfidence,
		map[string]any{
			"question": q.Question,
			"context":  gathered,
			"analysis": analysis,
			"mode":     q.Mode,
		}, ctxStep, analysisStep)
	if err != nil {
		return Result{}, e.abort(ctx, chainID, q, descGeneration, err)
	}

	res := Result{ChainID: chainID}
	res.Response, err = e.generator.GenerateResponse(ctx, q.Question, gathered, analysis, q.Mode)
	output := map[string]any{}
	if err != nil {
		log.Warn("response generation failed, using fallback", zap.Error(err))
		res.Response = FallbackResponse(q.Question, q.Mode)
		res.Degraded = true
		output["degraded"] = true
	}
	output["response"] = res.Response
	if err := e.chains.Complete(chainID, genStep, output); err != nil {
		return Result{}, e.abort(ctx, chainID, q, descGeneration, err)
	}

	if err := e.chains.Finish(chainID, StatusCompleted, "", e.now()); err != nil {
		return Result{}, err
	}
	chain, _ := e.chains.Get(chainID)
	e.notify(ctx, chain)

	if q.IncludeSteps {
		res.Trace = FormatSteps(chain.Steps)
	}
	log.Debug("chain completed", zap.Int("steps", len(chain.Steps)), zap.Bool("degraded", res.Degraded))
	return res, nil
}

func (e *Engine) begin(chainID, desc string, confidence float64, input map[string]any, deps ...string) (string, error) {
	step := Step{
		ID:           uuid.New().String(),
		Description:  desc,
		Input:        input,
		Confidence:   confidence,
		Timestamp:    e.now(),
		Dependencies: deps,
	}
	if err := e.chains.Append(chainID, step); err != nil {
		return "", err
	}
	return step.ID, nil
}

// abort freezes the partial chain as failed and reports the failure.
func (e *Engine) abort(ctx context.Context, chainID string, q Query, step string, cause error) error {
	e.logger.Error("reasoning chain aborted",
		zap.String("chain", chainID), zap.String("step", step), zap.Error(cause))
	if err := e.chains.Finish(chainID, StatusFailed, step+": "+failureReason(cause), e.now()); err != nil {
		e.logger.Warn("finish failed chain", zap.String("chain", chainID), zap.Error(err))
	}
	if chain, ok := e.chains.Get(chainID); ok {
		e.notify(ctx, chain)
	}
	return &QueryError{ChainID: chainID, Question: q.Question, Step: step, Err: cause}
}

// failureReason is the client-safe description of an abort cause. The raw
// error is only logged.
func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, provider.ErrUpstream):
		return "upstream service unavailable"
	}
	return "internal error"
}

// notify hands the frozen chain to each recorder; failures are logged only.
func (e *Engine) notify(ctx context.Context, chain Chain) {
	for _, r := range e.recorders {
		if err := r.RecordChain(ctx, chain); err != nil {
			e.logger.Warn("record chain failed", zap.String("chain", chain.ID), zap.Error(err))
		}
	}
}
