// Package dispatch is the tool-call boundary. It validates arguments, routes
// each call to its engine and converts every outcome, including failures and
// panics, into content blocks.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/digitwin/internal/memory"
	"github.com/nidhogg/digitwin/internal/orchestrator"
	"github.com/nidhogg/digitwin/internal/provider"
	"github.com/nidhogg/digitwin/internal/reasoning"
	"github.com/nidhogg/digitwin/internal/registry"
	"github.com/nidhogg/digitwin/internal/resource"
	"github.com/nidhogg/digitwin/internal/synthesis"
	"github.com/nidhogg/digitwin/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultConversation receives learning updates that name no session.
const DefaultConversation = "default"

// Content is one text block of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is the outcome of one tool call. IsError marks failures reported
// as data.
type Result struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text returns the first block's text.
func (r Result) Text() string {
	if len(r.Content) == 0 {
		return ""
	}
	return r.Content[0].Text
}

func text(blocks ...string) Result {
	out := Result{Content: make([]Content, len(blocks))}
	for i, b := range blocks {
		out.Content[i] = Content{Type: "text", Text: b}
	}
	return out
}

func failure(msg string) Result {
	r := text(msg)
	r.IsError = true
	return r
}

// Deps are the engines behind the tools.
type Deps struct {
	Registry     *registry.Registry
	Engine       *reasoning.Engine
	Memory       *memory.Store
	Orchestrator *orchestrator.Orchestrator
	Synthesizer  *synthesis.Synthesizer
	Metrics      *telemetry.Recorder
	Resources    *resource.Exposer
	// Limiter is optional; nil disables rate limiting.
	Limiter *rate.Limiter
}

// Dispatcher routes tool calls and resource reads.
type Dispatcher struct {
	deps   Deps
	logger *zap.Logger
	now    func() time.Time
}

// New creates a dispatcher.
func New(deps Deps, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{deps: deps, logger: logger, now: time.Now}
}

// NewLimiter allows requests calls per window with a burst of requests.
func NewLimiter(requests int, window time.Duration) *rate.Limiter {
	if requests <= 0 || window <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(requests)/window.Seconds()), requests)
}

// Tools lists the registry catalog.
func (d *Dispatcher) Tools() []registry.Descriptor { return d.deps.Registry.List() }

// Resources lists the readable resources.
func (d *Dispatcher) Resources() []resource.Descriptor { return d.deps.Resources.List() }

// CallTool runs one tool call. It never fails; every outcome is content.
func (d *Dispatcher) CallTool(ctx context.Context, name string, args map[string]any) (res Result) {
	start := d.now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool call panicked", zap.String("tool", name), zap.Any("panic", r), zap.Stack("stack"))
			res = failure("Tool execution failed: internal error")
		}
		elapsed := time.Since(start)
		if _, known := registry.ParseToolName(name); known {
			d.deps.Metrics.Observe(name, elapsed, res.IsError)
		}
		d.logger.Info("tool call",
			zap.String("tool", name),
			zap.Duration("duration", elapsed),
			zap.Bool("is_error", res.IsError))
	}()

	if d.deps.Limiter != nil && !d.deps.Limiter.Allow() {
		d.deps.Metrics.RateLimited()
		return failure("Rate limit exceeded, please retry later")
	}

	parsed, err := d.deps.Registry.Validate(name, args)
	switch {
	case errors.Is(err, registry.ErrUnknownTool):
		return failure("Unknown tool: " + name)
	case err != nil:
		return failure("Tool execution failed: " + err.Error())
	}

	switch a := parsed.(type) {
	case *registry.AdvancedQueryArgs:
		return d.advancedQuery(ctx, a)
	case *registry.MemoryAnalysisArgs:
		return d.memoryAnalysis(ctx, a)
	case *registry.ToolOrchestrationArgs:
		return d.toolOrchestration(ctx, a)
	case *registry.ContextSynthesisArgs:
		return d.contextSynthesis(ctx, a)
	case *registry.AdaptiveLearningArgs:
		return d.adaptiveLearning(ctx, a)
	case *registry.PerformanceAnalyticsArgs:
		return d.performanceAnalytics(a)
	}
	panic(fmt.Sprintf("dispatch: unhandled arguments %T", parsed))
}

// ReadResource renders a resource. Unknown URIs yield a not-found text and
// ok=false.
func (d *Dispatcher) ReadResource(ctx context.Context, uri string) (string, bool) {
	body, err := d.deps.Resources.Read(ctx, uri)
	switch {
	case errors.Is(err, resource.ErrNotFound):
		return "Resource not found: " + uri, false
	case err != nil:
		d.logger.Error("resource read failed", zap.String("uri", uri), zap.Error(err))
		return "Failed to read resource: " + reason(err), false
	}
	return body, true
}

func (d *Dispatcher) advancedQuery(ctx context.Context, a *registry.AdvancedQueryArgs) Result {
	res, err := d.deps.Engine.Run(ctx, reasoning.Query{
		Question:     a.Question,
		Mode:         a.ReasoningMode,
		Depth:        a.ContextDepth,
		IncludeSteps: a.IncludeReasoningSteps,
	})
	if err != nil {
		if errors.Is(err, reasoning.ErrEmptyQuestion) {
			return failure("Question is required")
		}
		d.logger.Warn("advanced query failed", zap.String("question", a.Question), zap.Error(err))
		var qerr *reasoning.QueryError
		if errors.As(err, &qerr) {
			return failure(fmt.Sprintf("Advanced query failed: %q could not be answered (%s: %s)", qerr.Question, qerr.Step, reason(err)))
		}
		return failure("Advanced query failed: " + reason(err))
	}
	if res.Degraded {
		d.logger.Warn("advanced query degraded to fallback response", zap.String("chain_id", res.ChainID))
	}

	if a.SessionID != "" {
		d.deps.Memory.RecordInteraction(ctx, a.SessionID, memory.InteractionRecord{
			Timestamp: d.now(),
			Tool:      string(registry.AdvancedQuery),
			Input:     a.Question,
			Output:    res.Response,
			Metadata: map[string]any{
				"chain_id":       res.ChainID,
				"reasoning_mode": a.ReasoningMode,
				"degraded":       res.Degraded,
			},
		})
	}

	if res.Trace == "" {
		return text(res.Response)
	}
	return text(res.Response, reasoning.TraceHeader+res.Trace)
}

func (d *Dispatcher) memoryAnalysis(ctx context.Context, a *registry.MemoryAnalysisArgs) Result {
	kind, ok := memory.ParseAnalysisKind(a.AnalysisType)
	if !ok {
		return failure("Unknown analysis type: " + a.AnalysisType)
	}
	tr, ok := memory.ParseTimeRange(a.TimeRange)
	if !ok {
		return failure("Memory analysis failed: unknown time range " + a.TimeRange)
	}

	analysis, err := memory.Analyze(kind, d.deps.Memory.Get(ctx, a.SessionID, tr))
	if errors.Is(err, memory.ErrUnknownAnalysis) {
		return failure("Unknown analysis type: " + a.AnalysisType)
	}
	if err != nil {
		d.logger.Error("memory analysis failed", zap.Error(err))
		return failure("Memory analysis failed: " + reason(err))
	}
	return d.jsonResult("Memory analysis failed", analysis)
}

func (d *Dispatcher) toolOrchestration(ctx context.Context, a *registry.ToolOrchestrationArgs) Result {
	out, err := d.deps.Orchestrator.Run(ctx, orchestrator.Request{
		Goal:           a.Goal,
		AvailableTools: a.AvailableTools,
		Constraints:    a.Constraints,
		MaxSteps:       a.MaxSteps,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrEmptyGoal) {
			return failure("Goal is required for orchestration")
		}
		d.logger.Warn("tool orchestration failed", zap.String("goal", a.Goal), zap.Error(err))
		var serr *orchestrator.StepError
		if errors.As(err, &serr) {
			return failure(fmt.Sprintf("Tool orchestration failed: step %d (%s) did not complete: %s", serr.Index+1, serr.Tool, reason(err)))
		}
		return failure("Tool orchestration failed: " + reason(err))
	}
	return text(orchestrator.Render(out))
}

func (d *Dispatcher) contextSynthesis(ctx context.Context, a *registry.ContextSynthesisArgs) Result {
	format, err := synthesis.ParseOutputFormat(a.OutputFormat)
	if err != nil {
		return failure("Context synthesis failed: " + err.Error())
	}
	sources := make([]synthesis.Source, len(a.Sources))
	for i, s := range a.Sources {
		sources[i] = synthesis.Source{Type: s.Type, Content: s.Content, Weight: s.Weight}
	}

	out, err := d.deps.Synthesizer.Synthesize(ctx, a.SynthesisGoal, format, sources)
	if err != nil {
		if errors.Is(err, synthesis.ErrMissingInput) {
			return failure("Sources and synthesis goal are required")
		}
		d.logger.Warn("context synthesis failed", zap.Error(err))
		return failure("Context synthesis failed: " + reason(err))
	}
	return text(out)
}

func (d *Dispatcher) adaptiveLearning(ctx context.Context, a *registry.AdaptiveLearningArgs) Result {
	focus, ok := memory.ParseLearningFocus(a.LearningFocus)
	if !ok {
		return failure("Adaptive learning failed: unknown learning focus " + a.LearningFocus)
	}
	session := a.SessionID
	if session == "" {
		session = DefaultConversation
	}

	learned := d.deps.Memory.RecordLearning(ctx, session, a.InteractionData, focus, a.Feedback)
	if learned.Rating != nil {
		d.deps.Metrics.ObserveRating(*learned.Rating)
	}
	data, err := json.MarshalIndent(learned, "", "  ")
	if err != nil {
		d.logger.Error("encode learning result", zap.Error(err))
		return failure("Adaptive learning failed: " + reason(err))
	}
	return text("Learning completed. Insights: " + string(data))
}

func (d *Dispatcher) performanceAnalytics(a *registry.PerformanceAnalyticsArgs) Result {
	snap, err := d.deps.Metrics.Snapshot(a.MetricType, a.TimePeriod, a.Aggregation)
	if err != nil {
		return failure("Performance analytics failed: " + err.Error())
	}
	return d.jsonResult("Performance analytics failed", snap)
}

func (d *Dispatcher) jsonResult(prefix string, v any) Result {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		d.logger.Error("encode tool result", zap.Error(err))
		return failure(prefix + ": " + reason(err))
	}
	return text(string(data))
}

// reason maps an error to a caller-safe description. Raw detail stays in
// the logs.
func reason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, provider.ErrUpstream):
		return "upstream service unavailable"
	case errors.Is(err, telemetry.ErrUnknownMetric),
		errors.Is(err, telemetry.ErrUnknownPeriod),
		errors.Is(err, telemetry.ErrUnknownAggregation):
		return "unknown metric selector"
	}
	return "internal error"
}
