package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/digitwin/internal/memory"
	"github.com/nidhogg/digitwin/internal/orchestrator"
	"github.com/nidhogg/digitwin/internal/provider"
	"github.com/nidhogg/digitwin/internal/reasoning"
	"github.com/nidhogg/digitwin/internal/registry"
	"github.com/nidhogg/digitwin/internal/resource"
	"github.com/nidhogg/digitwin/internal/retrieval"
	"github.com/nidhogg/digitwin/internal/synthesis"
	"github.com/nidhogg/digitwin/internal/telemetry"
	"go.uber.org/zap"
)

type generatorFunc func(ctx context.Context, question string, c, a map[string]any, mode string) (string, error)

func (f generatorFunc) GenerateResponse(ctx context.Context, question string, c, a map[string]any, mode string) (string, error) {
	return f(ctx, question, c, a, mode)
}

type fixture struct {
	d       *Dispatcher
	chains  *reasoning.ChainTable
	store   *memory.Store
	metrics *telemetry.Recorder
	exec    *orchestrator.Executor
}

func newFixture(t *testing.T, gen reasoning.ResponseGenerator) *fixture {
	t.Helper()
	logger := zap.NewNop()
	if gen == nil {
		gen = generatorFunc(func(context.Context, string, map[string]any, map[string]any, string) (string, error) {
			return "Earl is a software engineer.", nil
		})
	}
	chains := reasoning.NewChainTable()
	store := memory.NewStore(logger)
	metrics := telemetry.NewRecorder(0)
	engine := reasoning.NewEngine(chains, retrieval.NewGatherer(nil, nil, nil, logger), reasoning.HeuristicAnalyzer{}, gen, logger)
	exec := orchestrator.NewExecutor(logger)

	d := New(Deps{
		Registry:     registry.New(),
		Engine:       engine,
		Memory:       store,
		Orchestrator: orchestrator.New(nil, exec, logger),
		Synthesizer:  synthesis.New(nil, logger),
		Metrics:      metrics,
		Resources:    resource.NewExposer(store, chains, metrics, ""),
	}, logger)
	return &fixture{d: d, chains: chains, store: store, metrics: metrics, exec: exec}
}

func TestAdvancedQueryScenario(t *testing.T) {
	f := newFixture(t, nil)
	res := f.d.CallTool(context.Background(), "advanced_query", map[string]any{
		"question":       "What is Earl's background?",
		"reasoning_mode": "analytical",
	})
	if res.IsError || len(res.Content) != 1 || res.Text() != "Earl is a software engineer." {
		t.Fatalf("result = %+v", res)
	}

	res = f.d.CallTool(context.Background(), "advanced_query", map[string]any{
		"question":                "What is Earl's background?",
		"include_reasoning_steps": true,
	})
	if len(res.Content) != 2 {
		t.Fatalf("blocks = %d", len(res.Content))
	}
	trace := res.Content[1].Text
	if !strings.HasPrefix(trace, "\n\n**Reasoning Steps:**\n1. **Gathering relevant context**") {
		t.Errorf("trace = %q", trace)
	}
	if strings.Count(trace, "   - Confidence: ") != 3 {
		t.Errorf("trace should list three steps: %q", trace)
	}
}

func TestAdvancedQueryEmptyQuestion(t *testing.T) {
	f := newFixture(t, nil)
	res := f.d.CallTool(context.Background(), "advanced_query", map[string]any{"question": ""})
	if res.Text() != "Question is required" {
		t.Errorf("text = %q", res.Text())
	}
	if f.chains.Len() != 0 {
		t.Errorf("chains = %d, want 0", f.chains.Len())
	}
}

func TestAdvancedQueryMissingQuestion(t *testing.T) {
	f := newFixture(t, nil)
	for _, args := range []map[string]any{{}, {"question": nil}} {
		res := f.d.CallTool(context.Background(), "advanced_query", args)
		if !res.IsError || res.Text() != "Question is required" {
			t.Errorf("args %v: result = %+v", args, res)
		}
	}
	if f.chains.Len() != 0 {
		t.Errorf("chains = %d, want 0", f.chains.Len())
	}
}

func TestAdvancedQueryDegradedGeneration(t *testing.T) {
	f := newFixture(t, generatorFunc(func(context.Context, string, map[string]any, map[string]any, string) (string, error) {
		return "", provider.ErrUpstream
	}))
	res := f.d.CallTool(context.Background(), "advanced_query", map[string]any{"question": "Plan my week", "reasoning_mode": "strategic"})
	if res.IsError || res.Text() != "Advanced response for: Plan my week (reasoning mode: strategic)" {
		t.Errorf("result = %+v", res)
	}
}

func TestAdvancedQueryRecordsSession(t *testing.T) {
	f := newFixture(t, nil)
	f.d.CallTool(context.Background(), "advanced_query", map[string]any{"question": "Who is Earl?", "session_id": "s1"})
	mem := f.store.Get(context.Background(), "s1", memory.AllTime)
	if len(mem.InteractionHistory) != 1 || mem.InteractionHistory[0].Input != "Who is Earl?" {
		t.Errorf("history = %+v", mem.InteractionHistory)
	}
}

func TestUnknownTool(t *testing.T) {
	f := newFixture(t, nil)
	res := f.d.CallTool(context.Background(), "teleport", nil)
	if res.Text() != "Unknown tool: teleport" {
		t.Errorf("text = %q", res.Text())
	}
}

func TestMemoryAnalysis(t *testing.T) {
	f := newFixture(t, nil)
	res := f.d.CallTool(context.Background(), "memory_analysis", map[string]any{"analysis_type": "topics"})
	if res.IsError {
		t.Fatalf("result = %+v", res)
	}
	var a memory.Analysis
	if err := json.Unmarshal([]byte(res.Text()), &a); err != nil {
		t.Fatalf("decode: %v\n%s", err, res.Text())
	}
	if a.AnalysisType != memory.Topics {
		t.Errorf("analysis = %+v", a)
	}
	if f.store.Len() != 0 {
		t.Errorf("analysis without session created an entry")
	}

	bad := f.d.CallTool(context.Background(), "memory_analysis", map[string]any{"analysis_type": "astrology"})
	if !bad.IsError || bad.Text() != "Unknown analysis type: astrology" {
		t.Errorf("unknown analysis = %+v", bad)
	}
}

func TestMemoryAnalysisUnknownKind(t *testing.T) {
	f := newFixture(t, nil)
	res := f.d.CallTool(context.Background(), "memory_analysis", map[string]any{
		"analysis_type": "unknown_kind",
		"session_id":    "s1",
	})
	if !res.IsError || res.Text() != "Unknown analysis type: unknown_kind" {
		t.Errorf("result = %+v", res)
	}
	if f.store.Len() != 0 {
		t.Errorf("unknown analysis touched memory")
	}
}

func TestToolOrchestration(t *testing.T) {
	f := newFixture(t, nil)
	res := f.d.CallTool(context.Background(), "tool_orchestration", map[string]any{"goal": "Draft a resume"})
	want := "**Goal:** Draft a resume\n\n**Result:**\nGoal 'Draft a resume' achieved through 3 orchestrated steps."
	if res.Text() != want {
		t.Errorf("text = %q", res.Text())
	}

	for _, args := range []map[string]any{{"goal": ""}, {}, {"goal": nil}} {
		if got := f.d.CallTool(context.Background(), "tool_orchestration", args).Text(); got != "Goal is required for orchestration" {
			t.Errorf("args %v: text = %q", args, got)
		}
	}
}

type recordingGatherer struct {
	mu      sync.Mutex
	queries []string
	err     error
}

func (g *recordingGatherer) GatherContext(_ context.Context, question string, depth int) (map[string]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries = append(g.queries, question)
	if g.err != nil {
		return nil, g.err
	}
	return map[string]any{"sources": []string{"profile"}, "depth_level": depth}, nil
}

type recordingSynthesis struct {
	mu   sync.Mutex
	reqs []synthesis.Request
}

func (g *recordingSynthesis) Synthesize(_ context.Context, req synthesis.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	return "synthesized", nil
}

func TestToolOrchestrationRunsStageHandlers(t *testing.T) {
	f := newFixture(t, nil)
	gatherer := &recordingGatherer{}
	synth := &recordingSynthesis{}
	RegisterStepHandlers(f.exec, StepEngines{
		Gatherer:    gatherer,
		Analyzer:    reasoning.HeuristicAnalyzer{},
		Synthesizer: synthesis.New(synth, zap.NewNop()),
	})

	res := f.d.CallTool(context.Background(), "tool_orchestration", map[string]any{"goal": "Draft a resume"})
	if res.IsError || !strings.HasSuffix(res.Text(), "achieved through 3 orchestrated steps.") {
		t.Fatalf("result = %+v", res)
	}
	if len(gatherer.queries) != 1 || gatherer.queries[0] != "Draft a resume" {
		t.Errorf("gatherer queries = %v", gatherer.queries)
	}
	if len(synth.reqs) != 1 {
		t.Fatalf("synthesis requests = %d, want 1", len(synth.reqs))
	}
	req := synth.reqs[0]
	if req.Goal != "Draft a resume" || req.Format != synthesis.FormatSummary || len(req.Sources) != 1 {
		t.Errorf("synthesis request = %+v", req)
	}
}

func TestToolOrchestrationStageHandlerFailure(t *testing.T) {
	f := newFixture(t, nil)
	RegisterStepHandlers(f.exec, StepEngines{
		Gatherer: &recordingGatherer{err: fmt.Errorf("qdrant at 10.0.0.7: %w", provider.ErrUpstream)},
	})
	res := f.d.CallTool(context.Background(), "tool_orchestration", map[string]any{"goal": "g"})
	want := "Tool orchestration failed: step 1 (context_gathering) did not complete: upstream service unavailable"
	if !res.IsError || res.Text() != want {
		t.Errorf("text = %q", res.Text())
	}
}

func TestToolOrchestrationStepFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.exec.Handle(orchestrator.ToolAnalysis, func(context.Context, orchestrator.Step) (orchestrator.StepResult, error) {
		return orchestrator.StepResult{}, errors.New("db password=hunter2 rejected")
	})
	res := f.d.CallTool(context.Background(), "tool_orchestration", map[string]any{"goal": "g"})
	if !res.IsError || !strings.HasPrefix(res.Text(), "Tool orchestration failed: step 2 (analysis)") {
		t.Errorf("text = %q", res.Text())
	}
	if strings.Contains(res.Text(), "hunter2") {
		t.Errorf("raw error leaked: %q", res.Text())
	}
}

func TestContextSynthesis(t *testing.T) {
	f := newFixture(t, nil)
	res := f.d.CallTool(context.Background(), "context_synthesis", map[string]any{
		"sources": []any{
			map[string]any{"type": "a", "content": "x", "weight": 0.5},
			map[string]any{"type": "b", "content": "y"},
		},
		"synthesis_goal": "compare",
	})
	if res.Text() != "Synthesized analysis for goal: compare from 2 sources." {
		t.Errorf("text = %q", res.Text())
	}

	empty := f.d.CallTool(context.Background(), "context_synthesis", map[string]any{"sources": []any{}, "synthesis_goal": "g"})
	if empty.Text() != "Sources and synthesis goal are required" {
		t.Errorf("empty text = %q", empty.Text())
	}
	missing := f.d.CallTool(context.Background(), "context_synthesis", map[string]any{"synthesis_goal": "g"})
	if !missing.IsError || missing.Text() != "Sources and synthesis goal are required" {
		t.Errorf("missing sources = %+v", missing)
	}

	heavy := f.d.CallTool(context.Background(), "context_synthesis", map[string]any{
		"sources":        []any{map[string]any{"type": "a", "content": "x", "weight": 1.5}},
		"synthesis_goal": "g",
	})
	if !heavy.IsError {
		t.Errorf("weight above 1 accepted: %+v", heavy)
	}
}

func TestAdaptiveLearning(t *testing.T) {
	f := newFixture(t, nil)
	res := f.d.CallTool(context.Background(), "adaptive_learning", map[string]any{
		"interaction_data": map[string]any{"message": "Please explain Go channels", "response": "Channels are typed conduits."},
		"learning_focus":   "communication_style",
		"feedback":         map[string]any{"rating": 4},
		"session_id":       "s9",
	})
	if res.IsError || !strings.HasPrefix(res.Text(), "Learning completed. Insights: {") {
		t.Fatalf("result = %+v", res)
	}
	mem := f.store.Get(context.Background(), "s9", memory.AllTime)
	if len(mem.LearnedPatterns) != 1 || mem.LearnedPatterns[0].Focus != memory.FocusCommunicationStyle {
		t.Errorf("patterns = %+v", mem.LearnedPatterns)
	}

	snap, _ := f.metrics.Snapshot("user_satisfaction", "", "average")
	if snap.SampleSize != 1 {
		t.Errorf("rating not observed: %+v", snap)
	}
}

func TestAdaptiveLearningDefaultSession(t *testing.T) {
	f := newFixture(t, nil)
	f.d.CallTool(context.Background(), "adaptive_learning", map[string]any{
		"interaction_data": map[string]any{"message": "hi"},
		"learning_focus":   "user_preferences",
	})
	mem := f.store.Get(context.Background(), DefaultConversation, memory.AllTime)
	if len(mem.LearnedPatterns) != 1 {
		t.Errorf("default conversation not updated: %+v", mem)
	}
}

func TestPerformanceAnalytics(t *testing.T) {
	f := newFixture(t, nil)
	f.d.CallTool(context.Background(), "tool_orchestration", map[string]any{"goal": "g"})
	res := f.d.CallTool(context.Background(), "performance_analytics", map[string]any{"metric_type": "tool_usage"})
	var snap telemetry.Snapshot
	if err := json.Unmarshal([]byte(res.Text()), &snap); err != nil {
		t.Fatalf("decode: %v\n%s", err, res.Text())
	}
	if snap.MetricType != "tool_usage" || snap.TimePeriod != "last_day" || snap.Aggregation != "average" {
		t.Errorf("snapshot = %+v", snap)
	}
	calls := snap.Metrics["calls"].(map[string]any)
	if calls["tool_orchestration"] != 1.0 {
		t.Errorf("calls = %v", calls)
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, nil)
	f.d.deps.Limiter = NewLimiter(2, time.Hour)
	for i := 0; i < 2; i++ {
		if res := f.d.CallTool(context.Background(), "tool_orchestration", map[string]any{"goal": "g"}); res.IsError {
			t.Fatalf("call %d limited: %+v", i, res)
		}
	}
	res := f.d.CallTool(context.Background(), "tool_orchestration", map[string]any{"goal": "g"})
	if res.Text() != "Rate limit exceeded, please retry later" {
		t.Errorf("text = %q", res.Text())
	}
	if NewLimiter(0, time.Minute) != nil {
		t.Error("zero requests should disable limiting")
	}
}

func TestPanicBecomesInternalError(t *testing.T) {
	f := newFixture(t, generatorFunc(func(context.Context, string, map[string]any, map[string]any, string) (string, error) {
		panic("secret state")
	}))
	res := f.d.CallTool(context.Background(), "advanced_query", map[string]any{"question": "q"})
	if !res.IsError || res.Text() != "Tool execution failed: internal error" {
		t.Errorf("result = %+v", res)
	}
}

func TestReadResource(t *testing.T) {
	f := newFixture(t, nil)
	if text, ok := f.d.ReadResource(context.Background(), "memory://nowhere"); ok || text != "Resource not found: memory://nowhere" {
		t.Errorf("unknown = %q, %v", text, ok)
	}
	text, ok := f.d.ReadResource(context.Background(), "reasoning://chains")
	if !ok || !strings.Contains(text, `"total_chains": 0`) {
		t.Errorf("chains = %q", text)
	}
	text, ok = f.d.ReadResource(context.Background(), "analytics://performance-metrics?aggregation=mode")
	if ok || text != "Failed to read resource: unknown metric selector" {
		t.Errorf("bad selector = %q, %v", text, ok)
	}
	if len(f.d.Resources()) != 3 || len(f.d.Tools()) != 6 {
		t.Errorf("catalog sizes = %d resources, %d tools", len(f.d.Resources()), len(f.d.Tools()))
	}
}

func TestConcurrentAdvancedQueries(t *testing.T) {
	f := newFixture(t, nil)
	const n = 24
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.d.CallTool(context.Background(), "advanced_query", map[string]any{"question": "q"})
		}()
	}
	wg.Wait()
	if st := f.chains.Stats(); st.TotalChains != n || len(st.ActiveChains) != n {
		t.Errorf("stats = %+v", st)
	}
}
