// Package generation produces answers and syntheses through the provider router.
package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/nidhogg/digitwin/internal/provider"
	"github.com/nidhogg/digitwin/internal/synthesis"
	"github.com/nidhogg/digitwin/internal/window"
	"go.uber.org/zap"
)

// Router purposes.
const (
	PurposeReasoning = "reasoning"
	PurposeSynthesis = "synthesis"
)

// Chatter is the part of provider.Router the generator needs.
type Chatter interface {
	Route(ctx context.Context, purpose string, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// Options shape every request.
type Options struct {
	Model                string
	MaxTokens            int
	ReasoningTemperature float64
	CreativeTemperature  float64
	MaxContextLength     int
	Persona              string
	SystemPrompt         string
}

// Generator implements the response-generation and synthesis collaborators.
type Generator struct {
	chat   Chatter
	opts   Options
	fitter *window.Fitter
	logger *zap.Logger
}

// New creates a generator. chat may be nil, in which case every call fails
// with provider.ErrUpstream.
func New(chat Chatter, opts Options, logger *zap.Logger) *Generator {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1000
	}
	if opts.Persona == "" {
		opts.Persona = "DIGI-EARL"
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = fmt.Sprintf("You are %s, an advanced AI digital twin with enhanced reasoning capabilities.", opts.Persona)
	}
	return &Generator{chat: chat, opts: opts, fitter: window.NewFitter(opts.MaxContextLength, logger), logger: logger}
}

// GenerateResponse answers a question using gathered context and analysis.
// Context is trimmed before analysis when the prompt exceeds
// MaxContextLength; the question is never trimmed.
func (g *Generator) GenerateResponse(ctx context.Context, question string, gathered, analysis map[string]any, mode string) (string, error) {
	task := &window.Block{Name: "question", Priority: window.PriorityTask, Fixed: true, Parts: []string{question}}
	ctxBlock := &window.Block{Name: "context", Priority: window.PriorityContext, Parts: []string{marshal(gathered)}}
	anBlock := &window.Block{Name: "analysis", Priority: window.PriorityAnalysis, Parts: []string{marshal(analysis)}}
	g.fitter.Fit(task, ctxBlock, anBlock)

	prompt := fmt.Sprintf(
		"As %s, Earl's advanced AI digital twin, provide a comprehensive response using %s reasoning.\n\n"+
			"Question: %s\nContext: %s\nAnalysis: %s\n\n"+
			"Use advanced reasoning and provide a detailed, insightful response:",
		g.opts.Persona, mode, question,
		strings.Join(ctxBlock.Parts, ""), strings.Join(anBlock.Parts, ""))

	temp := g.opts.ReasoningTemperature
	if mode == "creative" {
		temp = g.opts.CreativeTemperature
	}
	return g.complete(ctx, PurposeReasoning, prompt, temp)
}

// Synthesize implements synthesis.LanguageGenerator. Sources are listed by
// descending weight so the least reliable ones are dropped first when the
// prompt is over budget. Provider failures degrade to the template text.
func (g *Generator) Synthesize(ctx context.Context, req synthesis.Request) (string, error) {
	header := fmt.Sprintf("Synthesis goal: %s\n%s\n\nSources (weight in [0,1], higher is more reliable):\n",
		req.Goal, req.Format.Instruction())

	ranked := make([]synthesis.SourceRecord, len(req.Sources))
	copy(ranked, req.Sources)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Weight > ranked[j].Weight })
	lines := make([]string, len(ranked))
	for i, s := range ranked {
		lines[i] = fmt.Sprintf("%d. [%s, weight %.2f] %s\n", i+1, s.Type, s.Weight, s.Content)
	}

	task := &window.Block{Name: "goal", Priority: window.PriorityTask, Fixed: true, Parts: []string{header}}
	sources := &window.Block{Name: "sources", Priority: window.PrioritySources, Parts: lines}
	g.fitter.Fit(task, sources)

	text, err := g.complete(ctx, PurposeSynthesis, header+strings.Join(sources.Parts, ""), g.opts.ReasoningTemperature)
	if err != nil {
		g.logger.Warn("synthesis generation failed, using template", zap.Error(err))
		return synthesis.Fallback(req), nil
	}
	return text, nil
}

func (g *Generator) complete(ctx context.Context, purpose, prompt string, temperature float64) (string, error) {
	if g.chat == nil {
		return "", fmt.Errorf("%w: no provider configured", provider.ErrUpstream)
	}
	resp, err := g.chat.Route(ctx, purpose, &provider.ChatRequest{
		Model: g.opts.Model,
		Messages: []provider.Message{
			{Role: "system", Content: g.opts.SystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: temperature,
		MaxTokens:   g.opts.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", provider.ErrUpstream)
	}
	return text, nil
}

func marshal(v map[string]any) string {
	if v == nil {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
