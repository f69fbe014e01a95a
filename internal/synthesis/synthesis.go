// Package synthesis merges weighted information sources into one answer.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrMissingInput rejects a request without sources or without a goal.
var ErrMissingInput = errors.New("sources and synthesis goal are required")

// DefaultWeight applies to sources that carry no weight.
const DefaultWeight = 1.0

// OutputFormat selects the synthesis template.
type OutputFormat string

const (
	FormatSummary         OutputFormat = "summary"
	FormatAnalysis        OutputFormat = "analysis"
	FormatRecommendations OutputFormat = "recommendations"
	FormatInsights        OutputFormat = "insights"
)

// ParseOutputFormat maps a selector to an OutputFormat. An empty selector
// yields FormatAnalysis.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case "":
		return FormatAnalysis, nil
	case FormatSummary, FormatAnalysis, FormatRecommendations, FormatInsights:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// Instruction returns the template instruction for the format.
func (f OutputFormat) Instruction() string {
	switch f {
	case FormatSummary:
		return "Write a concise summary that covers the key points of every source."
	case FormatAnalysis:
		return "Analyze the sources, comparing claims and weighing them by reliability."
	case FormatRecommendations:
		return "Produce a numbered list of actionable recommendations grounded in the sources."
	case FormatInsights:
		return "Extract the non-obvious insights and patterns that emerge across the sources."
	}
	return ""
}

// Source is one caller-supplied input. A nil Weight means unset.
type Source struct {
	Type    string
	Content string
	Weight  *float64
}

// SourceRecord is a source after processing.
type SourceRecord struct {
	Type      string  `json:"type"`
	Content   string  `json:"content"`
	Weight    float64 `json:"weight"`
	Processed bool    `json:"processed"`
}

// Request is what the language-generation collaborator receives.
type Request struct {
	Goal    string
	Format  OutputFormat
	Sources []SourceRecord
}

// LanguageGenerator produces the synthesized text.
type LanguageGenerator interface {
	Synthesize(ctx context.Context, req Request) (string, error)
}

// Process stamps every source as processed and applies the default weight.
func Process(sources []Source) []SourceRecord {
	out := make([]SourceRecord, len(sources))
	for i, s := range sources {
		w := DefaultWeight
		if s.Weight != nil {
			w = *s.Weight
		}
		out[i] = SourceRecord{Type: s.Type, Content: s.Content, Weight: w, Processed: true}
	}
	return out
}

// Synthesizer threads processed sources through a LanguageGenerator.
type Synthesizer struct {
	generator LanguageGenerator
	logger    *zap.Logger
}

// New creates a synthesizer. A nil generator selects the template fallback.
func New(generator LanguageGenerator, logger *zap.Logger) *Synthesizer {
	if generator == nil {
		generator = TemplateGenerator{}
	}
	return &Synthesizer{generator: generator, logger: logger}
}

// Synthesize validates input, processes sources and returns the
// collaborator's text verbatim.
func (s *Synthesizer) Synthesize(ctx context.Context, goal string, format OutputFormat, sources []Source) (string, error) {
	if len(sources) == 0 || strings.TrimSpace(goal) == "" {
		return "", ErrMissingInput
	}
	records := Process(sources)
	text, err := s.generator.Synthesize(ctx, Request{Goal: goal, Format: format, Sources: records})
	if err != nil {
		return "", fmt.Errorf("synthesize %s: %w", format, err)
	}
	s.logger.Debug("context synthesized",
		zap.String("format", string(format)),
		zap.Int("sources", len(records)))
	return text, nil
}

// TemplateGenerator is the offline generator.
type TemplateGenerator struct{}

func (TemplateGenerator) Synthesize(_ context.Context, req Request) (string, error) {
	return Fallback(req), nil
}

// Fallback is the text produced when no language model is available.
func Fallback(req Request) string {
	return fmt.Sprintf("Synthesized %s for goal: %s from %d sources.", req.Format, req.Goal, len(req.Sources))
}
