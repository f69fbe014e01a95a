package reasoning

import (
	"context"
	"strings"
)

// HeuristicAnalyzer classifies questions with keyword rules. It never fails.
type HeuristicAnalyzer struct{}

var expectedResponse = map[string]string{
	"simple":     "concise",
	"analytical": "analytical",
	"creative":   "creative",
	"strategic":  "strategic_plan",
}

// AnalyzeQuestion implements QuestionAnalyzer.
func (HeuristicAnalyzer) AnalyzeQuestion(_ context.Context, question, mode string) (map[string]any, error) {
	q := strings.ToLower(strings.TrimSpace(question))
	words := strings.Fields(q)

	intent := "information_seeking"
	switch {
	case containsAny(q, " vs ", " versus ", "compare", "difference between"):
		intent = "comparative"
	case containsAny(q, "should i", "recommend", "advice", "suggest"):
		intent = "advisory"
	case strings.HasPrefix(q, "how "), strings.HasPrefix(q, "how's"):
		intent = "procedural"
	case strings.HasPrefix(q, "why "):
		intent = "explanatory"
	}

	complexity := "simple"
	switch {
	case len(words) > 20 || strings.Count(q, "?") > 1:
		complexity = "complex"
	case len(words) > 6:
		complexity = "moderate"
	}

	expected, ok := expectedResponse[mode]
	if !ok {
		expected = "analytical"
	}
	return map[string]any{
		"intent":                 intent,
		"complexity":             complexity,
		"reasoning_mode":         mode,
		"expected_response_type": expected,
		"word_count":             len(words),
	}, nil
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
