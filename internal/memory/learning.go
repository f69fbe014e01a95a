package memory

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const learningConfidence = 0.83

// LearningResult is what adaptive learning reports back to the caller.
type LearningResult struct {
	Focus       LearningFocus `json:"focus"`
	Insights    []string      `json:"insights"`
	Adaptations []string      `json:"adaptations"`
	Confidence  float64       `json:"confidence"`

	// Rating is the feedback rating normalized to [0,1], nil when absent.
	Rating *float64 `json:"-"`

	profile     map[string]any
	preferences map[string]any
}

var (
	inputKeys  = []string{"message", "question", "input", "query", "user_message"}
	outputKeys = []string{"response", "answer", "output", "assistant_message"}
)

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// interactionFromData builds a history record from free-form interaction data.
func interactionFromData(data, feedback map[string]any, now time.Time) (InteractionRecord, bool) {
	input := firstString(data, inputKeys)
	if input == "" {
		return InteractionRecord{}, false
	}
	rec := InteractionRecord{
		Timestamp: now,
		Tool:      "adaptive_learning",
		Input:     input,
		Output:    firstString(data, outputKeys),
	}
	if len(feedback) > 0 {
		rec.Metadata = map[string]any{"feedback": cloneMap(feedback)}
	}
	return rec, true
}

// normalizeRating maps 0-1, 1-5 and 1-10 scales plus a helpful flag onto [0,1].
func normalizeRating(feedback map[string]any) *float64 {
	if v, ok := feedback["rating"]; ok {
		var r float64
		switch n := v.(type) {
		case float64:
			r = n
		case int:
			r = float64(n)
		default:
			return nil
		}
		switch {
		case r < 0:
			r = 0
		case r <= 1:
		case r <= 5:
			r /= 5
		case r <= 10:
			r /= 10
		default:
			r = 1
		}
		return &r
	}
	if h, ok := feedback["helpful"].(bool); ok {
		r := 0.0
		if h {
			r = 1
		}
		return &r
	}
	return nil
}

func deriveLearning(data map[string]any, focus LearningFocus, feedback map[string]any) LearningResult {
	res := LearningResult{
		Focus:       focus,
		Confidence:  learningConfidence,
		Rating:      normalizeRating(feedback),
		profile:     map[string]any{},
		preferences: map[string]any{},
	}

	var texts []string
	if in := firstString(data, inputKeys); in != "" {
		texts = append(texts, in)
	}

	switch focus {
	case FocusUserPreferences:
		if prefs, ok := data["preferences"].(map[string]any); ok {
			keys := make([]string, 0, len(prefs))
			for k := range prefs {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				res.preferences[k] = cloneValue(prefs[k])
				res.Insights = append(res.Insights, fmt.Sprintf("Preference noted: %s = %v", k, prefs[k]))
			}
		}
		if _, explicit := res.preferences["detail_level"]; !explicit {
			if lvl := detailLevel(texts); lvl != "" {
				res.preferences["detail_level"] = lvl
				res.Insights = append(res.Insights, fmt.Sprintf("Inferred %s detail preference from message length", lvl))
			}
		}
		if lvl, ok := res.preferences["detail_level"]; ok {
			res.Adaptations = append(res.Adaptations, fmt.Sprintf("Target %v detail level", lvl))
		}

	case FocusCommunicationStyle:
		if len(texts) > 0 {
			style := communicationStyle(texts)
			res.preferences["communication_style"] = style
			res.Insights = append(res.Insights, fmt.Sprintf("Communication style appears %s", style))
			res.Adaptations = append(res.Adaptations, fmt.Sprintf("Mirror a %s tone", style))
		}

	case FocusTopicExpertise:
		terms := topTerms(texts, 3)
		interests := make([]string, 0, len(terms))
		for _, t := range terms {
			interests = append(interests, t.Term)
			res.Insights = append(res.Insights, fmt.Sprintf("Engaged with topic: %s", t.Term))
		}
		if len(interests) > 0 {
			res.profile["recent_interests"] = interests
			res.Adaptations = append(res.Adaptations, fmt.Sprintf("Deepen coverage of %s", strings.Join(interests, ", ")))
		}

	case FocusResponseQuality:
		if res.Rating != nil {
			switch r := *res.Rating; {
			case r >= 0.8:
				res.Insights = append(res.Insights, "Responses meet expectations")
				res.Adaptations = append(res.Adaptations, "Keep current response strategy")
			case r <= 0.4:
				res.Insights = append(res.Insights, "Responses fall short of expectations")
				res.Adaptations = append(res.Adaptations, "Increase depth and verify accuracy")
			default:
				res.Insights = append(res.Insights, "Responses are acceptable with room for improvement")
				res.Adaptations = append(res.Adaptations, "Refine clarity and structure")
			}
		}
		if c := firstString(feedback, []string{"comment", "comments", "text"}); c != "" {
			res.Insights = append(res.Insights, "Feedback: "+c)
		}
	}

	if len(res.Insights) == 0 {
		res.Insights = []string{"Improved understanding of user preferences"}
	}
	if len(res.Adaptations) == 0 {
		res.Adaptations = []string{"Adjusted response style"}
	}
	return res
}
