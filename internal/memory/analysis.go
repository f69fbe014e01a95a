package memory

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// ErrUnknownAnalysis is returned for analysis kinds outside the closed set.
var ErrUnknownAnalysis = errors.New("unknown analysis type")

// Base confidences per analysis, reached once enough evidence exists.
const (
	profileConfidence     = 0.85
	preferencesConfidence = 0.78
	patternsConfidence    = 0.82
	sentimentConfidence   = 0.89
	topicsConfidence      = 0.87

	fullEvidence  = 5
	followUpGap   = 10 * time.Minute
	sentimentBand = 0.1
)

// Analysis is the structured result of one memory analysis.
type Analysis struct {
	AnalysisType   AnalysisKind   `json:"analysis_type"`
	ConversationID string         `json:"session_id,omitempty"`
	Insights       []string       `json:"insights"`
	Metrics        map[string]any `json:"metrics"`
	SampleSize     int            `json:"sample_size"`
	Confidence     float64        `json:"confidence"`
}

// Analyze derives a read-only analysis of kind from a memory snapshot.
func Analyze(kind AnalysisKind, mem AgentMemory) (Analysis, error) {
	inputs := make([]string, 0, len(mem.InteractionHistory))
	for _, r := range mem.InteractionHistory {
		inputs = append(inputs, r.Input)
	}

	var a Analysis
	switch kind {
	case UserProfile:
		a = analyzeProfile(mem, inputs)
	case Preferences:
		a = analyzePreferences(mem, inputs)
	case Patterns:
		a = analyzePatterns(mem)
	case Sentiment:
		a = analyzeSentiment(inputs)
	case Topics:
		a = analyzeTopics(inputs)
	default:
		return Analysis{}, fmt.Errorf("%w: %s", ErrUnknownAnalysis, kind)
	}
	a.AnalysisType = kind
	a.ConversationID = mem.ConversationID
	if a.Insights == nil {
		a.Insights = []string{}
	}
	if len(mem.InteractionHistory) == 0 && len(a.Insights) == 0 {
		a.Insights = append(a.Insights, "No interactions recorded in this time range")
	}
	return a, nil
}

// scaledConfidence grows linearly with evidence up to the base value.
func scaledConfidence(base float64, evidence int) float64 {
	return round2(base * math.Min(1, float64(evidence)/fullEvidence))
}

func analyzeProfile(mem AgentMemory, inputs []string) Analysis {
	terms := topTerms(inputs, 3)
	interests := make([]string, 0, len(terms))
	for _, t := range terms {
		interests = append(interests, t.Term)
	}

	var insights []string
	switch detailLevel(inputs) {
	case "high":
		insights = append(insights, "User prefers detailed explanations")
	case "low":
		insights = append(insights, "User favours short, direct exchanges")
	}
	if len(interests) > 0 {
		insights = append(insights, "Interested in "+strings.Join(interests, ", "))
	}

	evidence := len(inputs) + len(mem.UserProfile) + len(mem.LearnedPatterns)
	return Analysis{
		Insights: insights,
		Metrics: map[string]any{
			"profile":                cloneMap(mem.UserProfile),
			"interests":              interests,
			"interaction_count":      len(inputs),
			"learned_pattern_count":  len(mem.LearnedPatterns),
			"average_message_length": round2(averageLength(inputs)),
		},
		SampleSize: len(inputs),
		Confidence: scaledConfidence(profileConfidence, evidence),
	}
}

func analyzePreferences(mem AgentMemory, inputs []string) Analysis {
	prefs := cloneMap(mem.Preferences)
	inferred := map[string]any{}
	if _, ok := prefs["communication_style"]; !ok && len(inputs) > 0 {
		inferred["communication_style"] = communicationStyle(inputs)
	}
	if _, ok := prefs["detail_level"]; !ok && len(inputs) > 0 {
		inferred["detail_level"] = detailLevel(inputs)
	}

	merged := cloneMap(prefs)
	for k, v := range inferred {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	insights := make([]string, 0, len(keys))
	for _, k := range keys {
		insights = append(insights, fmt.Sprintf("%s: %v", k, merged[k]))
	}

	return Analysis{
		Insights: insights,
		Metrics: map[string]any{
			"preferences": merged,
			"explicit":    prefs,
			"inferred":    inferred,
		},
		SampleSize: len(inputs),
		Confidence: scaledConfidence(preferencesConfidence, len(inputs)+len(prefs)),
	}
}

func analyzePatterns(mem AgentMemory) Analysis {
	history := mem.InteractionHistory
	var questions, followUps int
	hours := make(map[int]int)
	for i, r := range history {
		if strings.Contains(r.Input, "?") {
			questions++
		}
		if i > 0 && r.Timestamp.Sub(history[i-1].Timestamp) <= followUpGap {
			followUps++
		}
		hours[r.Timestamp.UTC().Hour()]++
	}

	peak, peakCount := -1, 0
	for h := 0; h < 24; h++ {
		if hours[h] > peakCount {
			peak, peakCount = h, hours[h]
		}
	}

	var ratio float64
	if len(history) > 0 {
		ratio = round2(float64(questions) / float64(len(history)))
	}

	var insights []string
	if followUps > 0 {
		insights = append(insights, "Asks follow-up questions")
	}
	if ratio >= 0.5 {
		insights = append(insights, "Mostly phrases requests as questions")
	}
	metrics := map[string]any{
		"question_ratio":    ratio,
		"follow_ups":        followUps,
		"active_hours":      hours,
		"interaction_count": len(history),
	}
	if peak >= 0 {
		insights = append(insights, fmt.Sprintf("Most active around %02d:00 UTC", peak))
		metrics["peak_hour_utc"] = peak
	}

	return Analysis{
		Insights:   insights,
		Metrics:    metrics,
		SampleSize: len(history),
		Confidence: scaledConfidence(patternsConfidence, len(history)),
	}
}

func analyzeSentiment(inputs []string) Analysis {
	scores := make([]float64, len(inputs))
	for i, in := range inputs {
		scores[i] = sentimentScore(in)
	}
	overall := mean(scores)

	label := "neutral"
	switch {
	case overall > sentimentBand:
		label = "positive"
	case overall < -sentimentBand:
		label = "negative"
	}

	trend := "insufficient_data"
	if len(scores) >= 2 {
		half := len(scores) / 2
		delta := mean(scores[half:]) - mean(scores[:half])
		switch {
		case delta > sentimentBand:
			trend = "improving"
		case delta < -sentimentBand:
			trend = "declining"
		default:
			trend = "stable"
		}
	}

	var insights []string
	if len(inputs) > 0 {
		insights = append(insights, fmt.Sprintf("Overall sentiment is %s", label))
		if trend != "insufficient_data" {
			insights = append(insights, fmt.Sprintf("Sentiment trend is %s", trend))
		}
	}
	return Analysis{
		Insights: insights,
		Metrics: map[string]any{
			"overall_sentiment": label,
			"sentiment_score":   round2(overall),
			"sentiment_trend":   trend,
		},
		SampleSize: len(inputs),
		Confidence: scaledConfidence(sentimentConfidence, len(inputs)),
	}
}

func analyzeTopics(inputs []string) Analysis {
	terms := topTerms(inputs, 5)
	var total int
	for _, t := range terms {
		total += t.Count
	}

	mainTopics := make([]string, 0, 3)
	freq := make(map[string]float64, len(terms))
	for i, t := range terms {
		if i < 3 {
			mainTopics = append(mainTopics, t.Term)
		}
		freq[t.Term] = round2(float64(t.Count) / float64(total))
	}

	var insights []string
	if len(mainTopics) > 0 {
		insights = append(insights, "Main topics: "+strings.Join(mainTopics, ", "))
	}
	return Analysis{
		Insights: insights,
		Metrics: map[string]any{
			"main_topics":     mainTopics,
			"topic_frequency": freq,
		},
		SampleSize: len(inputs),
		Confidence: scaledConfidence(topicsConfidence, len(inputs)),
	}
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}
