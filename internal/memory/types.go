package memory

import (
	"context"
	"time"
)

// AgentMemory is the per-conversation state owned by the Store.
type AgentMemory struct {
	ConversationID     string              `json:"conversation_id"`
	UserProfile        map[string]any      `json:"user_profile"`
	Preferences        map[string]any      `json:"preferences"`
	InteractionHistory []InteractionRecord `json:"interaction_history"`
	LearnedPatterns    []LearnedPattern    `json:"learned_patterns"`
	LastUpdated        time.Time           `json:"last_updated"`
}

// InteractionRecord is one logged exchange in a conversation.
type InteractionRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Tool      string         `json:"tool,omitempty"`
	Input     string         `json:"input"`
	Output    string         `json:"output,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// LearnedPattern is one adaptive-learning outcome appended to memory.
type LearnedPattern struct {
	Focus       LearningFocus `json:"focus"`
	Insights    []string      `json:"insights"`
	Adaptations []string      `json:"adaptations"`
	Confidence  float64       `json:"confidence"`
	LearnedAt   time.Time     `json:"learned_at"`
}

// Persister loads and saves memory snapshots outside the process.
// Load returns (nil, nil) when the conversation is unknown.
type Persister interface {
	Load(ctx context.Context, conversationID string) (*AgentMemory, error)
	Save(ctx context.Context, mem AgentMemory) error
}

// TimeRange selects a window of interaction history.
type TimeRange string

const (
	LastHour TimeRange = "last_hour"
	LastDay  TimeRange = "last_day"
	LastWeek TimeRange = "last_week"
	AllTime  TimeRange = "all_time"
)

// ParseTimeRange maps a wire value onto the closed set.
func ParseTimeRange(s string) (TimeRange, bool) {
	switch r := TimeRange(s); r {
	case LastHour, LastDay, LastWeek, AllTime:
		return r, true
	case "":
		return AllTime, true
	}
	return "", false
}

// Window returns the lookback duration; zero means unbounded.
func (r TimeRange) Window() time.Duration {
	switch r {
	case LastHour:
		return time.Hour
	case LastDay:
		return 24 * time.Hour
	case LastWeek:
		return 7 * 24 * time.Hour
	case AllTime:
		return 0
	}
	panic("memory: unhandled time range " + string(r))
}

// AnalysisKind is the closed set of memory analyses.
type AnalysisKind string

const (
	UserProfile AnalysisKind = "user_profile"
	Preferences AnalysisKind = "preferences"
	Patterns    AnalysisKind = "patterns"
	Sentiment   AnalysisKind = "sentiment"
	Topics      AnalysisKind = "topics"
)

// ParseAnalysisKind maps a wire value onto the closed set.
func ParseAnalysisKind(s string) (AnalysisKind, bool) {
	switch k := AnalysisKind(s); k {
	case UserProfile, Preferences, Patterns, Sentiment, Topics:
		return k, true
	}
	return "", false
}

// LearningFocus is the closed set of adaptive-learning targets.
type LearningFocus string

const (
	FocusUserPreferences    LearningFocus = "user_preferences"
	FocusCommunicationStyle LearningFocus = "communication_style"
	FocusTopicExpertise     LearningFocus = "topic_expertise"
	FocusResponseQuality    LearningFocus = "response_quality"
)

// ParseLearningFocus maps a wire value onto the closed set.
func ParseLearningFocus(s string) (LearningFocus, bool) {
	switch f := LearningFocus(s); f {
	case FocusUserPreferences, FocusCommunicationStyle, FocusTopicExpertise, FocusResponseQuality:
		return f, true
	}
	return "", false
}

func newMemory(id string, now time.Time) AgentMemory {
	return AgentMemory{
		ConversationID:     id,
		UserProfile:        map[string]any{},
		Preferences:        map[string]any{},
		InteractionHistory: []InteractionRecord{},
		LearnedPatterns:    []LearnedPattern{},
		LastUpdated:        now,
	}
}

// clone returns a deep copy so callers never share mutable state with the Store.
func (m AgentMemory) clone() AgentMemory {
	out := m
	out.UserProfile = cloneMap(m.UserProfile)
	out.Preferences = cloneMap(m.Preferences)
	out.InteractionHistory = make([]InteractionRecord, len(m.InteractionHistory))
	for i, r := range m.InteractionHistory {
		r.Metadata = cloneMap(r.Metadata)
		out.InteractionHistory[i] = r
	}
	out.LearnedPatterns = make([]LearnedPattern, len(m.LearnedPatterns))
	for i, p := range m.LearnedPatterns {
		p.Insights = append([]string(nil), p.Insights...)
		p.Adaptations = append([]string(nil), p.Adaptations...)
		out.LearnedPatterns[i] = p
	}
	return out
}

// normalize fills nil collections left by decoders.
func (m *AgentMemory) normalize() {
	if m.UserProfile == nil {
		m.UserProfile = map[string]any{}
	}
	if m.Preferences == nil {
		m.Preferences = map[string]any{}
	}
	if m.InteractionHistory == nil {
		m.InteractionHistory = []InteractionRecord{}
	}
	if m.LearnedPatterns == nil {
		m.LearnedPatterns = []LearnedPattern{}
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	}
	return v
}
