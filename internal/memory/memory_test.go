package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakePersister struct {
	mu      sync.Mutex
	stored  map[string]AgentMemory
	saves   int
	saveErr error
	loadErr error
}

func newFakePersister() *fakePersister {
	return &fakePersister{stored: make(map[string]AgentMemory)}
}

func (f *fakePersister) Load(_ context.Context, id string) (*AgentMemory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	m, ok := f.stored[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (f *fakePersister) Save(_ context.Context, mem AgentMemory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.stored[mem.ConversationID] = mem
	return nil
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestGetCreatesOnFirstReference(t *testing.T) {
	s := NewStore(zap.NewNop())
	mem := s.Get(context.Background(), "conv-1", AllTime)
	if mem.ConversationID != "conv-1" {
		t.Errorf("conversation id = %q", mem.ConversationID)
	}
	if mem.UserProfile == nil || mem.Preferences == nil {
		t.Error("expected initialized maps")
	}
	if s.Len() != 1 {
		t.Errorf("len = %d, want 1", s.Len())
	}
}

func TestGetWithoutIDIsDetached(t *testing.T) {
	s := NewStore(zap.NewNop())
	mem := s.Get(context.Background(), "", AllTime)
	if len(mem.InteractionHistory) != 0 {
		t.Errorf("history = %v", mem.InteractionHistory)
	}
	if s.Len() != 0 {
		t.Errorf("len = %d, want 0", s.Len())
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	s := NewStore(zap.NewNop())
	ctx := context.Background()
	s.RecordInteraction(ctx, "c", InteractionRecord{Input: "hello", Metadata: map[string]any{"k": "v"}})

	snap := s.Get(ctx, "c", AllTime)
	snap.InteractionHistory[0].Metadata["k"] = "mutated"
	snap.UserProfile["name"] = "intruder"

	again := s.Get(ctx, "c", AllTime)
	if again.InteractionHistory[0].Metadata["k"] != "v" {
		t.Error("metadata mutated through snapshot")
	}
	if _, ok := again.UserProfile["name"]; ok {
		t.Error("profile mutated through snapshot")
	}
}

func TestTimeRangeFiltersHistory(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(zap.NewNop())
	s.now = fixedClock(now)
	ctx := context.Background()

	s.RecordInteraction(ctx, "c", InteractionRecord{Input: "old", Timestamp: now.Add(-48 * time.Hour)})
	s.RecordInteraction(ctx, "c", InteractionRecord{Input: "yesterday", Timestamp: now.Add(-3 * time.Hour)})
	s.RecordInteraction(ctx, "c", InteractionRecord{Input: "recent", Timestamp: now.Add(-10 * time.Minute)})

	tests := []struct {
		tr   TimeRange
		want int
	}{
		{LastHour, 1},
		{LastDay, 2},
		{LastWeek, 3},
		{AllTime, 3},
	}
	for _, tt := range tests {
		if got := len(s.Get(ctx, "c", tt.tr).InteractionHistory); got != tt.want {
			t.Errorf("%s: got %d records, want %d", tt.tr, got, tt.want)
		}
	}
}

func TestPersistersLoadAndSave(t *testing.T) {
	p := newFakePersister()
	p.stored["known"] = AgentMemory{
		ConversationID: "known",
		UserProfile:    map[string]any{"name": "Ada"},
	}
	s := NewStore(zap.NewNop(), p)
	ctx := context.Background()

	mem := s.Get(ctx, "known", AllTime)
	if mem.UserProfile["name"] != "Ada" {
		t.Fatalf("profile not loaded: %v", mem.UserProfile)
	}
	if mem.Preferences == nil {
		t.Error("preferences not normalized")
	}

	s.RecordInteraction(ctx, "known", InteractionRecord{Input: "hi"})
	if p.saves != 1 {
		t.Errorf("saves = %d, want 1", p.saves)
	}
	if got := len(p.stored["known"].InteractionHistory); got != 1 {
		t.Errorf("persisted history = %d", got)
	}
}

func TestPersisterFailuresDoNotBlockMutation(t *testing.T) {
	p := newFakePersister()
	p.saveErr = errors.New("disk full")
	p.loadErr = errors.New("unreachable")
	s := NewStore(zap.NewNop(), p)
	ctx := context.Background()

	s.RecordInteraction(ctx, "c", InteractionRecord{Input: "hi"})
	if got := len(s.Get(ctx, "c", AllTime).InteractionHistory); got != 1 {
		t.Errorf("history = %d, want 1", got)
	}
}

func TestRecordLearningAppendsPatterns(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := NewStore(zap.NewNop())
	s.now = fixedClock(now)
	ctx := context.Background()

	res := s.RecordLearning(ctx, "c",
		map[string]any{"message": "Could you please explain Kubernetes operators?", "response": "Sure."},
		FocusCommunicationStyle,
		map[string]any{"rating": 4.0})

	if res.Focus != FocusCommunicationStyle || res.Confidence != 0.83 {
		t.Errorf("result = %+v", res)
	}
	if res.Rating == nil || *res.Rating != 0.8 {
		t.Errorf("rating = %v", res.Rating)
	}

	mem := s.Get(ctx, "c", AllTime)
	if len(mem.LearnedPatterns) != 1 {
		t.Fatalf("patterns = %d", len(mem.LearnedPatterns))
	}
	if mem.Preferences["communication_style"] != "formal" {
		t.Errorf("style = %v", mem.Preferences["communication_style"])
	}
	if len(mem.InteractionHistory) != 1 || mem.InteractionHistory[0].Output != "Sure." {
		t.Errorf("history = %+v", mem.InteractionHistory)
	}
	if !mem.LastUpdated.Equal(now) {
		t.Errorf("last updated = %v", mem.LastUpdated)
	}
}

func TestDeriveLearningDefaults(t *testing.T) {
	res := deriveLearning(map[string]any{}, FocusUserPreferences, nil)
	if len(res.Insights) != 1 || res.Insights[0] != "Improved understanding of user preferences" {
		t.Errorf("insights = %v", res.Insights)
	}
	if len(res.Adaptations) != 1 || res.Adaptations[0] != "Adjusted response style" {
		t.Errorf("adaptations = %v", res.Adaptations)
	}
	if res.Rating != nil {
		t.Errorf("rating = %v", *res.Rating)
	}
}

func TestDeriveLearningResponseQuality(t *testing.T) {
	tests := []struct {
		feedback map[string]any
		want     string
	}{
		{map[string]any{"rating": 5.0}, "Responses meet expectations"},
		{map[string]any{"rating": 0.9, "comment": "more examples"}, "Responses meet expectations"},
		{map[string]any{"rating": 2.0}, "Responses fall short of expectations"},
		{map[string]any{"helpful": false}, "Responses fall short of expectations"},
		{map[string]any{"rating": 6.0}, "Responses are acceptable with room for improvement"},
	}
	for _, tt := range tests {
		res := deriveLearning(nil, FocusResponseQuality, tt.feedback)
		if res.Insights[0] != tt.want {
			t.Errorf("feedback %v: insight = %q, want %q", tt.feedback, res.Insights[0], tt.want)
		}
	}
}

func TestAnalyzeUnknownKind(t *testing.T) {
	_, err := Analyze("unknown_kind", newMemory("c", time.Now()))
	if !errors.Is(err, ErrUnknownAnalysis) {
		t.Fatalf("err = %v, want ErrUnknownAnalysis", err)
	}
}

func TestAnalyzeEmptyMemory(t *testing.T) {
	for _, kind := range []AnalysisKind{UserProfile, Preferences, Patterns, Sentiment, Topics} {
		a, err := Analyze(kind, newMemory("c", time.Now()))
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if a.AnalysisType != kind {
			t.Errorf("type = %s, want %s", a.AnalysisType, kind)
		}
		if a.Confidence != 0 {
			t.Errorf("%s: confidence = %v, want 0 without evidence", kind, a.Confidence)
		}
		if len(a.Insights) == 0 {
			t.Errorf("%s: expected placeholder insight", kind)
		}
	}
}

func historyOf(start time.Time, gap time.Duration, inputs ...string) AgentMemory {
	m := newMemory("c", start)
	for i, in := range inputs {
		m.InteractionHistory = append(m.InteractionHistory, InteractionRecord{
			Timestamp: start.Add(time.Duration(i) * gap),
			Input:     in,
		})
	}
	return m
}

func TestAnalyzeScalesConfidenceWithEvidence(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	inputs := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		inputs = append(inputs, fmt.Sprintf("question %d about golang?", i))
	}
	full := historyOf(start, time.Minute, inputs...)
	partial := historyOf(start, time.Minute, inputs[:2]...)

	want := map[AnalysisKind][2]float64{
		Patterns:  {0.82, 0.33},
		Sentiment: {0.89, 0.36},
		Topics:    {0.87, 0.35},
	}
	for kind, conf := range want {
		a, _ := Analyze(kind, full)
		if a.Confidence != conf[0] {
			t.Errorf("%s full: confidence = %v, want %v", kind, a.Confidence, conf[0])
		}
		b, _ := Analyze(kind, partial)
		if b.Confidence != conf[1] {
			t.Errorf("%s partial: confidence = %v, want %v", kind, b.Confidence, conf[1])
		}
	}
}

func TestAnalyzePatterns(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mem := historyOf(start, 2*time.Minute, "What is Go?", "And channels?", "Show me an example")
	a, err := Analyze(Patterns, mem)
	if err != nil {
		t.Fatal(err)
	}
	if a.Metrics["follow_ups"] != 2 {
		t.Errorf("follow ups = %v", a.Metrics["follow_ups"])
	}
	if a.Metrics["question_ratio"] != 0.67 {
		t.Errorf("question ratio = %v", a.Metrics["question_ratio"])
	}
	if a.Metrics["peak_hour_utc"] != 9 {
		t.Errorf("peak hour = %v", a.Metrics["peak_hour_utc"])
	}
}

func TestAnalyzeSentimentTrend(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mem := historyOf(start, time.Hour,
		"this is confusing and wrong",
		"still unclear",
		"ok that is helpful",
		"great, thanks, that was excellent")
	a, _ := Analyze(Sentiment, mem)
	if a.Metrics["sentiment_trend"] != "improving" {
		t.Errorf("trend = %v", a.Metrics["sentiment_trend"])
	}
}

func TestAnalyzeTopics(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mem := historyOf(start, time.Hour,
		"Tell me about kubernetes operators",
		"How do kubernetes controllers reconcile?",
		"kubernetes and golang")
	a, _ := Analyze(Topics, mem)
	topics := a.Metrics["main_topics"].([]string)
	if len(topics) == 0 || topics[0] != "kubernetes" {
		t.Errorf("main topics = %v", topics)
	}
}

func TestConcurrentMutationsSameKey(t *testing.T) {
	s := NewStore(zap.NewNop())
	ctx := context.Background()
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.RecordInteraction(ctx, "shared", InteractionRecord{Input: fmt.Sprint(i)})
		}(i)
	}
	wg.Wait()
	if got := len(s.Get(ctx, "shared", AllTime).InteractionHistory); got != n {
		t.Errorf("history = %d, want %d", got, n)
	}
	if s.Len() != 1 {
		t.Errorf("len = %d, want 1", s.Len())
	}
}

func TestParseSelectors(t *testing.T) {
	if _, ok := ParseAnalysisKind("topics"); !ok {
		t.Error("topics should parse")
	}
	if _, ok := ParseAnalysisKind("horoscope"); ok {
		t.Error("horoscope should not parse")
	}
	if tr, ok := ParseTimeRange(""); !ok || tr != AllTime {
		t.Errorf("empty range = %q, %v", tr, ok)
	}
	if _, ok := ParseLearningFocus("telepathy"); ok {
		t.Error("telepathy should not parse")
	}
}
