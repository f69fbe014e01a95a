package registry

// Arguments is the decoded, validated argument set of one tool call.
type Arguments interface {
	Tool() ToolName
}

type AdvancedQueryArgs struct {
	Question              string `json:"question"`
	ReasoningMode         string `json:"reasoning_mode" validate:"oneof=simple analytical creative strategic"`
	ContextDepth          int    `json:"context_depth" validate:"gte=1,lte=10"`
	IncludeReasoningSteps bool   `json:"include_reasoning_steps"`
	SessionID             string `json:"session_id"`
}

type MemoryAnalysisArgs struct {
	AnalysisType string `json:"analysis_type"`
	SessionID    string `json:"session_id"`
	TimeRange    string `json:"time_range" validate:"oneof=last_hour last_day last_week all_time"`
}

type ToolOrchestrationArgs struct {
	Goal           string         `json:"goal"`
	AvailableTools []string       `json:"available_tools"`
	Constraints    map[string]any `json:"constraints"`
	MaxSteps       int            `json:"max_steps" validate:"gte=1,lte=20"`
}

// SourceArg is one weighted source as supplied by the caller. Weight is nil
// when omitted.
type SourceArg struct {
	Type    string   `json:"type"`
	Content string   `json:"content"`
	Weight  *float64 `json:"weight" validate:"omitempty,gte=0,lte=1"`
}

type ContextSynthesisArgs struct {
	Sources       []SourceArg `json:"sources" validate:"dive"`
	SynthesisGoal string      `json:"synthesis_goal"`
	OutputFormat  string      `json:"output_format" validate:"oneof=summary analysis recommendations insights"`
}

type AdaptiveLearningArgs struct {
	InteractionData map[string]any `json:"interaction_data"`
	LearningFocus   string         `json:"learning_focus" validate:"oneof=user_preferences communication_style topic_expertise response_quality"`
	Feedback        map[string]any `json:"feedback"`
	SessionID       string         `json:"session_id"`
}

type PerformanceAnalyticsArgs struct {
	MetricType  string `json:"metric_type" validate:"oneof=response_time tool_usage error_rates user_satisfaction memory_usage"`
	TimePeriod  string `json:"time_period" validate:"oneof=last_hour last_day last_week last_month"`
	Aggregation string `json:"aggregation" validate:"oneof=average median percentiles distribution"`
}

func (*AdvancedQueryArgs) Tool() ToolName        { return AdvancedQuery }
func (*MemoryAnalysisArgs) Tool() ToolName       { return MemoryAnalysis }
func (*ToolOrchestrationArgs) Tool() ToolName    { return ToolOrchestration }
func (*ContextSynthesisArgs) Tool() ToolName     { return ContextSynthesis }
func (*AdaptiveLearningArgs) Tool() ToolName     { return AdaptiveLearning }
func (*PerformanceAnalyticsArgs) Tool() ToolName { return PerformanceAnalytics }

// withDefaults returns a fresh argument struct pre-populated with the schema
// defaults, ready for decoding.
func withDefaults(name ToolName) Arguments {
	switch name {
	case AdvancedQuery:
		return &AdvancedQueryArgs{ReasoningMode: "analytical", ContextDepth: 5}
	case MemoryAnalysis:
		return &MemoryAnalysisArgs{TimeRange: "all_time"}
	case ToolOrchestration:
		return &ToolOrchestrationArgs{MaxSteps: 10}
	case ContextSynthesis:
		return &ContextSynthesisArgs{OutputFormat: "analysis"}
	case AdaptiveLearning:
		return &AdaptiveLearningArgs{}
	case PerformanceAnalytics:
		return &PerformanceAnalyticsArgs{TimePeriod: "last_day", Aggregation: "average"}
	}
	panic("registry: unhandled tool " + string(name))
}
