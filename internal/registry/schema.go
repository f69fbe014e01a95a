package registry

import "encoding/json"

// Schema is the JSON-Schema subset used to describe tool arguments.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Minimum     *float64           `json:"minimum,omitempty"`
	Maximum     *float64           `json:"maximum,omitempty"`
	Default     any                `json:"default,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// Raw returns the schema encoded as JSON.
func (s *Schema) Raw() json.RawMessage {
	b, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	return b
}

func bound(v float64) *float64 { return &v }

func str(desc string) *Schema { return &Schema{Type: "string", Description: desc} }

func enum(desc string, values []string, def string) *Schema {
	s := &Schema{Type: "string", Description: desc, Enum: values}
	if def != "" {
		s.Default = def
	}
	return s
}

var (
	reasoningModes  = []string{"simple", "analytical", "creative", "strategic"}
	analysisTypes   = []string{"user_profile", "preferences", "patterns", "sentiment", "topics"}
	memoryRanges    = []string{"last_hour", "last_day", "last_week", "all_time"}
	outputFormats   = []string{"summary", "analysis", "recommendations", "insights"}
	learningFocuses = []string{"user_preferences", "communication_style", "topic_expertise", "response_quality"}
	metricTypes     = []string{"response_time", "tool_usage", "error_rates", "user_satisfaction", "memory_usage"}
	metricPeriods   = []string{"last_hour", "last_day", "last_week", "last_month"}
	aggregations    = []string{"average", "median", "percentiles", "distribution"}
)

var catalog = []Descriptor{
	{
		Name:        AdvancedQuery,
		Description: "Advanced query with multi-step reasoning and context awareness",
		Schema: &Schema{
			Type: "object",
			Properties: map[string]*Schema{
				"question":       str("The question to process with advanced reasoning"),
				"reasoning_mode": enum("The reasoning approach to use", reasoningModes, "analytical"),
				"context_depth": {
					Type: "integer", Description: "Depth of context to consider",
					Minimum: bound(1), Maximum: bound(10), Default: 5,
				},
				"include_reasoning_steps": {
					Type: "boolean", Description: "Whether to include reasoning steps in response",
					Default: false,
				},
				"session_id": str("Conversation to record the exchange under"),
			},
			Required: []string{"question"},
		},
		handlerChecked: []string{"question"},
	},
	{
		Name:        MemoryAnalysis,
		Description: "Analyze and extract insights from conversation memory",
		Schema: &Schema{
			Type: "object",
			Properties: map[string]*Schema{
				"analysis_type": enum("Type of memory analysis to perform", analysisTypes, ""),
				"session_id":    str("Session ID to analyze"),
				"time_range":    enum("Time range for analysis", memoryRanges, "all_time"),
			},
			Required: []string{"analysis_type"},
		},
	},
	{
		Name:        ToolOrchestration,
		Description: "Orchestrate multiple tools to solve complex problems",
		Schema: &Schema{
			Type: "object",
			Properties: map[string]*Schema{
				"goal": str("The high-level goal to achieve"),
				"available_tools": {
					Type: "array", Description: "List of available tools to orchestrate",
					Items: &Schema{Type: "string"},
				},
				"constraints": {Type: "object", Description: "Constraints and preferences for orchestration"},
				"max_steps": {
					Type: "integer", Description: "Maximum number of orchestration steps",
					Minimum: bound(1), Maximum: bound(20), Default: 10,
				},
			},
			Required: []string{"goal"},
		},
		handlerChecked: []string{"goal"},
	},
	{
		Name:        ContextSynthesis,
		Description: "Synthesize information from multiple sources with advanced reasoning",
		Schema: &Schema{
			Type: "object",
			Properties: map[string]*Schema{
				"sources": {
					Type: "array", Description: "Information sources to synthesize",
					Items: &Schema{
						Type: "object",
						Properties: map[string]*Schema{
							"type":    {Type: "string"},
							"content": {Type: "string"},
							"weight":  {Type: "number", Minimum: bound(0), Maximum: bound(1)},
						},
					},
				},
				"synthesis_goal": str("Goal of the synthesis process"),
				"output_format":  enum("Desired output format", outputFormats, "analysis"),
			},
			Required: []string{"sources", "synthesis_goal"},
		},
		handlerChecked: []string{"sources", "synthesis_goal"},
	},
	{
		Name:        AdaptiveLearning,
		Description: "Learn and adapt from interactions to improve responses",
		Schema: &Schema{
			Type: "object",
			Properties: map[string]*Schema{
				"interaction_data": {Type: "object", Description: "Data from recent interactions"},
				"learning_focus":   enum("Focus area for learning", learningFocuses, ""),
				"feedback":         {Type: "object", Description: "User feedback on responses"},
				"session_id":       str("Conversation whose memory is updated"),
			},
			Required: []string{"interaction_data", "learning_focus"},
		},
	},
	{
		Name:        PerformanceAnalytics,
		Description: "Analyze server performance and usage patterns",
		Schema: &Schema{
			Type: "object",
			Properties: map[string]*Schema{
				"metric_type": enum("Type of performance metric to analyze", metricTypes, ""),
				"time_period": enum("Time period for analysis", metricPeriods, "last_day"),
				"aggregation": enum("How to aggregate the data", aggregations, "average"),
			},
			Required: []string{"metric_type"},
		},
	},
}
