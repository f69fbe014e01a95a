package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidArgument is returned when a tool call's arguments do not
	// satisfy the tool's schema.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnknownTool is returned for names outside the catalog.
	ErrUnknownTool = errors.New("unknown tool")
)

// ToolName is the closed set of callable tools.
type ToolName string

const (
	AdvancedQuery        ToolName = "advanced_query"
	MemoryAnalysis       ToolName = "memory_analysis"
	ToolOrchestration    ToolName = "tool_orchestration"
	ContextSynthesis     ToolName = "context_synthesis"
	AdaptiveLearning     ToolName = "adaptive_learning"
	PerformanceAnalytics ToolName = "performance_analytics"
)

// ParseToolName maps a wire name onto the closed set.
func ParseToolName(s string) (ToolName, bool) {
	switch n := ToolName(s); n {
	case AdvancedQuery, MemoryAnalysis, ToolOrchestration, ContextSynthesis, AdaptiveLearning, PerformanceAnalytics:
		return n, true
	}
	return "", false
}

// Descriptor describes one tool: its name, purpose and argument schema.
type Descriptor struct {
	Name        ToolName `json:"name"`
	Description string   `json:"description"`
	Schema      *Schema  `json:"inputSchema"`

	// handlerChecked lists required fields whose absence the tool handler
	// reports in its own words; Validate lets them through empty.
	handlerChecked []string
}

// Registry is the static tool catalog. It is safe for concurrent use and
// never mutates after construction.
type Registry struct {
	tools    []Descriptor
	byName   map[ToolName]Descriptor
	validate *validator.Validate
}

// New builds the registry over the built-in catalog.
func New() *Registry {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	r := &Registry{
		tools:    catalog,
		byName:   make(map[ToolName]Descriptor, len(catalog)),
		validate: v,
	}
	for _, d := range catalog {
		r.byName[d.Name] = d
	}
	return r
}

// List returns the tool descriptors in catalog order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, len(r.tools))
	copy(out, r.tools)
	return out
}

// Lookup returns the descriptor for name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	tn, ok := ParseToolName(name)
	if !ok {
		return Descriptor{}, false
	}
	d, ok := r.byName[tn]
	return d, ok
}

// Validate checks arguments against the named tool's schema and returns them
// decoded with defaults applied. Failures wrap ErrInvalidArgument or
// ErrUnknownTool.
func (r *Registry) Validate(name string, args map[string]any) (Arguments, error) {
	d, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	for _, field := range d.Schema.Required {
		if slices.Contains(d.handlerChecked, field) {
			continue
		}
		if v, present := args[field]; !present || v == nil {
			return nil, fmt.Errorf("%w: missing required field %q", ErrInvalidArgument, field)
		}
	}

	out := withDefaults(d.Name)
	if len(args) > 0 {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidArgument, describeDecodeError(err))
		}
	}

	if err := r.validate.Struct(out); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidArgument, describeValidationError(err))
	}
	return out, nil
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("field %q must be %s, got %s", typeErr.Field, jsonKind(typeErr.Type), typeErr.Value)
	}
	return err.Error()
}

func jsonKind(t reflect.Type) string {
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int64, reflect.Int32:
		return "integer"
	case reflect.Float64, reflect.Float32:
		return "number"
	case reflect.Slice:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Pointer:
		return jsonKind(t.Elem())
	}
	return t.String()
}

func describeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	_, field, ok := strings.Cut(fe.Namespace(), ".")
	if !ok {
		field = fe.Field()
	}
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("field %q must be one of [%s], got %v", field, strings.ReplaceAll(fe.Param(), " ", ", "), fe.Value())
	case "gte":
		return fmt.Sprintf("field %q must be >= %s, got %v", field, fe.Param(), fe.Value())
	case "lte":
		return fmt.Sprintf("field %q must be <= %s, got %v", field, fe.Param(), fe.Value())
	}
	return fmt.Sprintf("field %q failed %s", field, fe.Tag())
}
