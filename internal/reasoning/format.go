package reasoning

import (
	"fmt"
	"strings"
)

// TraceHeader precedes the step listing in an advanced-query reply.
const TraceHeader = "\n\n**Reasoning Steps:**\n"

// FormatSteps renders steps as a numbered markdown list with confidence and
// dependency ids.
func FormatSteps(steps []Step) string {
	var sb strings.Builder
	for i, s := range steps {
		deps := "none"
		if len(s.Dependencies) > 0 {
			deps = strings.Join(s.Dependencies, ", ")
		}
		fmt.Fprintf(&sb, "%d. **%s**\n", i+1, s.Description)
		fmt.Fprintf(&sb, "   - Confidence: %.2f\n", s.Confidence)
		fmt.Fprintf(&sb, "   - Dependencies: %s\n\n", deps)
	}
	return sb.String()
}
