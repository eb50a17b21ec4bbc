// Package patterns ships the built-in coordination patterns registered by
// the daemon: task distribution, conflict resolution, resource management,
// and workflow orchestration.
package patterns

import (
	"time"

	"github.com/akontos/syntonia/internal/pattern"
)

// RegisterBuiltins adds every built-in pattern to the registry.
func RegisterBuiltins(reg *pattern.Registry) error {
	for _, p := range []pattern.Pattern{
		NewTaskDistribution(),
		NewConflictResolution(),
		NewResourceManagement(),
		NewWorkflowOrchestration(),
	} {
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	return nil
}

func newResult(md pattern.Metadata, start time.Time, data map[string]any) *pattern.Result {
	elapsed := time.Since(start)
	return &pattern.Result{
		PatternID:     md.ID,
		Success:       true,
		Data:          data,
		CompletedAt:   time.Now(),
		Metadata:      md,
		ExecutionTime: elapsed,
		Metrics: pattern.ResultMetrics{
			ExecutionTime: elapsed,
		},
	}
}

// stringSlice tolerantly extracts a list of strings from custom config.
func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// mapSlice extracts a list of objects from custom config.
func mapSlice(v any) []map[string]any {
	switch t := v.(type) {
	case []map[string]any:
		return t
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}
