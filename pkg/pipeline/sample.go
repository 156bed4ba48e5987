// Package pipeline orchestrates query execution: the per-step executor, the
// process state machine and registry, artifact persistence, and the
// end-to-end coordinator tying the LLM stages together.
package pipeline

import (
	"fmt"
	"sort"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/models"
)

// SampleLimits bounds what any LLM prompt may see of a step's result. Full
// data never enters a prompt; these are the projection rules.
type SampleLimits struct {
	MaxRows   int
	MaxString int
	MaxList   int
}

// BuildSample projects rows down to the prompt-safe sample: at most MaxRows
// rows, strings truncated to MaxString runes, lists cut to MaxList elements,
// nested objects replaced by a key-count summary.
func BuildSample(rows []map[string]any, limits SampleLimits) []map[string]any {
	n := len(rows)
	if n > limits.MaxRows {
		n = limits.MaxRows
	}
	out := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		projected := make(map[string]any, len(rows[i]))
		for k, v := range rows[i] {
			projected[k] = sampleValue(v, limits)
		}
		out[i] = projected
	}
	return out
}

func sampleValue(v any, limits SampleLimits) any {
	switch val := v.(type) {
	case string:
		r := []rune(val)
		if len(r) > limits.MaxString {
			return string(r[:limits.MaxString]) + "..."
		}
		return val
	case []any:
		cut := val
		truncated := false
		if len(cut) > limits.MaxList {
			cut = cut[:limits.MaxList]
			truncated = true
		}
		out := make([]any, len(cut))
		for i, item := range cut {
			out[i] = sampleValue(item, limits)
		}
		if truncated {
			out = append(out, fmt.Sprintf("... %d more", len(val)-limits.MaxList))
		}
		return out
	case map[string]any:
		return fmt.Sprintf("{object with %d keys}", len(val))
	default:
		return v
	}
}

// InferSchema derives a column schema from row data, for steps whose source
// carries no type information (sandbox output). Columns are the union of keys
// across rows, sorted; the type is taken from the first non-nil value seen.
func InferSchema(rows []map[string]any) []models.ColumnSchema {
	types := make(map[string]string)
	for _, row := range rows {
		for k, v := range row {
			if _, seen := types[k]; seen && types[k] != "unknown" {
				continue
			}
			types[k] = typeName(v)
		}
	}
	keys := make([]string, 0, len(types))
	for k := range types {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]models.ColumnSchema, len(keys))
	for i, k := range keys {
		out[i] = models.ColumnSchema{Name: k, Type: types[k]}
	}
	return out
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "unknown"
	case string:
		return "text"
	case bool:
		return "boolean"
	case float64, float32, int, int64:
		return "number"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	default:
		return "text"
	}
}
