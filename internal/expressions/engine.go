package expressions

import "context"

// Engine evaluates expressions against recorded execution state.
// Three implementations: CEL (validation criteria), Expr (milestone metrics),
// GoJQ (step-output extraction).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Truthy interprets an evaluation result as a boolean predicate outcome.
// nil, false, zero numbers, and empty strings/collections are false.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case uint64:
		return val != 0
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
