package sanitize

import "encoding/json"

// JSONResult is the outcome of sanitizing a JSON document: either the
// recursively sanitized value, or the "invalid" sentinel when the input
// did not parse.
type JSONResult struct {
	Valid bool
	Value any
}

// JSON parses s, recursively sanitizes every string key and value through
// Cell, and returns the result. Invalid JSON yields JSONResult{Valid: false}.
func JSON(s string) JSONResult {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return JSONResult{Valid: false}
	}

	return JSONResult{Valid: true, Value: sanitizeValue(v)}
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return Cell(val, 0)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[Cell(k, 0)] = sanitizeValue(child)
		}

		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = sanitizeValue(child)
		}

		return out
	default:
		return val
	}
}
