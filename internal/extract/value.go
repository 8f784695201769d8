package extract

import (
	"strconv"

	"github.com/goccy/go-json"
	"github.com/golang-sql/civil"
)

// Value converts an evaluated path result into a scalar suitable for a SQL
// bind parameter.
//
// Conversion rules:
//   - nil, string, bool, int64, float64 and civil.Date pass through.
//   - json.Number becomes int64 when it is an integer literal, else float64.
//   - Objects and lists (including projection results) are encoded as JSON
//     text, so a column can hold e.g. the list of artist names.
func Value(v any) any {
	switch t := v.(type) {
	case nil, string, bool, int64, float64, civil.Date:
		return v
	case json.Number:
		return numberValue(t.String())
	case int:
		return int64(t)
	case float32:
		return float64(t)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		return string(b)
	default:
		return v
	}
}

func numberValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
