// Package extract resolves column values from nested API records.
//
// A column's extraction path is compiled once when the table specification is
// loaded. The common subset (field access, quoted fields, [n] indexes, [*]
// projections and [] flattens) compiles into a step sequence evaluated
// directly against the decoded record; anything else is compiled as a
// JMESPath expression. The literal {current_date} bypasses the record.
package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/golang-sql/civil"
	"github.com/jmespath/go-jmespath"
)

// CurrentDate is the path sentinel replaced by the run date.
const CurrentDate = "{current_date}"

type opKind uint8

const (
	opField opKind = iota
	opIndex
	opProject
)

type step struct {
	op    opKind
	name  string
	index int
}

type pathKind uint8

const (
	kindSteps pathKind = iota
	kindDate
	kindJMESPath
)

// Path is a compiled extraction expression. The zero value is not usable;
// build one with Compile.
type Path struct {
	raw  string
	kind pathKind

	// stages[0] runs against the record; every later stage is preceded by a
	// flatten of the previous stage's result and runs per element.
	stages [][]step

	jp *jmespath.JMESPath
}

// Compile parses expr once. It fails for empty or syntactically invalid
// expressions.
func Compile(expr string) (Path, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Path{}, fmt.Errorf("extract: empty path")
	}
	if expr == CurrentDate {
		return Path{raw: expr, kind: kindDate}, nil
	}

	if stages, ok := parseSteps(expr); ok {
		return Path{raw: expr, kind: kindSteps, stages: stages}, nil
	}

	jp, err := jmespath.Compile(expr)
	if err != nil {
		return Path{}, fmt.Errorf("extract: invalid path %q: %w", expr, err)
	}
	return Path{raw: expr, kind: kindJMESPath, jp: jp}, nil
}

// MustCompile is Compile for static expressions; it panics on error.
func MustCompile(expr string) Path {
	p, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the expression as configured.
func (p Path) String() string { return p.raw }

// IsCurrentDate reports whether the path is the {current_date} sentinel.
func (p Path) IsCurrentDate() bool { return p.kind == kindDate }

// Eval resolves the path against record. Missing fields, out-of-range indexes
// and type mismatches resolve to nil. The result is the raw decoded value;
// callers binding it to SQL should pass it through Value.
func (p Path) Eval(record any, today civil.Date) any {
	switch p.kind {
	case kindDate:
		return today
	case kindJMESPath:
		v, err := p.jp.Search(floatNumbers(record))
		if err != nil {
			// Runtime errors (e.g. a function applied to the wrong type) are
			// treated like a miss.
			return nil
		}
		return v
	default:
		return evalStages(p.stages, record)
	}
}

// floatNumbers returns a copy of v with json.Number leaves converted to
// float64, the only numeric type JMESPath functions and comparisons accept.
// Maps and slices without numbers are copied too; the record is not modified.
func floatNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = floatNumbers(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = floatNumbers(e)
		}
		return out
	default:
		return v
	}
}

func evalStages(stages [][]step, v any) any {
	v = evalSteps(stages[0], v)
	for _, stage := range stages[1:] {
		arr, ok := v.([]any)
		if !ok {
			return nil
		}
		out := make([]any, 0, len(arr))
		for _, el := range flatten(arr) {
			if r := evalSteps(stage, el); r != nil {
				out = append(out, r)
			}
		}
		v = out
	}
	return v
}

func evalSteps(steps []step, v any) any {
	for i, s := range steps {
		if v == nil {
			return nil
		}
		switch s.op {
		case opField:
			m, ok := v.(map[string]any)
			if !ok {
				return nil
			}
			v = m[s.name]

		case opIndex:
			arr, ok := v.([]any)
			if !ok {
				return nil
			}
			idx := s.index
			if idx < 0 {
				idx += len(arr)
			}
			if idx < 0 || idx >= len(arr) {
				return nil
			}
			v = arr[idx]

		case opProject:
			arr, ok := v.([]any)
			if !ok {
				return nil
			}
			out := make([]any, 0, len(arr))
			for _, el := range arr {
				if r := evalSteps(steps[i+1:], el); r != nil {
					out = append(out, r)
				}
			}
			return out
		}
	}
	return v
}

func flatten(arr []any) []any {
	out := make([]any, 0, len(arr))
	for _, el := range arr {
		if inner, ok := el.([]any); ok {
			out = append(out, inner...)
			continue
		}
		out = append(out, el)
	}
	return out
}

// parseSteps parses the supported subset:
//
//	path    = segment *( "." field *bracket )
//	segment = field *bracket | 1*bracket
//	field   = ident | quoted
//	bracket = "[" int "]" | "[*]" | "[]"
//
// It returns ok=false for anything else so the caller can fall back to the
// full JMESPath grammar.
func parseSteps(expr string) ([][]step, bool) {
	stages := [][]step{nil}
	cur := func() *[]step { return &stages[len(stages)-1] }

	i := 0
	expectField := true
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == '[':
			end := strings.IndexByte(expr[i:], ']')
			if end < 0 {
				return nil, false
			}
			inner := expr[i+1 : i+end]
			switch inner {
			case "":
				stages = append(stages, nil)
			case "*":
				*cur() = append(*cur(), step{op: opProject})
			default:
				if inner[0] == '+' {
					return nil, false
				}
				n, err := strconv.Atoi(inner)
				if err != nil {
					return nil, false
				}
				*cur() = append(*cur(), step{op: opIndex, index: n})
			}
			i += end + 1
			expectField = false

		case c == '.':
			if expectField {
				return nil, false
			}
			i++
			expectField = true
			if i >= len(expr) || expr[i] == '[' {
				return nil, false
			}

		default:
			if !expectField {
				return nil, false
			}
			name, n, ok := readField(expr[i:])
			if !ok {
				return nil, false
			}
			*cur() = append(*cur(), step{op: opField, name: name})
			i += n
			expectField = false
		}
	}
	if expectField {
		return nil, false
	}
	return stages, true
}

// readField reads an unquoted identifier or a double-quoted name without
// escapes. It returns the name and the number of bytes consumed.
func readField(s string) (string, int, bool) {
	if s[0] == '"' {
		end := strings.IndexByte(s[1:], '"')
		if end < 0 {
			return "", 0, false
		}
		name := s[1 : 1+end]
		if name == "" || strings.ContainsRune(name, '\\') {
			return "", 0, false
		}
		return name, end + 2, true
	}

	n := 0
	for n < len(s) && isIdentByte(s[n], n == 0) {
		n++
	}
	if n == 0 {
		return "", 0, false
	}
	return s[:n], n, true
}

func isIdentByte(c byte, first bool) bool {
	switch {
	case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return !first
	default:
		return false
	}
}
