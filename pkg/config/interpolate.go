package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LookupFunc resolves a variable reference during interpolation. The default
// is os.LookupEnv; tests inject their own.
type LookupFunc func(name string) (string, bool)

// Interpolate expands ${VAR}-style references in every string leaf of a
// parsed YAML tree, in place. Supported forms follow shell semantics:
//
//	${NAME}        value of NAME, empty if unset
//	${NAME:-def}   def if NAME is unset or empty
//	${NAME-def}    def if NAME is unset
//	${NAME:?msg}   error msg if NAME is unset or empty
//	${NAME?msg}    error msg if NAME is unset
//
// "$$" unescapes to a literal "$", so "$${NAME}" yields the text "${NAME}"
// without substitution. When a leaf underwent substitution, the result is
// parsed as JSON (object, array, number, bool, null) and replaced by the
// parsed value if it parses; otherwise it stays a string.
//
// The transform is pure apart from the injected lookup: it reads no files
// and mutates only the given tree.
func Interpolate(root *yaml.Node, lookup LookupFunc) error {
	if root == nil {
		return nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return interpolateNode(root, lookup)
}

func interpolateNode(n *yaml.Node, lookup LookupFunc) error {
	switch n.Kind {
	case yaml.DocumentNode, yaml.SequenceNode, yaml.MappingNode:
		for _, child := range n.Content {
			if err := interpolateNode(child, lookup); err != nil {
				return err
			}
		}
		return nil

	case yaml.ScalarNode:
		if n.Tag != "!!str" {
			return nil
		}
		expanded, substituted, err := expandString(n.Value, lookup)
		if err != nil {
			return err
		}
		if !substituted {
			if expanded != n.Value {
				n.SetString(expanded)
			}
			return nil
		}
		if v, ok := coerceJSON(expanded); ok {
			return encodeScalar(n, v)
		}
		n.SetString(expanded)
		return nil
	}
	return nil
}

// expandString performs the ${...} substitution over a single string. The
// second return value reports whether any variable reference was expanded
// (escapes alone do not count).
func expandString(s string, lookup LookupFunc) (string, bool, error) {
	if !strings.Contains(s, "$") {
		return s, false, nil
	}

	var out strings.Builder
	substituted := false
	for i := 0; i < len(s); {
		c := s[i]
		if c != '$' {
			out.WriteByte(c)
			i++
			continue
		}
		// "$$" escapes to a literal "$".
		if i+1 < len(s) && s[i+1] == '$' {
			out.WriteByte('$')
			i += 2
			continue
		}
		if i+1 < len(s) && s[i+1] == '{' {
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				return "", false, newValidationError("", s, "unterminated ${...} reference")
			}
			expr := s[i+2 : i+2+end]
			val, err := evalReference(expr, lookup)
			if err != nil {
				return "", false, err
			}
			out.WriteString(val)
			substituted = true
			i += 2 + end + 1
			continue
		}
		out.WriteByte(c)
		i++
	}
	return out.String(), substituted, nil
}

// evalReference evaluates the inside of a ${...} form.
func evalReference(expr string, lookup LookupFunc) (string, error) {
	name := expr
	op, arg := "", ""
	for j := 0; j < len(expr); j++ {
		switch expr[j] {
		case ':':
			if j+1 < len(expr) && (expr[j+1] == '-' || expr[j+1] == '?') {
				name, op, arg = expr[:j], expr[j:j+2], expr[j+2:]
			} else {
				return "", newValidationError("", expr, "malformed variable reference")
			}
		case '-', '?':
			name, op, arg = expr[:j], expr[j:j+1], expr[j+1:]
		default:
			continue
		}
		break
	}
	if name == "" {
		return "", newValidationError("", expr, "empty variable name in reference")
	}

	val, ok := lookup(name)
	switch op {
	case "":
		return val, nil
	case ":-":
		if !ok || val == "" {
			return arg, nil
		}
		return val, nil
	case "-":
		if !ok {
			return arg, nil
		}
		return val, nil
	case ":?":
		if !ok || val == "" {
			return "", newValidationError(name, nil, arg)
		}
		return val, nil
	case "?":
		if !ok {
			return "", newValidationError(name, nil, arg)
		}
		return val, nil
	}
	return val, nil
}

// coerceJSON attempts to parse s as a JSON value. Integral numbers come back
// as int, other numbers as float64. A JSON string result is not a coercion.
func coerceJSON(s string) (any, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	// Reject trailing garbage such as "1 potato".
	if dec.More() {
		return nil, false
	}
	if _, isStr := v.(string); isStr {
		return nil, false
	}
	return normalizeNumbers(v), true
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return int(i)
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = normalizeNumbers(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = normalizeNumbers(t[k])
		}
		return t
	}
	return v
}

// encodeScalar replaces the contents of n with the YAML encoding of v.
func encodeScalar(n *yaml.Node, v any) error {
	if v == nil {
		n.Kind = yaml.ScalarNode
		n.Tag = "!!null"
		n.Value = "null"
		n.Content = nil
		n.Style = 0
		return nil
	}
	var repl yaml.Node
	if err := repl.Encode(v); err != nil {
		return fmt.Errorf("re-encoding interpolated value: %w", err)
	}
	*n = repl
	return nil
}
