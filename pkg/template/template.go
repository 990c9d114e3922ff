// Package template resolves {{context.*}} tokens and the restricted boolean
// condition grammar used by workflow definitions. The grammar is deliberately
// small (token substitution plus string equality) so definition authors never
// get a general evaluation surface.
package template

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidExpression is returned for a condition that does not conform to
// the `{{token}} == "literal"` grammar. Malformed expressions are an error,
// never a silent false.
var ErrInvalidExpression = errors.New("invalid condition expression")

var (
	tokenPattern     = regexp.MustCompile(`\{\{\s*context((?:\.[A-Za-z0-9_-]+)*)\s*\}\}`)
	loneTokenPattern = regexp.MustCompile(`^\{\{\s*context(?:\.[A-Za-z0-9_-]+)*\s*\}\}$`)
)

// Render replaces every {{context.a.b.c}} occurrence in input with the string
// form of the value found by walking the context. A missing path renders as
// the empty string so a minor missing field never aborts a run.
func Render(input string, context map[string]any) string {
	return tokenPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := tokenPattern.FindStringSubmatch(match)
		path := strings.TrimPrefix(sub[1], ".")

		value, ok := lookup(context, path)
		if !ok {
			return ""
		}

		return stringify(value)
	})
}

// RenderConfig renders all template strings in a node config, walking nested
// maps and slices. Non-string values pass through untouched.
func RenderConfig(config, context map[string]any) map[string]any {
	rendered := make(map[string]any, len(config))
	for k, v := range config {
		rendered[k] = renderValue(v, context)
	}

	return rendered
}

func renderValue(value any, context map[string]any) any {
	switch v := value.(type) {
	case string:
		return Render(v, context)
	case map[string]any:
		return RenderConfig(v, context)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = renderValue(item, context)
		}

		return out
	default:
		return value
	}
}

// EvalCondition evaluates an expression of the form
//
//	{{context.path}} == "literal"
//	{{context.path}} == true
//
// against the run context. Equality is the only operator; the left side must
// be a single token, the right side a double-quoted string or boolean
// literal. Anything else is ErrInvalidExpression.
func EvalCondition(expr string, context map[string]any) (bool, error) {
	parts := strings.SplitN(expr, "==", 2)
	if len(parts) != 2 {
		return false, fmt.Errorf("%w: missing '==' in %q", ErrInvalidExpression, expr)
	}

	lhs := strings.TrimSpace(parts[0])
	rhs := strings.TrimSpace(parts[1])

	if !loneTokenPattern.MatchString(lhs) {
		return false, fmt.Errorf("%w: left side of %q is not a context token", ErrInvalidExpression, expr)
	}

	if strings.Contains(rhs, "==") {
		return false, fmt.Errorf("%w: multiple operators in %q", ErrInvalidExpression, expr)
	}

	left := Render(lhs, context)

	switch {
	case len(rhs) >= 2 && strings.HasPrefix(rhs, `"`) && strings.HasSuffix(rhs, `"`):
		literal, err := strconv.Unquote(rhs)
		if err != nil {
			return false, fmt.Errorf("%w: malformed string literal %s", ErrInvalidExpression, rhs)
		}

		return left == literal, nil
	case rhs == "true" || rhs == "false":
		return left == rhs, nil
	default:
		return false, fmt.Errorf("%w: right side of %q is not a string or boolean literal", ErrInvalidExpression, expr)
	}
}

func lookup(context map[string]any, path string) (any, bool) {
	if path == "" {
		return context, true
	}

	var current any = context

	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
