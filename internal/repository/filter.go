package repository

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var placeholder = regexp.MustCompile(`\{:(\w+)\}`)

// Filter binds {:name} placeholders in expr to quoted, escaped literals.
// Unknown placeholders are left untouched.
func Filter(expr string, params map[string]any) string {
	return placeholder.ReplaceAllStringFunc(expr, func(m string) string {
		name := m[2 : len(m)-1]
		v, ok := params[name]
		if !ok {
			return m
		}
		return literal(v)
	})
}

func literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return quote(x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	case int, int32, int64, uint, uint32, uint64, float32, float64:
		return fmt.Sprint(x)
	case time.Time:
		return quote(x.UTC().Format("2006-01-02 15:04:05.000Z"))
	case fmt.Stringer:
		return quote(x.String())
	default:
		return quote(fmt.Sprint(x))
	}
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}
