// SPDX-License-Identifier: Apache-2.0

package action

import (
	"fmt"
	"strings"
)

// StringParam returns a trimmed string parameter. Numbers are formatted;
// missing or nil values yield "".
func StringParam(params map[string]any, key string) string {
	switch v := params[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case float64, int, int64, bool:
		return fmt.Sprint(v)
	default:
		return ""
	}
}

// StringSliceParam accepts []string, []any of strings or a single string.
// Blank entries are dropped.
func StringSliceParam(params map[string]any, key string) []string {
	var raw []string
	switch v := params[key].(type) {
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case string:
		raw = []string{v}
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func MapParam(params map[string]any, key string) (map[string]any, bool) {
	m, ok := params[key].(map[string]any)
	return m, ok
}

// MapSliceParam returns the entries of a list parameter that are objects.
func MapSliceParam(params map[string]any, key string) []map[string]any {
	switch v := params[key].(type) {
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// RequireString is StringParam that fails with a BadRequestError when the
// value is blank.
func RequireString(params map[string]any, key string) (string, error) {
	v := StringParam(params, key)
	if v == "" {
		return "", BadRequest(key, "is required")
	}
	return v, nil
}
