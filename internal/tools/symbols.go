package tools

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var codeRe = regexp.MustCompile(`\b\d{6}\b`)

// Symbols collects 6-digit codes from params[key], or from fallback when the
// parameter is absent. The result is unique and sorted ascending, so the
// order the plan listed the codes in is not kept and per-symbol reports follow
// code order.
func Symbols(params map[string]any, key, fallback string) []string {
	var candidates []string
	if v, ok := params[key]; ok && v != nil {
		switch val := v.(type) {
		case []any:
			for _, item := range val {
				candidates = append(candidates, stringify(item))
			}
		case []string:
			candidates = append(candidates, val...)
		default:
			candidates = append(candidates, stringify(val))
		}
	}
	if len(candidates) == 0 && fallback != "" {
		candidates = append(candidates, fallback)
	}

	seen := make(map[string]struct{})
	var out []string
	for _, code := range codeRe.FindAllString(strings.Join(candidates, ","), -1) {
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	slices.Sort(out)
	return out
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		// JSON numbers lose leading zeros; restore the 6-digit width.
		if val == float64(int64(val)) && val >= 0 && val < 1e6 {
			return fmt.Sprintf("%06d", int64(val))
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// StringParam returns params[key] as a string, or def when missing or empty.
func StringParam(params map[string]any, key, def string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return def
	}
	s := strings.TrimSpace(stringify(v))
	if s == "" {
		return def
	}
	return s
}
