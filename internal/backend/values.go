package backend

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

// EqualValues compares values decoded from different transports, where numbers
// may arrive as float64, json.Number or strings.
func EqualValues(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// CompareValues orders two column values. Nulls sort last. Numbers compare
// numerically, everything else by its string form, optionally ignoring case.
func CompareValues(a, b any, caseInsensitive bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return cmp.Compare(fa, fb)
		}
	}
	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	if caseInsensitive {
		sa, sb = strings.ToLower(sa), strings.ToLower(sb)
	}
	return strings.Compare(sa, sb)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case fmt.Stringer:
		f, err := strconv.ParseFloat(n.String(), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
