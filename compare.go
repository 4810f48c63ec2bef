package dynfilter

import (
	"strings"
	"time"
)

// CompareValues compares two column or parameter values and returns:
//
//	-1 if left < right
//	 0 if left == right
//	 1 if left > right
//
// It handles the scalar types that appear in rows and filter parameters
// (signed and unsigned integers, floats, string, bool, time.Time), with
// numeric cross-type comparison. Nil is less than any non-nil value;
// callers that need SQL null semantics (nil compares equal to nothing)
// must check for nil before calling.
func CompareValues(left, right interface{}) int {
	if left == nil && right == nil {
		return 0
	}
	if left == nil {
		return -1
	}
	if right == nil {
		return 1
	}

	// Numeric comparison across integer/float representations.
	lf, lNum := toFloat(left)
	rf, rNum := toFloat(right)
	if lNum && rNum {
		switch {
		case lf < rf:
			return -1
		case lf > rf:
			return 1
		default:
			return 0
		}
	}

	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			return strings.Compare(ls, rs)
		}
	}

	if lb, ok := left.(bool); ok {
		if rb, ok := right.(bool); ok {
			switch {
			case lb == rb:
				return 0
			case !lb:
				return -1
			default:
				return 1
			}
		}
	}

	if lt, ok := left.(time.Time); ok {
		if rt, ok := right.(time.Time); ok {
			switch {
			case lt.Before(rt):
				return -1
			case lt.After(rt):
				return 1
			default:
				return 0
			}
		}
	}

	// Incomparable types: order by type name so the result is at least
	// deterministic.
	lt, rt := typeName(left), typeName(right)
	return strings.Compare(lt, rt)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func typeName(v interface{}) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case time.Time:
		return "time"
	default:
		return "other"
	}
}
