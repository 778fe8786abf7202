package docstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Decimal converts a stored numeric value. Backends hand back whatever their
// codec produced (int32, int64, float64, json.Number, numeric strings).
func Decimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case *decimal.Decimal:
		if n == nil {
			return decimal.Decimal{}, false
		}
		return *n, true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt32(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case float64:
		return decimal.NewFromFloat(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		return d, err == nil
	case fmt.Stringer:
		d, err := decimal.NewFromString(strings.TrimSpace(n.String()))
		return d, err == nil
	default:
		return decimal.Decimal{}, false
	}
}

// Int converts a stored integral value. Fractional numbers are rejected.
func Int(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	d, ok := Decimal(v)
	if !ok || !d.IsInteger() {
		return 0, false
	}
	return d.IntPart(), true
}

func String(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case Ref:
		return s.Path(), true
	default:
		return "", false
	}
}

func Bool(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// Time converts a stored timestamp. RFC3339 strings are accepted because JSON
// backends cannot keep a native time type.
func Time(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	default:
		return time.Time{}, false
	}
}

// FirstPresent returns the value of the first key present in data.
func FirstPresent(data map[string]any, keys ...string) (any, string, bool) {
	for _, key := range keys {
		if v, ok := data[key]; ok && v != nil {
			return v, key, true
		}
	}
	return nil, "", false
}

// Number turns a decimal into the float64 that stored "number" fields hold.
func Number(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

// Equal compares two stored values, treating numbers by value.
func Equal(a, b any) bool {
	if ra, ok := a.(Ref); ok {
		a = ra.Path()
	}
	if rb, ok := b.(Ref); ok {
		b = rb.Path()
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	}
	if _, isString := b.(string); isString {
		return false
	}
	da, okA := Decimal(a)
	db, okB := Decimal(b)
	if okA && okB {
		return da.Equal(db)
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// Clone deep-copies plain document data (maps, slices and scalars).
func Clone(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Clone(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = Clone(t[i])
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out
	case Ref:
		return t.Path()
	case decimal.Decimal:
		return Number(t)
	default:
		return v
	}
}

// Merge applies update fields onto current, resolving AppendValue transforms.
// current is modified in place and returned.
func Merge(current map[string]any, fields map[string]any) map[string]any {
	if current == nil {
		current = map[string]any{}
	}
	for k, v := range fields {
		if app, ok := v.(AppendValue); ok {
			existing, _ := current[k].([]any)
			list := make([]any, 0, len(existing)+len(app.Values))
			list = append(list, existing...)
			for _, item := range app.Values {
				list = append(list, cloneValue(item))
			}
			current[k] = list
			continue
		}
		current[k] = cloneValue(v)
	}
	return current
}
