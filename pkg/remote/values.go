package remote

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"time"
)

// toFloat converts any supported numeric value to float64.
func toFloat(v any) (float64, bool) {
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
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// normalizeNumber maps every numeric kind onto int64 or float64, the two
// number representations held in a record's data.
func normalizeNumber(v any) (any, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return float64(n), true
		}
		return int64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		return f, err == nil
	}
	return nil, false
}

// addNumbers sums two numbers, staying in int64 while both operands are integral.
func addNumbers(a, b any) (any, bool) {
	na, ok := normalizeNumber(a)
	if !ok {
		return nil, false
	}
	nb, ok := normalizeNumber(b)
	if !ok {
		return nil, false
	}
	ia, aInt := na.(int64)
	ib, bInt := nb.(int64)
	if aInt && bInt {
		return ia + ib, true
	}
	fa, _ := toFloat(na)
	fb, _ := toFloat(nb)
	return fa + fb, true
}

// valuesEqual compares two record values. Records compare by identity or by
// className+id; everything else compares structurally.
func valuesEqual(a, b any) bool {
	ra, aRec := a.(Record)
	rb, bRec := b.(Record)
	if aRec || bRec {
		if !aRec || !bRec {
			return false
		}
		return sameRecord(ra, rb)
	}
	if na, ok := normalizeNumber(a); ok {
		if nb, ok := normalizeNumber(b); ok {
			fa, _ := toFloat(na)
			fb, _ := toFloat(nb)
			return fa == fb
		}
		return false
	}
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case *File:
		y, ok := b.(*File)
		if !ok {
			return false
		}
		return x == y || (x.url != "" && x.url == y.url)
	}
	return reflect.DeepEqual(a, b)
}

func sameRecord(a, b Record) bool {
	oa, ob := a.base(), b.base()
	if oa == ob {
		return true
	}
	return oa.id != "" && oa.id == ob.id && oa.className == ob.className
}

// copyList returns a shallow copy of list so callers cannot alias a record's
// internal slices.
func copyList(list []any) []any {
	if list == nil {
		return nil
	}
	out := make([]any, len(list))
	copy(out, list)
	return out
}

// toList converts any slice value into []any. It reports false for non-slices
// and for []byte, which is a scalar bytes value.
func toList(v any) ([]any, bool) {
	switch l := v.(type) {
	case nil:
		return nil, false
	case []any:
		return l, true
	case []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// toMap converts any string-keyed map into map[string]any.
func toMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// normalizeValue converts slices and maps of concrete element types into the
// []any / map[string]any shapes records hold, and numbers into int64/float64.
func normalizeValue(v any) any {
	if n, ok := normalizeNumber(v); ok {
		return n
	}
	if list, ok := toList(v); ok {
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = normalizeValue(item)
		}
		return out
	}
	if m, ok := toMap(v); ok {
		out := make(map[string]any, len(m))
		for k, item := range m {
			out[k] = normalizeValue(item)
		}
		return out
	}
	return v
}
