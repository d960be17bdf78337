// Package value compares and coerces the loosely typed scalars found in cached
// rows. Cached values arrive from JSON, msgpack or Go literals, so the same
// column can hold an int in one entry and an int8 or float64 in another.
package value

import (
	"cmp"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

type kind int

const (
	kindNull kind = iota
	kindBool
	kindInt
	kindUint
	kindFloat
	kindString
	kindTime
	kindOther
)

// IsNull reports whether v is nil or a nil pointer/map/slice/interface.
func IsNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// deref unwraps pointers to scalars so *int and int compare the same.
func deref(v any) any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

func classify(v any) kind {
	switch t := v.(type) {
	case nil:
		return kindNull
	case bool:
		return kindBool
	case int, int8, int16, int32, int64:
		return kindInt
	case uint, uint8, uint16, uint32, uint64:
		return kindUint
	case float32, float64:
		return kindFloat
	case json.Number:
		if _, err := t.Int64(); err == nil {
			return kindInt
		}
		return kindFloat
	case string:
		return kindString
	case time.Time:
		return kindTime
	}
	return kindOther
}

func isNumeric(k kind) bool {
	return k == kindInt || k == kindUint || k == kindFloat
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case json.Number:
		n, _ := t.Int64()
		return n
	}
	return 0
}

func toFloat64(v any) float64 {
	switch t := v.(type) {
	case int, int8, int16, int32, int64:
		return float64(toInt64(t))
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case float64:
		return t
	case json.Number:
		f, _ := t.Float64()
		return f
	}
	return math.NaN()
}

func toUint64(v any) uint64 {
	switch t := v.(type) {
	case uint:
		return uint64(t)
	case uint8:
		return uint64(t)
	case uint16:
		return uint64(t)
	case uint32:
		return uint64(t)
	case uint64:
		return t
	}
	return 0
}

// compareNumbers compares integers of either signedness exactly and falls back
// to float64 only when one side is a float.
func compareNumbers(a any, ka kind, b any, kb kind) int {
	switch {
	case ka == kindFloat || kb == kindFloat:
		return cmp.Compare(toFloat64(a), toFloat64(b))
	case ka == kindInt && kb == kindInt:
		return cmp.Compare(toInt64(a), toInt64(b))
	case ka == kindUint && kb == kindUint:
		return cmp.Compare(toUint64(a), toUint64(b))
	case ka == kindInt:
		x := toInt64(a)
		if x < 0 {
			return -1
		}
		return cmp.Compare(uint64(x), toUint64(b))
	}
	y := toInt64(b)
	if y < 0 {
		return 1
	}
	return cmp.Compare(toUint64(a), uint64(y))
}

// parseNumber reads s as the narrowest numeric kind that holds it.
func parseNumber(s string) (any, kind, bool) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, kindInt, true
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return n, kindUint, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, kindFloat, true
	}
	return nil, kindOther, false
}

// Compare orders two non-null scalars. Numbers of any width compare
// numerically, strings lexically, false sorts before true and times
// chronologically. Values of different kinds are ordered by kind alone, so
// a number always sorts before a string, even a numeric one, and the result is
// a total order.
func Compare(a, b any) int {
	a, b = deref(a), deref(b)
	ka, kb := classify(a), classify(b)

	if isNumeric(ka) && isNumeric(kb) {
		return compareNumbers(a, ka, b, kb)
	}
	if ka != kb {
		return cmp.Compare(ka, kb)
	}

	switch ka {
	case kindNull:
		return 0
	case kindBool:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case kindString:
		return strings.Compare(a.(string), b.(string))
	case kindTime:
		return a.(time.Time).Compare(b.(time.Time))
	}

	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// Equal reports whether two values identify the same scalar. Null only equals
// null. A number equals a string holding the same number, so a key decoded as
// text still matches its numeric form.
func Equal(a, b any) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	a, b = deref(a), deref(b)
	ka, kb := classify(a), classify(b)
	if ka == kindOther || kb == kindOther {
		return reflect.DeepEqual(a, b)
	}
	if isNumeric(ka) && kb == kindString {
		n, kn, ok := parseNumber(b.(string))
		return ok && compareNumbers(a, ka, n, kn) == 0
	}
	if ka == kindString && isNumeric(kb) {
		n, kn, ok := parseNumber(a.(string))
		return ok && compareNumbers(n, kn, b, kb) == 0
	}
	return Compare(a, b) == 0
}

// Coerce converts a raw filter operand into the type of like so the two can
// be compared. The second result is false when raw cannot represent a value of
// that type.
func Coerce(raw string, like any) (any, bool) {
	like = deref(like)
	switch classify(like) {
	case kindNull, kindString:
		return raw, true
	case kindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, false
		}
		return b, true
	case kindInt:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n, true
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, false
		}
		return f, true
	case kindUint, kindFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, false
		}
		return f, true
	case kindTime:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", time.DateOnly} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t, true
			}
		}
		return nil, false
	}
	return raw, true
}

// String renders v the way it would appear in a filter operand.
func String(v any) string {
	v = deref(v)
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}

// Int converts an integral count back from whatever numeric type a decoder
// produced.
func Int(v any) (int, bool) {
	v = deref(v)
	switch classify(v) {
	case kindInt:
		return int(toInt64(v)), true
	case kindUint, kindFloat:
		f := toFloat64(v)
		if f != math.Trunc(f) {
			return 0, false
		}
		return int(f), true
	}
	return 0, false
}
