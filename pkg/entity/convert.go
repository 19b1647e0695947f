package entity

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/mesh-intelligence/connector/pkg/types"
)

// Convert converts value to the Go type described by t. Pointers in value are
// dereferenced; a nil value converts to nil. The result never carries the
// optional pointer: callers that set struct fields wrap it themselves.
func Convert(value any, t Type) (any, error) {
	if value == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	if t.Kind == KindAny {
		return rv.Interface(), nil
	}

	out := reflect.New(t.Go).Elem()
	switch t.Kind {
	case KindBool:
		b, err := toBool(rv)
		if err != nil {
			return nil, mismatch(value, t, err)
		}
		out.SetBool(b)
	case KindInt:
		n, err := toInt64(rv)
		if err != nil {
			return nil, mismatch(value, t, err)
		}
		if out.OverflowInt(n) {
			return nil, mismatch(value, t, fmt.Errorf("%d overflows", n))
		}
		out.SetInt(n)
	case KindUint:
		n, err := toInt64(rv)
		if err != nil {
			return nil, mismatch(value, t, err)
		}
		if n < 0 || out.OverflowUint(uint64(n)) {
			return nil, mismatch(value, t, fmt.Errorf("%d out of range", n))
		}
		out.SetUint(uint64(n))
	case KindFloat:
		f, err := toFloat64(rv)
		if err != nil {
			return nil, mismatch(value, t, err)
		}
		out.SetFloat(f)
	case KindString:
		s, err := toString(rv)
		if err != nil {
			return nil, mismatch(value, t, err)
		}
		out.SetString(s)
	case KindTime:
		tm, err := toTime(rv)
		if err != nil {
			return nil, mismatch(value, t, err)
		}
		out.Set(reflect.ValueOf(tm))
	case KindCollection:
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, mismatch(value, t, nil)
		}
		out = reflect.MakeSlice(t.Go, rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			ev, err := Convert(rv.Index(i).Interface(), *t.Elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			if ev != nil {
				out.Index(i).Set(reflect.ValueOf(ev))
			}
		}
	case KindMap:
		if rv.Kind() != reflect.Map {
			return nil, mismatch(value, t, nil)
		}
		out = reflect.MakeMapWithSize(t.Go, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := reflect.ValueOf(fmt.Sprint(iter.Key().Interface())).Convert(t.Go.Key())
			ev, err := Convert(iter.Value().Interface(), *t.Elem)
			if err != nil {
				return nil, fmt.Errorf("key %v: %w", key, err)
			}
			if ev == nil {
				out.SetMapIndex(key, reflect.Zero(t.Go.Elem()))
				continue
			}
			out.SetMapIndex(key, reflect.ValueOf(ev))
		}
	default:
		return nil, mismatch(value, t, nil)
	}
	return out.Interface(), nil
}

func mismatch(value any, t Type, cause error) error {
	if cause != nil {
		return fmt.Errorf("%w: cannot convert %T to %s: %v", types.ErrTypeMismatch, value, t, cause)
	}
	return fmt.Errorf("%w: cannot convert %T to %s", types.ErrTypeMismatch, value, t)
}

func toBool(rv reflect.Value) (bool, error) {
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0, nil
	case reflect.String:
		return strconv.ParseBool(rv.String())
	}
	return false, fmt.Errorf("not a boolean")
}

func toInt64(rv reflect.Value) (int64, error) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
			return 0, fmt.Errorf("%v is not an integer", f)
		}
		return int64(f), nil
	case reflect.Bool:
		if rv.Bool() {
			return 1, nil
		}
		return 0, nil
	case reflect.String:
		return strconv.ParseInt(rv.String(), 10, 64)
	}
	return 0, fmt.Errorf("not an integer")
}

func toFloat64(rv reflect.Value) (float64, error) {
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.String:
		return strconv.ParseFloat(rv.String(), 64)
	}
	return 0, fmt.Errorf("not a number")
}

func toString(rv reflect.Value) (string, error) {
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return string(rv.Bytes()), nil
		}
	}
	if s, ok := rv.Interface().(fmt.Stringer); ok {
		return s.String(), nil
	}
	return "", fmt.Errorf("not a string")
}

// toTime accepts time values, anything with a Time() accessor (driver date
// types), epoch milliseconds and RFC 3339 strings. Results are UTC.
func toTime(rv reflect.Value) (time.Time, error) {
	switch v := rv.Interface().(type) {
	case time.Time:
		return v.UTC(), nil
	case interface{ Time() time.Time }:
		return v.Time().UTC(), nil
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return time.UnixMilli(rv.Int()).UTC(), nil
	case reflect.Float32, reflect.Float64:
		return time.UnixMilli(int64(rv.Float())).UTC(), nil
	case reflect.String:
		tm, err := time.Parse(time.RFC3339Nano, rv.String())
		if err != nil {
			return time.Time{}, err
		}
		return tm.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("not a time")
}
