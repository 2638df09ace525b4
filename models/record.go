package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Has reports whether the record carries a non-nil value for key.
func (r ConversionRecord) Has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

// String returns the value for key formatted as a string. Integral floats are
// printed without a fractional part so ids survive a JSON round trip.
func (r ConversionRecord) String(key string) (string, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return strconv.FormatInt(int64(val), 10), nil
		}
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	default:
		return fmt.Sprint(val), nil
	}
}

// Int64 returns the value for key as an integer.
func (r ConversionRecord) Int64(key string) (int64, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing field %s", key)
	}
	switch val := v.(type) {
	case int:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case float64:
		return int64(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		f, err := val.Float64()
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", key, err)
		}
		return int64(f), nil
	case string:
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", key, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("field %s: unsupported type %T", key, v)
	}
}

// Float64 returns the value for key as a float.
func (r ConversionRecord) Float64(key string) (float64, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing field %s", key)
	}
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", key, err)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", key, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("field %s: unsupported type %T", key, v)
	}
}
