package ripple

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

var errMissing = errors.New("missing")

// toInt64 reads an integer field that may arrive as a json.Number, a float64
// (when decoded without UseNumber) or a decimal string.
func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, errMissing
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", n.String())
		}
		return i, nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("not an integer: %v", n)
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case uint32:
		return int64(n), nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

// parseDrops reads a non-negative integral amount of drops. Issued currency
// amounts are objects and are rejected.
func parseDrops(v any) (decimal.Decimal, error) {
	var s string
	switch n := v.(type) {
	case nil:
		return decimal.Zero, errMissing
	case string:
		s = n
	case json.Number:
		s = n.String()
	case float64:
		s = strconv.FormatFloat(n, 'f', -1, 64)
	case map[string]any:
		return decimal.Zero, errors.New("issued currency amount, not drops")
	default:
		return decimal.Zero, fmt.Errorf("unexpected type %T", v)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("not a number: %q", s)
	}
	if !d.IsInteger() {
		return decimal.Zero, fmt.Errorf("drops must be an integer: %q", s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount: %q", s)
	}
	return d, nil
}

func stringField(m map[string]any, key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok && s != ""
}

// firstPresent returns the first non-nil value of key across maps.
func firstPresent(key string, maps ...map[string]any) any {
	for _, m := range maps {
		if m == nil {
			continue
		}
		if v, ok := m[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

// uint32String renders a uint32 field as a decimal string, or nil when the
// field is absent or out of range.
func uint32String(v any) *string {
	n, err := toInt64(v)
	if err != nil || n < 0 || n > math.MaxUint32 {
		return nil
	}
	s := strconv.FormatInt(n, 10)
	return &s
}
