package shapefile

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/paulmach/orb"
)

// Kind is the logical type of an attribute.
type Kind int

const (
	KindObject Kind = iota // no dbf mapping
	KindGeometry
	KindInteger
	KindFloat
	KindString
	KindBoolean
	KindDate
)

var kindNames = [...]string{
	KindObject:   "Object",
	KindGeometry: "Geometry",
	KindInteger:  "Integer",
	KindFloat:    "Float",
	KindString:   "String",
	KindBoolean:  "Boolean",
	KindDate:     "Date",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// kindOf determines the attribute kind for a Go value.
func kindOf(value interface{}) Kind {
	switch v := value.(type) {
	case nil:
		return KindString
	case bool:
		return KindBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindInteger
	case float32, float64:
		return KindFloat
	case string, []byte:
		return KindString
	case time.Time:
		return KindDate
	case json.Number:
		if _, err := v.Int64(); err == nil {
			return KindInteger
		}
		return KindFloat
	case orb.Geometry:
		return KindGeometry
	default:
		return KindObject
	}
}

// promoteKind returns the more general kind when values of one attribute
// disagree. Integers widen to floats; anything else falls back to strings,
// except Object which is kept so the writer can reject it.
func promoteKind(a, b Kind) Kind {
	switch {
	case a == b:
		return a
	case a == KindObject || b == KindObject:
		return KindObject
	case (a == KindInteger && b == KindFloat) || (a == KindFloat && b == KindInteger):
		return KindFloat
	default:
		return KindString
	}
}

// Type conversion helpers

func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case uint8:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint, uint64:
		u, _ := toUint64(val)
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	case float32:
		return int64(val), true
	case float64:
		return int64(val), true
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, true
		}
		if f, err := val.Float64(); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}

// toUint64 accepts the unsigned types whose range exceeds int64.
func toUint64(v interface{}) (uint64, bool) {
	switch val := v.(type) {
	case uint:
		return uint64(val), true
	case uint64:
		return val, true
	}
	return 0, false
}

func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(v)
	}
}

// textLength is the width a value needs in a character column.
func textLength(v interface{}) int {
	if v == nil {
		return 0
	}
	return utf8.RuneCountInString(toString(v))
}
