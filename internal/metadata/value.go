package metadata

import (
	"fmt"
	"math"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindNumber
	KindBoolean
	KindQuantity
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindQuantity:
		return "quantity"
	default:
		return "invalid"
	}
}

// Value is a closed variant of the scalar kinds a metadata field can hold.
// Values are built once at ingestion; serialization dispatches on Kind.
type Value struct {
	kind     Kind
	str      string
	num      float64
	boolean  bool
	integral bool
	i        int64
	unit     string
}

// StringValue wraps s.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// NumberValue wraps a floating point number.
func NumberValue(f float64) Value { return Value{kind: KindNumber, num: f} }

// IntValue wraps an integer.
func IntValue(i int64) Value { return Value{kind: KindNumber, num: float64(i), i: i, integral: true} }

// BoolValue wraps b.
func BoolValue(b bool) Value { return Value{kind: KindBoolean, boolean: b} }

// QuantityValue wraps a unit-tagged number.
func QuantityValue(q Quantity) Value { return Value{kind: KindQuantity, num: q.Value, unit: q.Unit} }

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v holds anything.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// Text returns the string payload of a KindString value.
func (v Value) Text() string { return v.str }

// Number returns the numeric payload of a KindNumber or KindQuantity value.
func (v Value) Number() float64 { return v.num }

// Int returns the payload of an integral number exactly, and the truncated
// float otherwise.
func (v Value) Int() int64 {
	if v.integral {
		return v.i
	}
	return int64(v.num)
}

// IsFinite reports whether a numeric payload is neither NaN nor infinite.
// Non-numeric values are finite.
func (v Value) IsFinite() bool {
	if v.kind != KindNumber && v.kind != KindQuantity {
		return true
	}
	return !math.IsNaN(v.num) && !math.IsInf(v.num, 0)
}

// Boolean returns the payload of a KindBoolean value.
func (v Value) Boolean() bool { return v.boolean }

// Quantity returns the payload of a KindQuantity value.
func (v Value) Quantity() Quantity { return Quantity{Value: v.num, Unit: v.unit} }

// IsIntegral reports whether a number was ingested as an integer.
func (v Value) IsIntegral() bool { return v.integral }

// String returns the canonical text form used for vocabulary comparison.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		if v.integral {
			return strconv.FormatInt(v.i, 10)
		}
		return formatNumber(v.num)
	case KindBoolean:
		return strconv.FormatBool(v.boolean)
	case KindQuantity:
		return v.Quantity().String()
	default:
		return ""
	}
}

// Interface returns the value as a plain Go value: string, int64, float64, bool
// or Quantity.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		if v.integral {
			return v.i
		}
		return v.num
	case KindBoolean:
		return v.boolean
	case KindQuantity:
		return v.Quantity()
	default:
		return nil
	}
}

// Equal compares kind and payload. Integral and float numbers of equal
// magnitude are equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		if v.integral && o.integral {
			return v.i == o.i
		}
		return v.num == o.num
	case KindBoolean:
		return v.boolean == o.boolean
	case KindQuantity:
		return v.num == o.num && v.unit == o.unit
	default:
		return true
	}
}

// ValueOf converts a plain Go value into a Value.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		return t, nil
	case Quantity:
		return finite(QuantityValue(t))
	case *Quantity:
		if t == nil {
			return Value{}, fmt.Errorf("nil quantity")
		}
		return finite(QuantityValue(*t))
	case string:
		return StringValue(t), nil
	case bool:
		return BoolValue(t), nil
	case int:
		return IntValue(int64(t)), nil
	case int8:
		return IntValue(int64(t)), nil
	case int16:
		return IntValue(int64(t)), nil
	case int32:
		return IntValue(int64(t)), nil
	case int64:
		return IntValue(t), nil
	case uint:
		if uint64(t) > math.MaxInt64 {
			return Value{}, fmt.Errorf("integer %d overflows int64", t)
		}
		return IntValue(int64(t)), nil
	case uint8:
		return IntValue(int64(t)), nil
	case uint16:
		return IntValue(int64(t)), nil
	case uint32:
		return IntValue(int64(t)), nil
	case uint64:
		if t > math.MaxInt64 {
			return Value{}, fmt.Errorf("integer %d overflows int64", t)
		}
		return IntValue(int64(t)), nil
	case float32:
		return finite(NumberValue(float64(t)))
	case float64:
		return finite(NumberValue(t))
	case nil:
		return Value{}, fmt.Errorf("nil value")
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}
}

func finite(v Value) (Value, error) {
	if !v.IsFinite() {
		return Value{}, fmt.Errorf("non-finite number %v", v.num)
	}
	return v, nil
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// parseNumber parses s as an integer first, then as a float.
func parseNumber(s string) (Value, bool) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return IntValue(i), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return NumberValue(f), true
	}
	return Value{}, false
}
