package variant

import (
	"fmt"
	"strconv"
	"time"

	"github.com/openopc/go-opcda/internal/util"
)

// Type names of the Value tagged union.
const (
	EmptyType  = "empty"
	BoolType   = "boolean"
	IntType    = "integer"
	UintType   = "unsigned"
	FloatType  = "float"
	StringType = "string"
	TimeType   = "datetime"
	ArrayType  = "array"
)

// Value represents an immutable typed value carried between the client API
// and the native protocol surface.
//
// Accessors return ErrNotImplemented when called on a value of a different
// type, except for the safe numeric widenings documented on each method.
type Value interface {
	// Type returns the type name of the value.
	Type() string

	// ToBool retrieves the boolean payload. Only available for BoolValue.
	ToBool() (bool, error)

	// ToInt retrieves the payload as a signed 64-bit integer.
	// Available for IntValue, and for UintValue when the payload fits.
	ToInt() (int64, error)

	// ToUint retrieves the payload as an unsigned 64-bit integer.
	// Available for UintValue, and for IntValue when the payload is
	// non-negative.
	ToUint() (uint64, error)

	// ToFloat retrieves the payload as a 64-bit float.
	// Available for FloatValue, IntValue and UintValue.
	ToFloat() (float64, error)

	// ToString retrieves the string payload. Only available for StringValue.
	ToString() (string, error)

	// ToTime retrieves the date-time payload. Only available for TimeValue.
	ToTime() (time.Time, error)

	// ToArray retrieves the element values. Only available for ArrayValue.
	ToArray() ([]Value, error)

	// IsEmpty reports whether the value is the empty value.
	IsEmpty() bool

	// IsArray reports whether the value is an array.
	IsArray() bool

	// Clone creates a deep copy of the value.
	Clone() Value

	// String returns a human-readable rendering of the value.
	String() string
}

// baseValue provides the not-implemented accessors shared by all concrete
// value types. Concrete types override the accessors for their own payload.
type baseValue struct{}

func (baseValue) ToBool() (bool, error) {
	return false, fmt.Errorf("%w: ToBool", ErrNotImplemented)
}

func (baseValue) ToInt() (int64, error) {
	return 0, fmt.Errorf("%w: ToInt", ErrNotImplemented)
}

func (baseValue) ToUint() (uint64, error) {
	return 0, fmt.Errorf("%w: ToUint", ErrNotImplemented)
}

func (baseValue) ToFloat() (float64, error) {
	return 0, fmt.Errorf("%w: ToFloat", ErrNotImplemented)
}

func (baseValue) ToString() (string, error) {
	return "", fmt.Errorf("%w: ToString", ErrNotImplemented)
}

func (baseValue) ToTime() (time.Time, error) {
	return time.Time{}, fmt.Errorf("%w: ToTime", ErrNotImplemented)
}

func (baseValue) ToArray() ([]Value, error) {
	return nil, fmt.Errorf("%w: ToArray", ErrNotImplemented)
}

func (baseValue) IsEmpty() bool { return false }
func (baseValue) IsArray() bool { return false }

// EmptyValue represents the empty value. It is used mostly for error cases
// and for items that have not reported data yet.
type EmptyValue struct {
	baseValue
}

// NewEmptyValue creates a new empty value.
func NewEmptyValue() Value {
	return &EmptyValue{}
}

func (*EmptyValue) Type() string  { return EmptyType }
func (*EmptyValue) IsEmpty() bool { return true }
func (*EmptyValue) Clone() Value  { return &EmptyValue{} }
func (*EmptyValue) String() string {
	return "<empty>"
}

// BoolValue represents a boolean value.
type BoolValue struct {
	baseValue
	v bool
}

// NewBoolValue creates a new boolean value.
func NewBoolValue(v bool) Value {
	return &BoolValue{v: v}
}

func (*BoolValue) Type() string { return BoolType }

func (val *BoolValue) ToBool() (bool, error) { return val.v, nil }
func (val *BoolValue) Clone() Value          { return &BoolValue{v: val.v} }
func (val *BoolValue) String() string {
	return strconv.FormatBool(val.v)
}

// IntValue represents a signed integer value, held at 64-bit width
// regardless of the native width it was decoded from.
type IntValue struct {
	baseValue
	v int64
}

// NewIntValue creates a new signed integer value.
func NewIntValue(v int64) Value {
	return &IntValue{v: v}
}

func (*IntValue) Type() string { return IntType }

func (val *IntValue) ToInt() (int64, error) { return val.v, nil }

func (val *IntValue) ToUint() (uint64, error) {
	if val.v < 0 {
		return 0, fmt.Errorf("%w: negative integer %d", ErrNotImplemented, val.v)
	}
	return uint64(val.v), nil
}

func (val *IntValue) ToFloat() (float64, error) { return float64(val.v), nil }
func (val *IntValue) Clone() Value              { return &IntValue{v: val.v} }
func (val *IntValue) String() string {
	return strconv.FormatInt(val.v, 10)
}

// UintValue represents an unsigned integer value, held at 64-bit width
// regardless of the native width it was decoded from.
type UintValue struct {
	baseValue
	v uint64
}

// NewUintValue creates a new unsigned integer value.
func NewUintValue(v uint64) Value {
	return &UintValue{v: v}
}

func (*UintValue) Type() string { return UintType }

func (val *UintValue) ToUint() (uint64, error) { return val.v, nil }

func (val *UintValue) ToInt() (int64, error) {
	if val.v > 1<<63-1 {
		return 0, fmt.Errorf("%w: unsigned integer %d overflows int64", ErrNotImplemented, val.v)
	}
	return int64(val.v), nil
}

func (val *UintValue) ToFloat() (float64, error) { return float64(val.v), nil }
func (val *UintValue) Clone() Value              { return &UintValue{v: val.v} }
func (val *UintValue) String() string {
	return strconv.FormatUint(val.v, 10)
}

// FloatValue represents a floating point value, held at 64-bit width.
type FloatValue struct {
	baseValue
	v float64
}

// NewFloatValue creates a new float value.
func NewFloatValue(v float64) Value {
	return &FloatValue{v: v}
}

func (*FloatValue) Type() string { return FloatType }

func (val *FloatValue) ToFloat() (float64, error) { return val.v, nil }
func (val *FloatValue) Clone() Value              { return &FloatValue{v: val.v} }
func (val *FloatValue) String() string {
	return strconv.FormatFloat(val.v, 'g', -1, 64)
}

// StringValue represents a string value.
type StringValue struct {
	baseValue
	v string
}

// NewStringValue creates a new string value.
func NewStringValue(v string) Value {
	return &StringValue{v: v}
}

func (*StringValue) Type() string { return StringType }

func (val *StringValue) ToString() (string, error) { return val.v, nil }
func (val *StringValue) Clone() Value              { return &StringValue{v: val.v} }
func (val *StringValue) String() string {
	return val.v
}

// TimeValue represents a date-time value.
//
// The payload is truncated to millisecond resolution on construction so that
// values survive the native DATE encoding without loss.
type TimeValue struct {
	baseValue
	v time.Time
}

// NewTimeValue creates a new date-time value, truncated to millisecond
// resolution in UTC.
func NewTimeValue(v time.Time) Value {
	return &TimeValue{v: v.UTC().Truncate(time.Millisecond)}
}

func (*TimeValue) Type() string { return TimeType }

func (val *TimeValue) ToTime() (time.Time, error) { return val.v, nil }
func (val *TimeValue) Clone() Value               { return &TimeValue{v: val.v} }
func (val *TimeValue) String() string {
	return val.v.Format(time.RFC3339Nano)
}

// ArrayValue represents a homogeneous array of scalar values.
type ArrayValue struct {
	baseValue
	elemType string
	elems    []Value
}

// NewArrayValue creates a new array value from the given elements.
//
// All elements must share one scalar type; nested arrays and empty-typed
// elements are rejected.
func NewArrayValue(elems ...Value) (Value, error) {
	arr := &ArrayValue{elems: make([]Value, 0, len(elems))}
	for _, elem := range elems {
		if elem == nil {
			return nil, fmt.Errorf("%w: nil element", ErrHeterogeneousArray)
		}
		switch elem.Type() {
		case ArrayType:
			return nil, fmt.Errorf("%w: nested array", ErrUnsupportedType)
		case EmptyType:
			return nil, fmt.Errorf("%w: empty element", ErrUnsupportedType)
		}
		if arr.elemType == "" {
			arr.elemType = elem.Type()
		} else if arr.elemType != elem.Type() {
			return nil, fmt.Errorf("%w: %s and %s", ErrHeterogeneousArray, arr.elemType, elem.Type())
		}
		arr.elems = append(arr.elems, elem)
	}
	if arr.elemType == "" {
		return nil, fmt.Errorf("%w: empty array needs an element type", ErrUnsupportedType)
	}

	return arr, nil
}

// NewIntArray creates an array value of signed integers from any integer
// slice type.
func NewIntArray[T int | int8 | int16 | int32 | int64 | uint | uint8 | uint16 | uint32](values []T) Value {
	widened := util.AppendInt64Slice(make([]int64, 0, len(values)), values)
	elems := make([]Value, len(widened))
	for i, v := range widened {
		elems[i] = NewIntValue(v)
	}
	return &ArrayValue{elemType: IntType, elems: elems}
}

// NewUintArray creates an array value of unsigned integers from any unsigned
// integer slice type.
func NewUintArray[T uint | uint8 | uint16 | uint32 | uint64](values []T) Value {
	widened := util.AppendUint64Slice(make([]uint64, 0, len(values)), values)
	elems := make([]Value, len(widened))
	for i, v := range widened {
		elems[i] = NewUintValue(v)
	}
	return &ArrayValue{elemType: UintType, elems: elems}
}

// NewFloatArray creates an array value of floats from any float slice type.
func NewFloatArray[T float32 | float64](values []T) Value {
	widened := util.AppendFloat64Slice(make([]float64, 0, len(values)), values)
	elems := make([]Value, len(widened))
	for i, v := range widened {
		elems[i] = NewFloatValue(v)
	}
	return &ArrayValue{elemType: FloatType, elems: elems}
}

// NewBoolArray creates an array value of booleans.
func NewBoolArray(values []bool) Value {
	elems := make([]Value, len(values))
	for i, v := range values {
		elems[i] = NewBoolValue(v)
	}
	return &ArrayValue{elemType: BoolType, elems: elems}
}

// NewStringArray creates an array value of strings.
func NewStringArray(values []string) Value {
	elems := make([]Value, len(values))
	for i, v := range values {
		elems[i] = NewStringValue(v)
	}
	return &ArrayValue{elemType: StringType, elems: elems}
}

func (*ArrayValue) Type() string { return ArrayType }

// ElemType returns the shared type name of the array elements.
func (val *ArrayValue) ElemType() string { return val.elemType }

func (val *ArrayValue) ToArray() ([]Value, error) {
	return util.CloneSlice(val.elems, 0), nil
}

func (val *ArrayValue) IsArray() bool { return true }

// Size returns the number of elements.
func (val *ArrayValue) Size() int { return len(val.elems) }

func (val *ArrayValue) Clone() Value {
	elems := make([]Value, len(val.elems))
	for i, elem := range val.elems {
		elems[i] = elem.Clone()
	}
	return &ArrayValue{elemType: val.elemType, elems: elems}
}

func (val *ArrayValue) String() string {
	out := "["
	for i, elem := range val.elems {
		if i > 0 {
			out += " "
		}
		out += elem.String()
	}
	return out + "]"
}
