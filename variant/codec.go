package variant

import (
	"fmt"
	"math"
	"time"

	"github.com/openopc/go-opcda/binding"
)

// millisecondsPerDay is the resolution factor of the native DATE encoding
// (fractional days since 1899-12-30 UTC).
const millisecondsPerDay = 24 * 60 * 60 * 1000

// oleEpoch is the zero point of the native DATE encoding.
var oleEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// Encode converts a Value to its natural native representation: integers at
// VT_I8/VT_UI8, floats at VT_R8, arrays tagged with the natural element type.
func Encode(v Value) (binding.Variant, error) {
	return EncodeAs(v, binding.VT_EMPTY)
}

// EncodeAs converts a Value to a native variant with the requested tag.
//
// A VT_EMPTY request selects the value's natural tag. Requesting a narrower
// integer width truncates the payload to that width (two's complement);
// truncation never happens anywhere else in the pipeline. Requests for a tag
// outside the value's type family fail with ErrUnsupportedType.
func EncodeAs(v Value, vt binding.VarType) (binding.Variant, error) {
	if v == nil {
		return binding.Variant{}, fmt.Errorf("%w: nil value", ErrUnsupportedType)
	}

	if arr, ok := v.(*ArrayValue); ok {
		return encodeArray(arr, vt)
	}
	if vt.IsArray() {
		return binding.Variant{}, fmt.Errorf("%w: scalar %s as array tag %d", ErrUnsupportedType, v.Type(), vt)
	}

	return encodeScalar(v, vt)
}

func encodeScalar(v Value, vt binding.VarType) (binding.Variant, error) {
	if vt == binding.VT_EMPTY && !v.IsEmpty() {
		vt = naturalTag(v)
	}

	switch val := v.(type) {
	case *EmptyValue:
		if vt != binding.VT_EMPTY {
			return binding.Variant{}, fmt.Errorf("%w: empty value as tag %d", ErrUnsupportedType, vt)
		}
		return binding.Variant{VT: binding.VT_EMPTY}, nil

	case *BoolValue:
		if vt != binding.VT_BOOL {
			return binding.Variant{}, fmt.Errorf("%w: boolean as tag %d", ErrUnsupportedType, vt)
		}
		scalar := binding.VariantFalse
		if b, _ := val.ToBool(); b {
			scalar = binding.VariantTrue
		}
		return binding.Variant{VT: binding.VT_BOOL, Scalar: scalar}, nil

	case *IntValue:
		i, _ := val.ToInt()
		return encodeInteger(uint64(i), vt)

	case *UintValue:
		u, _ := val.ToUint()
		return encodeInteger(u, vt)

	case *FloatValue:
		f, _ := val.ToFloat()
		switch vt {
		case binding.VT_R4:
			return binding.Variant{VT: vt, Scalar: uint64(math.Float32bits(float32(f)))}, nil
		case binding.VT_R8:
			return binding.Variant{VT: vt, Scalar: math.Float64bits(f)}, nil
		default:
			return binding.Variant{}, fmt.Errorf("%w: float as tag %d", ErrUnsupportedType, vt)
		}

	case *StringValue:
		if vt != binding.VT_BSTR {
			return binding.Variant{}, fmt.Errorf("%w: string as tag %d", ErrUnsupportedType, vt)
		}
		s, _ := val.ToString()
		return binding.Variant{VT: binding.VT_BSTR, Str: s}, nil

	case *TimeValue:
		if vt != binding.VT_DATE {
			return binding.Variant{}, fmt.Errorf("%w: datetime as tag %d", ErrUnsupportedType, vt)
		}
		t, _ := val.ToTime()
		days := float64(t.Sub(oleEpoch).Milliseconds()) / millisecondsPerDay
		return binding.Variant{VT: binding.VT_DATE, Scalar: math.Float64bits(days)}, nil

	default:
		return binding.Variant{}, fmt.Errorf("%w: %s", ErrUnsupportedType, v.Type())
	}
}

// encodeInteger stores the low bits of raw according to the width of vt.
// raw carries the two's complement bits for signed payloads.
func encodeInteger(raw uint64, vt binding.VarType) (binding.Variant, error) {
	switch vt {
	case binding.VT_I1:
		return binding.Variant{VT: vt, Scalar: uint64(int64(int8(raw)))}, nil
	case binding.VT_I2:
		return binding.Variant{VT: vt, Scalar: uint64(int64(int16(raw)))}, nil
	case binding.VT_I4:
		return binding.Variant{VT: vt, Scalar: uint64(int64(int32(raw)))}, nil
	case binding.VT_I8:
		return binding.Variant{VT: vt, Scalar: raw}, nil
	case binding.VT_UI1:
		return binding.Variant{VT: vt, Scalar: raw & 0xFF}, nil
	case binding.VT_UI2:
		return binding.Variant{VT: vt, Scalar: raw & 0xFFFF}, nil
	case binding.VT_UI4:
		return binding.Variant{VT: vt, Scalar: raw & 0xFFFFFFFF}, nil
	case binding.VT_UI8:
		return binding.Variant{VT: vt, Scalar: raw}, nil
	default:
		return binding.Variant{}, fmt.Errorf("%w: integer as tag %d", ErrUnsupportedType, vt)
	}
}

func encodeArray(arr *ArrayValue, vt binding.VarType) (binding.Variant, error) {
	var elemTag binding.VarType
	if vt == binding.VT_EMPTY {
		elemTag = naturalElemTag(arr.ElemType())
	} else {
		if !vt.IsArray() {
			return binding.Variant{}, fmt.Errorf("%w: array as scalar tag %d", ErrUnsupportedType, vt)
		}
		elemTag = vt.Elem()
	}

	elems, err := arr.ToArray()
	if err != nil {
		return binding.Variant{}, err
	}

	out := binding.Variant{
		VT:       binding.VT_ARRAY | elemTag,
		Count:    uint32(len(elems)),
		Elements: make([]binding.Variant, 0, len(elems)),
	}
	for i, elem := range elems {
		nv, err := encodeScalar(elem, elemTag)
		if err != nil {
			return binding.Variant{}, fmt.Errorf("array element %d: %w", i, err)
		}
		out.Elements = append(out.Elements, nv)
	}

	return out, nil
}

// Decode converts a native variant to a Value, copying all payload data.
//
// Integer payloads widen to 64 bits; the original width is not retained.
// Inconsistent tag or length fields fail with ErrMalformedVariant.
func Decode(nv binding.Variant) (Value, error) {
	if nv.VT.IsArray() {
		return decodeArray(nv)
	}
	if len(nv.Elements) != 0 || nv.Count != 0 {
		return nil, fmt.Errorf("%w: scalar tag %d with array payload", ErrMalformedVariant, nv.VT)
	}

	return decodeScalar(nv)
}

func decodeScalar(nv binding.Variant) (Value, error) {
	switch nv.VT {
	case binding.VT_EMPTY:
		return NewEmptyValue(), nil
	case binding.VT_BOOL:
		return NewBoolValue(nv.Scalar != binding.VariantFalse), nil
	case binding.VT_I1:
		return NewIntValue(int64(int8(nv.Scalar))), nil
	case binding.VT_I2:
		return NewIntValue(int64(int16(nv.Scalar))), nil
	case binding.VT_I4:
		return NewIntValue(int64(int32(nv.Scalar))), nil
	case binding.VT_I8:
		return NewIntValue(int64(nv.Scalar)), nil
	case binding.VT_UI1:
		return NewUintValue(nv.Scalar & 0xFF), nil
	case binding.VT_UI2:
		return NewUintValue(nv.Scalar & 0xFFFF), nil
	case binding.VT_UI4:
		return NewUintValue(nv.Scalar & 0xFFFFFFFF), nil
	case binding.VT_UI8:
		return NewUintValue(nv.Scalar), nil
	case binding.VT_R4:
		return NewFloatValue(float64(math.Float32frombits(uint32(nv.Scalar)))), nil
	case binding.VT_R8:
		return NewFloatValue(math.Float64frombits(nv.Scalar)), nil
	case binding.VT_BSTR:
		return NewStringValue(nv.Str), nil
	case binding.VT_DATE:
		days := math.Float64frombits(nv.Scalar)
		ms := math.Round(days * millisecondsPerDay)
		return NewTimeValue(oleEpoch.Add(time.Duration(ms) * time.Millisecond)), nil
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrMalformedVariant, nv.VT)
	}
}

func decodeArray(nv binding.Variant) (Value, error) {
	if nv.Count != uint32(len(nv.Elements)) {
		return nil, fmt.Errorf("%w: declared count %d, got %d elements", ErrMalformedVariant, nv.Count, len(nv.Elements))
	}

	elemTag := nv.VT.Elem()
	if localElemType(elemTag) == EmptyType {
		return nil, fmt.Errorf("%w: invalid array element tag %d", ErrMalformedVariant, elemTag)
	}

	elems := make([]Value, 0, len(nv.Elements))
	for i, raw := range nv.Elements {
		if raw.VT != elemTag {
			return nil, fmt.Errorf("%w: element %d tag %d differs from array tag %d", ErrMalformedVariant, i, raw.VT, elemTag)
		}
		elem, err := decodeScalar(raw)
		if err != nil {
			return nil, err
		}
		elems = append(elems, elem)
	}

	return &ArrayValue{elemType: localElemType(elemTag), elems: elems}, nil
}

// localElemType maps a native element tag to the internal type name.
func localElemType(vt binding.VarType) string {
	switch vt {
	case binding.VT_BOOL:
		return BoolType
	case binding.VT_I1, binding.VT_I2, binding.VT_I4, binding.VT_I8:
		return IntType
	case binding.VT_UI1, binding.VT_UI2, binding.VT_UI4, binding.VT_UI8:
		return UintType
	case binding.VT_R4, binding.VT_R8:
		return FloatType
	case binding.VT_BSTR:
		return StringType
	case binding.VT_DATE:
		return TimeType
	default:
		return EmptyType
	}
}

// naturalTag maps a scalar value to the widest native tag of its family.
func naturalTag(v Value) binding.VarType {
	switch v.Type() {
	case BoolType:
		return binding.VT_BOOL
	case IntType:
		return binding.VT_I8
	case UintType:
		return binding.VT_UI8
	case FloatType:
		return binding.VT_R8
	case StringType:
		return binding.VT_BSTR
	case TimeType:
		return binding.VT_DATE
	default:
		return binding.VT_EMPTY
	}
}

func naturalElemTag(elemType string) binding.VarType {
	switch elemType {
	case BoolType:
		return binding.VT_BOOL
	case IntType:
		return binding.VT_I8
	case UintType:
		return binding.VT_UI8
	case FloatType:
		return binding.VT_R8
	case StringType:
		return binding.VT_BSTR
	case TimeType:
		return binding.VT_DATE
	default:
		return binding.VT_EMPTY
	}
}
