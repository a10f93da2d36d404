package binding

// VarType is the tag of a native VARIANT value.
type VarType uint16

// VARIANT type tags with a counterpart in this runtime.
const (
	VT_EMPTY VarType = 0
	VT_I2    VarType = 2
	VT_I4    VarType = 3
	VT_R4    VarType = 4
	VT_R8    VarType = 5
	VT_DATE  VarType = 7
	VT_BSTR  VarType = 8
	VT_BOOL  VarType = 11
	VT_I1    VarType = 16
	VT_UI1   VarType = 17
	VT_UI2   VarType = 18
	VT_UI4   VarType = 19
	VT_I8    VarType = 20
	VT_UI8   VarType = 21

	// VT_ARRAY is combined with an element tag for homogeneous arrays.
	VT_ARRAY VarType = 0x2000
)

// IsArray reports whether vt carries the array flag.
func (vt VarType) IsArray() bool {
	return vt&VT_ARRAY != 0
}

// Elem returns the element tag of an array type, or vt itself for scalars.
func (vt VarType) Elem() VarType {
	return vt &^ VT_ARRAY
}

// Variant mirrors the native tagged-union value representation.
//
// Scalar numeric, boolean and date payloads are carried as raw bits in Scalar;
// the interpretation depends on VT. BSTR payloads live in Str. Array payloads
// live in Elements, each element a scalar Variant tagged with the element
// type; Count is the element count declared by the producer and must match
// len(Elements) for the variant to be well formed.
//
// Variant memory on the native side is owned by the apartment that allocated
// it; decoded copies of this struct are plain Go values and may cross
// goroutines freely.
type Variant struct {
	VT       VarType
	Scalar   uint64
	Str      string
	Count    uint32
	Elements []Variant
}

// VARIANT_BOOL truth values of the native contract.
const (
	VariantTrue  uint64 = 0xFFFF
	VariantFalse uint64 = 0
)

// Filetime is the native 64-bit timestamp: 100 ns intervals since
// 1601-01-01 UTC, split into two 32-bit halves.
type Filetime struct {
	Low  uint32
	High uint32
}

// Uint64 returns the combined 64-bit tick count.
func (ft Filetime) Uint64() uint64 {
	return uint64(ft.High)<<32 | uint64(ft.Low)
}

// FiletimeFromUint64 splits a 64-bit tick count into a Filetime.
func FiletimeFromUint64(ticks uint64) Filetime {
	return Filetime{Low: uint32(ticks), High: uint32(ticks >> 32)}
}
