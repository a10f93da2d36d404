package util

// CloneSlice clones slice with cloneSize.
// This function will use src length as the clone size if cloneSize is 0.
func CloneSlice[T any](src []T, cloneSize int) []T {
	if cloneSize == 0 {
		cloneSize = len(src)
	}
	clone := make([]T, cloneSize)
	copy(clone, src)

	return clone
}

// AppendInt64Slice converts and appends a value to int64 slice if its underlying type is a supported integer type.
//
// Supported types:
//   - Signed integers: int, int8, int16, int32, int64
//   - Unsigned integers: uint, uint8, uint16, uint32
//
// It's important to note that this function assumes the unsigned integer values are within int64 range. It does not perform validation
// to check the overflow case.
func AppendInt64Slice[T int | int8 | int16 | int32 | int64 | uint | uint8 | uint16 | uint32](target []int64, values []T) []int64 {
	target = append(target, make([]int64, len(values))...)
	varLen := len(values)
	targetLen := len(target)
	for i, v := range values {
		target[targetLen-varLen+i] = int64(v)
	}
	return target
}

// AppendUint64Slice appends the values of a slice to a uint64 slice after converting them to uint64.
//
// The function supports appending slices of unsigned integer types. It does not perform
// range validation.
func AppendUint64Slice[T uint | uint8 | uint16 | uint32 | uint64](target []uint64, values []T) []uint64 {
	target = append(target, make([]uint64, len(values))...)
	varLen := len(values)
	targetLen := len(target)
	for i, v := range values {
		target[targetLen-varLen+i] = uint64(v)
	}
	return target
}

// AppendFloat64Slice appends the values of a slice to a float64 slice, converting them to float64 if necessary.
//
// The function supports float32 and float64 input slices. Conversion from float32 widens
// without loss.
func AppendFloat64Slice[T float32 | float64](target []float64, values []T) []float64 {
	target = append(target, make([]float64, len(values))...)
	varLen := len(values)
	targetLen := len(target)
	for i, v := range values {
		target[targetLen-varLen+i] = float64(v)
	}
	return target
}
