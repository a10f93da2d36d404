package variant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScalarAccessors(t *testing.T) {
	require := require.New(t)

	t.Run("bool", func(t *testing.T) {
		v := NewBoolValue(true)
		require.Equal(BoolType, v.Type())
		b, err := v.ToBool()
		require.NoError(err)
		require.True(b)

		_, err = v.ToInt()
		require.ErrorIs(err, ErrNotImplemented)
	})

	t.Run("int", func(t *testing.T) {
		v := NewIntValue(-42)
		i, err := v.ToInt()
		require.NoError(err)
		require.Equal(int64(-42), i)

		f, err := v.ToFloat()
		require.NoError(err)
		require.Equal(float64(-42), f)

		_, err = v.ToUint()
		require.ErrorIs(err, ErrNotImplemented)

		u, err := NewIntValue(42).ToUint()
		require.NoError(err)
		require.Equal(uint64(42), u)
	})

	t.Run("uint", func(t *testing.T) {
		v := NewUintValue(1 << 63)
		u, err := v.ToUint()
		require.NoError(err)
		require.Equal(uint64(1)<<63, u)

		_, err = v.ToInt()
		require.ErrorIs(err, ErrNotImplemented)

		i, err := NewUintValue(7).ToInt()
		require.NoError(err)
		require.Equal(int64(7), i)
	})

	t.Run("string", func(t *testing.T) {
		v := NewStringValue("Channel1.Device1.Tag1")
		s, err := v.ToString()
		require.NoError(err)
		require.Equal("Channel1.Device1.Tag1", s)
	})

	t.Run("time truncates to millisecond", func(t *testing.T) {
		in := time.Date(2024, 5, 17, 10, 30, 0, 123456789, time.UTC)
		v := NewTimeValue(in)
		got, err := v.ToTime()
		require.NoError(err)
		require.Equal(in.Truncate(time.Millisecond), got)
	})

	t.Run("empty", func(t *testing.T) {
		v := NewEmptyValue()
		require.True(v.IsEmpty())
		require.False(v.IsArray())
	})
}

func TestNewArrayValue(t *testing.T) {
	require := require.New(t)

	arr, err := NewArrayValue(NewIntValue(1), NewIntValue(2), NewIntValue(3))
	require.NoError(err)
	require.True(arr.IsArray())

	elems, err := arr.ToArray()
	require.NoError(err)
	require.Len(elems, 3)

	// heterogeneous elements rejected
	_, err = NewArrayValue(NewIntValue(1), NewFloatValue(2.0))
	require.ErrorIs(err, ErrHeterogeneousArray)

	// nested arrays rejected
	inner := NewIntArray([]int32{1, 2})
	_, err = NewArrayValue(inner)
	require.ErrorIs(err, ErrUnsupportedType)

	// empty-typed elements rejected
	_, err = NewArrayValue(NewEmptyValue())
	require.ErrorIs(err, ErrUnsupportedType)
}

func TestArrayConstructors(t *testing.T) {
	require := require.New(t)

	tests := []struct {
		name     string
		value    Value
		elemType string
		size     int
	}{
		{"int from int16", NewIntArray([]int16{-1, 0, 1}), IntType, 3},
		{"uint from uint8", NewUintArray([]uint8{1, 2}), UintType, 2},
		{"float from float32", NewFloatArray([]float32{1.5}), FloatType, 1},
		{"bool", NewBoolArray([]bool{true, false}), BoolType, 2},
		{"string", NewStringArray([]string{"a", "b"}), StringType, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arr, ok := tt.value.(*ArrayValue)
			require.True(ok)
			require.Equal(tt.elemType, arr.ElemType())
			require.Equal(tt.size, arr.Size())
		})
	}
}

func TestClone(t *testing.T) {
	require := require.New(t)

	arr := NewIntArray([]int64{1, 2, 3})
	clone := arr.Clone()
	require.Equal(arr, clone)
	require.NotSame(arr, clone)

	v := NewStringValue("x")
	require.Equal(v, v.Clone())
}
