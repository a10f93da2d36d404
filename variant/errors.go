package variant

import "errors"

var (
	// ErrUnsupportedType indicates that a value cannot be encoded to the
	// requested native tag, or that the tag has no counterpart in this
	// runtime.
	ErrUnsupportedType = errors.New("unsupported variant type")

	// ErrMalformedVariant indicates that a native variant carries
	// inconsistent tag or length fields and cannot be decoded.
	ErrMalformedVariant = errors.New("malformed native variant")

	// ErrHeterogeneousArray indicates an attempt to build an array value
	// from elements of differing types.
	ErrHeterogeneousArray = errors.New("array elements must share one type")

	// ErrNotImplemented indicates an accessor was called on a value of a
	// different type.
	ErrNotImplemented = errors.New("accessor not implemented for this value type")
)
