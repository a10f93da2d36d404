// Package binding defines the fixed method-call contract of the legacy OPC DA
// COM interfaces as plain Go interfaces and value types.
//
// The types in this package mirror the externally generated binary contract:
// tagged VARIANT values, FILETIME timestamps, HRESULT result codes, and the
// batched per-item result arrays the native interfaces return. Nothing in this
// package performs marshaling to the wire; a concrete transport (or an
// in-memory fake in tests) implements the Server, Group and Browser
// interfaces.
//
// Every method of Server, Group and Browser must be invoked from the single
// apartment thread that created the underlying object. The apartment package
// enforces this; callers never use these interfaces directly.
package binding
