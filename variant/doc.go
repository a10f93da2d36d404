// Package variant implements the typed value model of the OPC DA client
// runtime and its codec to and from the native tagged VARIANT representation.
//
// A Value is an immutable tagged union over empty, boolean, integer, unsigned,
// float, string, date-time and homogeneous array payloads. Integers are held
// internally at the widest representable width; narrowing happens only when a
// caller requests a specific native width on encode.
//
// Encode, EncodeAs and Decode convert between Value and binding.Variant.
// Decoding copies all payload data, so decoded values may cross goroutine
// boundaries freely even though native variant memory may not.
//
// The package also carries the Quality word helpers and the FILETIME
// timestamp conversions that accompany every reported value.
package variant
