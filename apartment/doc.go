// Package apartment implements the bridge between the multi-goroutine client
// runtime and the single-threaded legacy interface surface.
//
// Every server connection owns one Apartment: a dedicated OS thread that is
// the only caller of the binding interfaces bound to that connection.
// Operations submitted from any goroutine are queued and executed on that
// thread in submission order; the submitting goroutine suspends until the
// result is posted back. Callbacks arriving on the apartment thread are
// decoded there, copied out, and relayed into the runtime through a bounded
// drop-oldest event channel so the callback thread never blocks.
//
// An Apartment is not restartable. When the worker panics or the runtime
// enters a faulted state, every outstanding and future operation fails with
// ErrApartmentFaulted and the owning server must tear down and reconnect.
package apartment
