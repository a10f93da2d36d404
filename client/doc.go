// Package client implements the async-facing runtime for OPC Data Access
// servers: server and group actors, the per-group item subscription table,
// the data callback dispatcher, and the proxy surface application code
// consumes.
//
// A Client connects to a server by program ID and returns a Server. Each
// Server owns one apartment (a dedicated OS thread driving the legacy
// interface set) and the set of Groups created on it. Groups own their
// items and subscription stream; all group state is mutated on the group's
// own goroutine, so callers on any goroutine may use a Group concurrently.
//
// Every call accepts a context and is additionally bounded by the
// configured call timeout. A timed-out call detaches: the underlying
// legacy operation cannot be interrupted and completes in the background
// with its result discarded.
package client
