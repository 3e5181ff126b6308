// Package internal holds the pieces of the client that are not part of its
// public API.
//
// # Sub-packages
//
//   - audit: asynchronous event dispatch (Dispatcher and sinks)
//   - flows: the hydrate, exchange and invalidate orchestrations, free of I/O
//   - rate: Redis-backed fixed-window failure counter behind the sign-in throttle
//   - transport: the JSON-over-HTTP client with bearer injection and 401 hook
package internal
