// Package session holds the client-side authentication state: the bearer
// token, the hydrated identity and profile, and the initial loading flag.
//
// # Single writer
//
// [New] returns a read-only [Store] and the one [Writer] allowed to mutate
// it. Every write is atomic (token, identity and profile change together)
// and advances a generation counter. Callers that issue a network request
// and write its result later compare generations through
// [Writer.SetIfGeneration] / [Writer.ClearIfGeneration], so a stale response
// can never resurrect a session that was cleared in the meantime.
//
// # Durable slot
//
// The token survives restarts through a [TokenStore]: [FileTokenStore]
// (default), [RedisTokenStore], or [MemoryTokenStore] for tests.
//
// # Architecture boundaries
//
// This package owns session state and token persistence. It does NOT talk to
// the backend, classify HTTP errors, or make routing decisions. Those
// belong to the controller, the transport and the route package.
//
// # What this package must NOT do
//
//   - Import impactlog, route, or internal/transport (no upward imports).
//   - Infer or default a role: profiles with an unknown role are rejected.
//   - Expose a write path outside [Writer].
package session
