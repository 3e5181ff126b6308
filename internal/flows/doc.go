// Package flows contains the orchestration behind every controller
// operation: hydration, credential exchange and 401 invalidation.
//
// Each Run function takes a typed dependency struct of plain functions and
// returns a result value. The functions touch the session only through the
// conditional writes they are handed, which keeps the staleness rules in
// one place and lets tests drive every branch with fakes.
//
// # Architecture boundaries
//
// Flows coordinate the session writer, the backend calls, audit and
// metrics. They own none of them; the controller does.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import impactlog (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency functions.
package flows
