// Package route decides whether a requested view may render for the current
// session.
//
// [Decide] is a pure function of a [session.Snapshot] and an optional
// required role. It never redirects while the session is still loading, so a
// reload with a valid stored token does not flash the login page. [Table]
// carries the application's view list and answers which views are public
// and which of them stay in place when the backend rejects the token.
//
// # What this package must NOT do
//
//   - Cache decisions: every navigation recomputes from a fresh snapshot.
//   - Perform I/O or mutate the session.
package route
