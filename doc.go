// Package impactlog is the client core of the Impact Log civic reporting
// application: the authentication session, its bootstrap from a stored
// token, route protection for views, and the impact-log API.
//
// A process builds one [Controller] through [Builder.Build], calls
// [Controller.Bootstrap] once, and from then on lets its views read the
// session through [Controller.Session] and ask [Controller.Decide] before
// rendering. Controller methods are safe to call from multiple goroutines.
//
// # Architecture boundaries
//
// impactlog is the public surface. It exposes [Controller], [Builder],
// [Config], [ImpactLogs] and the sentinel errors. Flow orchestration, the
// HTTP transport and audit dispatch live under internal/. Session state is
// in package session, the route guard in package route.
//
// # What this package must NOT do
//
//   - Hand the session writer to views. Views change the session only
//     through Controller methods.
//   - Navigate. A 401 produces an [Invalidation] event; the view decides
//     how to move.
//   - Clear a session on a transient failure. Only an authoritative
//     rejection of the token does that.
package impactlog
