// Package middleware adapts the route guard to net/http for the local
// portal.
//
// # Guards
//
//   - [Guard] resolves the request path against a [route.Table].
//   - [RequireRole] and [RequireAdmin] protect one handler for one role.
//   - [RequireSignedIn] admits any authenticated principal.
//
// Every guard reads the session snapshot on each request. Loading answers
// 503 with Retry-After, a redirect answers 303, and admitted requests carry
// the profile ([ProfileFromContext]) and the current view for the
// controller's 401 policy.
//
// # What this package must NOT do
//
//   - Call the backend or write the session.
//   - Decide access itself; decisions come from the route package.
package middleware
