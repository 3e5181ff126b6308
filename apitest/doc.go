// Package apitest runs an in-memory Impact Log backend for tests. It serves
// the same REST contract as the production API (auth, impact logs, public
// feed and stats) with bcrypt password hashes and HS256 tokens, and adds
// fault injection: [Server.FailNext] answers the next call with a chosen
// status, [Server.Hold] parks a call until the test releases it.
//
// Paths given to the fault-injection helpers are relative to the API
// prefix, e.g. "/auth/me".
package apitest
