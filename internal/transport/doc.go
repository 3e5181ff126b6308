// Package transport is the single HTTP request path to the issue-reporting
// backend.
//
// Every request carries the current bearer token, when one exists, and a
// fresh X-Request-ID. Non-2xx answers become [StatusError]; requests that
// never got an answer become [NetworkError].
//
// # 401 handling
//
// A 401 on any request not marked [Request.Exchange] invokes
// [Config.OnUnauthorized] before the error is returned. The hook receives the
// session generation that was attached when the request was built, so the
// owner can ignore answers that belong to a session which no longer exists.
//
// # What this package must NOT do
//
//   - Mutate session state directly. That belongs to the hook's owner.
//   - Retry requests.
//   - Interpret domain error details beyond extracting the backend's reason.
package transport
