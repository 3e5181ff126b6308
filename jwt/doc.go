// Package jwt issues, verifies and inspects the backend's session tokens:
// HS256 JWTs carrying the account id as "sub", a "role" claim and an expiry.
//
// Verification ([Manager.Verify]) is for servers holding the secret, such as
// the apitest fake backend. Clients only call [Inspect] to display token
// details; they never decide validity locally.
package jwt
