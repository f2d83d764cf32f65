// Package auth exchanges account credentials for bearer tokens.
//
// A [Manager] owns the single current [TokenState]. Transfers read it with
// [Manager.Current] and, when the server answers 401, call
// [Manager.Refresh] with the token they used. Refresh re-runs the password
// grant; it does not use the refresh token. Concurrent refreshes for the
// same stale token collapse into one exchange.
//
// New tokens are written to an optional [Store] so later runs can skip the
// exchange (see [Manager.Ensure]).
package auth
