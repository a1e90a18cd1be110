// Package session implements Vision's credential lifecycle.
//
// It registers users, verifies passwords on login, issues opaque refresh and
// access tokens (UUID v4), and validates and extends access tokens against
// the credential store. Token expiry is evaluated lazily at read time; there
// is no background sweeper. A refresh token that turns out to be expired is
// cleared on the spot, which also removes the access row.
//
// Transport (HTTP/WS) integration is intentionally out of scope here.
package session
