// Package api exposes Vision's HTTP endpoints: registration, login,
// account deactivation/deletion, user settings, and the entries/scores
// resources. It translates service errors into the generic client-facing
// messages and never leaks storage detail.
package api
