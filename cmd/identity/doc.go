// Package identity is Vision's credential store: a thin transactional
// accessor over the user and access-token rows.
//
// It owns row-level reads and writes only. The session state machine
// (activation, expiry policy, token issuance) lives in the lifecycle
// manager; this package guarantees that each operation is atomic with
// respect to the rows it touches, and that the multi-row composites
// (CreateActivated, Activate, Deactivate, Delete, ClearRefresh) commit
// all-or-nothing on backends that support transactions.
package identity
