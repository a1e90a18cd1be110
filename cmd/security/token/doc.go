// Package token provides the opaque token primitives used by Vision.
//
// It is the single source of truth for token generation and comparison.
//
// Design goals:
//   - Tokens are cryptographically random 128-bit identifiers (UUID v4 strings).
//   - Comparison is constant-time so lookups never leak match prefixes.
//   - Shape checks are strict: anything that does not parse as a UUID is
//     rejected before it reaches storage.
package token
