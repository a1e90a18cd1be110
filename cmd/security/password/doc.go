// Package password implements salted, iterated password hashing for Vision.
//
// The scheme is PBKDF2-HMAC-SHA256 with a per-password random salt. Hashes are
// stored as self-describing encoded strings:
//
//	$pbkdf2-sha256$r=<rounds>$<salt_b64>$<key_b64>
//
// Rounds and salt travel inside the encoded hash, so verification always uses
// the parameters the digest was created with. Tightening the configured
// parameters therefore affects new hashes only; existing digests keep
// verifying until the password is next changed.
package password
