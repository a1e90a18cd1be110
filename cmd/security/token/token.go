package token

import (
	"crypto/subtle"

	"github.com/google/uuid"
)

// New returns a fresh opaque token: a random version-4 UUID string.
// Both access and refresh tokens use this shape (36 chars, 128 bits of entropy).
func New() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// IsWellFormed reports whether s parses as a UUID.
// Stored tokens always satisfy this; client input that does not can be
// rejected without a storage round trip.
func IsWellFormed(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// Equal compares two tokens in constant time.
func Equal(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
