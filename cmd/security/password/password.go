package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const encodedPrefix = "pbkdf2-sha256"

// Hash hashes a password and returns an encoded digest string.
// Format: $pbkdf2-sha256$r=<rounds>$<salt_b64>$<key_b64>
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, c.Params.Rounds, c.Params.KeyLength, sha256.New)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("$%s$r=%d$%s$%s",
		encodedPrefix,
		c.Params.Rounds,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

// Verify checks whether password matches the given encoded digest.
// Returns (true, nil) for a match, (false, nil) for a mismatch,
// and (false, ErrInvalidHash) for malformed/unsupported digests.
func (c Config) Verify(encoded, password string) (bool, error) {
	rounds, salt, expected, err := decode(encoded)
	if err != nil {
		return false, err
	}

	// Anti-DoS boundary: refuse digests whose parameters exceed our configured
	// maximums by a large margin, so attacker-supplied strings cannot force
	// pathological key derivation work.
	if !withinReasonableBounds(rounds, len(salt), len(expected), c.Params) {
		return false, ErrInvalidHash
	}

	key := pbkdf2.Key([]byte(password), salt, rounds, len(expected), sha256.New)

	if subtle.ConstantTimeCompare(key, expected) == 1 {
		return true, nil
	}
	return false, nil
}

func withinReasonableBounds(rounds, saltLen, keyLen int, limits PBKDF2Params) bool {
	if rounds < 1 || rounds > limits.Rounds*4 {
		return false
	}
	if saltLen < 8 || saltLen > 64 {
		return false
	}
	if keyLen < 16 || keyLen > 128 {
		return false
	}
	return true
}

// decode parses the encoded digest and returns rounds, salt and expected key.
func decode(encoded string) (int, []byte, []byte, error) {
	// Expected: $pbkdf2-sha256$r=10000$<salt>$<key>
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != "" || parts[1] != encodedPrefix {
		return 0, nil, nil, ErrInvalidHash
	}

	if !strings.HasPrefix(parts[2], "r=") {
		return 0, nil, nil, ErrInvalidHash
	}
	rounds, err := strconv.Atoi(strings.TrimPrefix(parts[2], "r="))
	if err != nil || rounds <= 0 {
		return 0, nil, nil, ErrInvalidHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[3])
	if err != nil {
		return 0, nil, nil, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[4])
	if err != nil {
		return 0, nil, nil, ErrInvalidHash
	}

	return rounds, salt, key, nil
}
