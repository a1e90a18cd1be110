package password

import (
	"fmt"
	"os"
	"strconv"
)

// PBKDF2Params controls hashing cost and output sizes.
type PBKDF2Params struct {
	Rounds     int
	SaltLength int
	KeyLength  int
}

// Policy controls password length boundaries.
// Character-set policy (printable ASCII) is enforced by the lifecycle
// manager, which owns the user-facing validation messages.
type Policy struct {
	MinLength int
	MaxLength int
}

// Config is the single configuration surface for this package.
type Config struct {
	Params PBKDF2Params
	Policy Policy
}

// DefaultConfig returns the deployment baseline.
// Rounds and salt size match the values this system has always shipped with;
// raising them only affects digests created afterwards (see package doc).
func DefaultConfig() Config {
	return Config{
		Params: PBKDF2Params{
			Rounds:     10000,
			SaltLength: 16,
			KeyLength:  32,
		},
		Policy: Policy{
			MinLength: 1,
			MaxLength: 256,
		},
	}
}

// FromEnv loads config from environment variables.
//
// Env surface:
//   - VISION_PBKDF2_ROUNDS
//   - VISION_PBKDF2_SALT_LEN
//   - VISION_PBKDF2_KEY_LEN
//   - VISION_PASSWORD_MAX_LEN
//
// Returns ErrConfig (wrapped with the offending key) on invalid values.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	read := func(key string, min, max int, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < min || n > max {
			return fmt.Errorf("%w: %s", ErrConfig, key)
		}
		*dst = n
		return nil
	}

	if err := read("VISION_PBKDF2_ROUNDS", 1000, 10_000_000, &cfg.Params.Rounds); err != nil {
		return Config{}, err
	}
	if err := read("VISION_PBKDF2_SALT_LEN", 8, 64, &cfg.Params.SaltLength); err != nil {
		return Config{}, err
	}
	if err := read("VISION_PBKDF2_KEY_LEN", 16, 128, &cfg.Params.KeyLength); err != nil {
		return Config{}, err
	}
	if err := read("VISION_PASSWORD_MAX_LEN", 8, 4096, &cfg.Policy.MaxLength); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
