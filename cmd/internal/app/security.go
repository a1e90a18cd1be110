package app

import (
	"fmt"

	"vision/cmd/security/password"
)

// Minimum KDF parameters accepted under the hardened policy. The floor for
// rounds follows the current OWASP guidance for PBKDF2-HMAC-SHA256.
const (
	hardenedMinRounds     = 600_000
	hardenedMinSaltLength = 16
)

// ValidateSecurityConfig enforces the startup security policy.
//
// Fail-fast is intentional: silently running production with a weak password
// KDF is worse than refusing to start.
func ValidateSecurityConfig(cfg Config, pw password.Config) error {
	if !cfg.RequireHardenedKDF {
		return nil
	}

	if pw.Params.Rounds < hardenedMinRounds {
		return fmt.Errorf("security policy: VISION_REQUIRE_HARDENED_KDF=true requires at least %d PBKDF2 rounds, got %d", hardenedMinRounds, pw.Params.Rounds)
	}
	if pw.Params.SaltLength < hardenedMinSaltLength {
		return fmt.Errorf("security policy: VISION_REQUIRE_HARDENED_KDF=true requires salts of at least %d bytes, got %d", hardenedMinSaltLength, pw.Params.SaltLength)
	}
	return nil
}
