package app

import (
	"testing"

	"vision/cmd/security/password"
)

func TestValidateSecurityConfig(t *testing.T) {
	t.Parallel()

	weak := password.DefaultConfig()

	strong := password.DefaultConfig()
	strong.Params.Rounds = hardenedMinRounds
	strong.Params.SaltLength = hardenedMinSaltLength

	if err := ValidateSecurityConfig(Config{}, weak); err != nil {
		t.Fatalf("policy disabled should always pass: %v", err)
	}
	if err := ValidateSecurityConfig(Config{RequireHardenedKDF: true}, weak); err == nil {
		t.Fatalf("weak KDF must be rejected under the hardened policy")
	}
	if err := ValidateSecurityConfig(Config{RequireHardenedKDF: true}, strong); err != nil {
		t.Fatalf("hardened KDF rejected: %v", err)
	}
}
