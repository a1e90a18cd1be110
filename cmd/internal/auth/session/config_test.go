package session

import (
	"errors"
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.AccessTTL != 24*time.Hour || cfg.RefreshTTL != 60*24*time.Hour {
		t.Fatalf("default TTLs wrong: %+v", cfg)
	}
	if cfg.MaxUsernameLen != 20 || !cfg.AllowLoginReactivation {
		t.Fatalf("default policy wrong: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("VISION_AUTH_ACCESS_TTL", "1h")
	t.Setenv("VISION_AUTH_REFRESH_TTL", "720h")
	t.Setenv("VISION_AUTH_MAX_USERNAME_LEN", "32")
	t.Setenv("VISION_AUTH_ALLOW_REACTIVATION", "false")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.AccessTTL != time.Hour || cfg.RefreshTTL != 720*time.Hour {
		t.Fatalf("TTL overrides not applied: %+v", cfg)
	}
	if cfg.MaxUsernameLen != 32 || cfg.AllowLoginReactivation {
		t.Fatalf("policy overrides not applied: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	cases := []struct{ key, val string }{
		{"VISION_AUTH_ACCESS_TTL", "not-a-duration"},
		{"VISION_AUTH_ACCESS_TTL", "-1h"},
		{"VISION_AUTH_REFRESH_TTL", "0s"},
		{"VISION_AUTH_MAX_USERNAME_LEN", "0"},
		{"VISION_AUTH_ALLOW_REACTIVATION", "maybe"},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.val, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
				t.Fatalf("LoadConfigFromEnv = %v, want ErrConfig", err)
			}
		})
	}

	// An access TTL beyond the refresh TTL is rejected.
	t.Setenv("VISION_AUTH_ACCESS_TTL", "100h")
	t.Setenv("VISION_AUTH_REFRESH_TTL", "99h")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("LoadConfigFromEnv = %v, want ErrConfig", err)
	}
}
