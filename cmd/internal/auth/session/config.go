package session

import (
	"os"
	"strconv"
	"time"
)

// TimeLayout is the wire format for expiry timestamps sent to clients.
const TimeLayout = "2006-01-02 15:04:05"

// Config defines all runtime configuration for the session subsystem.
//
// It controls token TTLs, the username length cap, and whether a successful
// login may transparently reactivate a deactivated account.
type Config struct {
	// AccessTTL defines the lifetime of access tokens.
	AccessTTL time.Duration

	// RefreshTTL defines the lifetime of refresh tokens. A user whose
	// refresh token lapses must log in again.
	RefreshTTL time.Duration

	// MaxUsernameLen caps username length at registration.
	MaxUsernameLen int

	// AllowLoginReactivation controls whether a login with a correct
	// password reactivates an explicitly deactivated account. When false,
	// such logins fail with ErrDeactivated. A lapsed refresh token is
	// always recoverable by login regardless of this flag.
	AllowLoginReactivation bool
}

// DefaultConfig returns the standard production configuration.
func DefaultConfig() Config {
	return Config{
		AccessTTL:              24 * time.Hour,
		RefreshTTL:             60 * 24 * time.Hour,
		MaxUsernameLen:         20,
		AllowLoginReactivation: true,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - VISION_AUTH_ACCESS_TTL
//   - VISION_AUTH_REFRESH_TTL
//   - VISION_AUTH_MAX_USERNAME_LEN
//   - VISION_AUTH_ALLOW_REACTIVATION ("true"/"false")
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("VISION_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTTL = d
	}

	if v := os.Getenv("VISION_AUTH_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTTL = d
	}

	if v := os.Getenv("VISION_AUTH_MAX_USERNAME_LEN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			return Config{}, ErrConfig
		}
		cfg.MaxUsernameLen = n
	}

	if v := os.Getenv("VISION_AUTH_ALLOW_REACTIVATION"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.AllowLoginReactivation = b
	}

	// An access token must never outlive the refresh token that backs it.
	if cfg.AccessTTL > cfg.RefreshTTL {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
