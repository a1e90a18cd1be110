package api

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the HTTP-layer knobs.
type Config struct {
	// MaxBodyBytes bounds request bodies on every endpoint.
	MaxBodyBytes int64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{MaxBodyBytes: 1 << 20}
}

// FromEnv builds a Config from VISION_API_* variables, starting from the
// defaults.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	if raw, ok := os.LookupEnv("VISION_API_MAX_BODY_BYTES"); ok {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("VISION_API_MAX_BODY_BYTES: invalid value %q", raw)
		}
		cfg.MaxBodyBytes = n
	}
	return cfg, nil
}
