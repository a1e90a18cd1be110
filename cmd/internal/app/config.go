package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// EntriesFile is the JSON catalog of scoreable entries loaded at startup.
	EntriesFile string

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, startup fails unless the password KDF meets the minimum
	// hardening bar (see ValidateSecurityConfig).
	RequireHardenedKDF bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("VISION_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("VISION_LOG_LEVEL", "info"),
		LogFormat: EnvString("VISION_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("VISION_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("VISION_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("VISION_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("VISION_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("VISION_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("VISION_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("VISION_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("VISION_DB_MIN_CONNS", 0),

		EntriesFile: EnvString("VISION_ENTRIES_FILE", "entries.json"),

		ReadinessRequireDB: EnvBool("VISION_READINESS_REQUIRE_DB", false),

		RequireHardenedKDF: EnvBool("VISION_REQUIRE_HARDENED_KDF", false),
	}
}
