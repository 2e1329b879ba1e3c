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
	ShutdownTimeout   time.Duration

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, ARBITER_TOKEN_HMAC_KEY must be set (>= 32 bytes) so credential
	// fingerprints in logs are keyed.
	RequireTokenHMAC bool

	// DevEphemeralKey signs credentials with a throwaway key when
	// ARBITER_PASETO_V4_SECRET_KEY_HEX is unset. Credentials die with the process.
	DevEphemeralKey bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("ARBITER_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("ARBITER_LOG_LEVEL", "info"),
		LogFormat: EnvString("ARBITER_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("ARBITER_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("ARBITER_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("ARBITER_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("ARBITER_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("ARBITER_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   EnvDuration("ARBITER_SHUTDOWN_TIMEOUT", 10*time.Second),

		DatabaseURL: EnvString("ARBITER_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("ARBITER_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("ARBITER_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("ARBITER_READINESS_REQUIRE_DB", false),
		RequireTokenHMAC:   EnvBool("ARBITER_REQUIRE_TOKEN_HMAC", false),
		DevEphemeralKey:    EnvBool("ARBITER_DEV_EPHEMERAL_KEY", false),
	}
}
