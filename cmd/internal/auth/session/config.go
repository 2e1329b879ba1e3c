package session

import (
	"os"
	"time"
)

// Config defines the runtime configuration of the session subsystem.
type Config struct {
	// Issuer is the "iss" claim of issued credentials.
	Issuer string

	// SessionTTL is the lifetime of a session and of the credentials issued for it.
	SessionTTL time.Duration

	// ReactivationWindow bounds how long a suspended session may be reactivated.
	ReactivationWindow time.Duration

	// ClockSkew is tolerated during credential validation.
	ClockSkew time.Duration

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key used to sign
	// PASETO v4.public credentials.
	PasetoV4SecretKeyHex string
}

// DefaultConfig returns the baseline configuration without a signing key.
func DefaultConfig() Config {
	return Config{
		Issuer:             "arbiter",
		SessionTTL:         24 * time.Hour,
		ReactivationWindow: 5 * time.Minute,
		ClockSkew:          30 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - ARBITER_PASETO_V4_SECRET_KEY_HEX
//
// Optional (durations must be valid Go duration strings):
//   - ARBITER_AUTH_ISSUER
//   - ARBITER_SESSION_TTL
//   - ARBITER_REACTIVATION_WINDOW
//   - ARBITER_AUTH_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("ARBITER_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	durations := []struct {
		key       string
		dst       *time.Duration
		allowZero bool
	}{
		{key: "ARBITER_SESSION_TTL", dst: &cfg.SessionTTL},
		{key: "ARBITER_REACTIVATION_WINDOW", dst: &cfg.ReactivationWindow},
		{key: "ARBITER_AUTH_CLOCK_SKEW", dst: &cfg.ClockSkew, allowZero: true},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 || (parsed == 0 && !d.allowZero) {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	cfg.PasetoV4SecretKeyHex = os.Getenv("ARBITER_PASETO_V4_SECRET_KEY_HEX")
	if cfg.PasetoV4SecretKeyHex == "" {
		return Config{}, ErrConfig
	}

	// A window longer than the session itself could never be used.
	if cfg.ReactivationWindow > cfg.SessionTTL {
		return Config{}, ErrConfig
	}

	return cfg, nil
}
