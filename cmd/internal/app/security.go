package app

import (
	"errors"

	"arbiter/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy. It fails fast
// instead of silently logging unkeyed credential fingerprints.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// Bytes, not runes: the key is used as raw bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: ARBITER_REQUIRE_TOKEN_HMAC=true but ARBITER_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: ARBITER_REQUIRE_TOKEN_HMAC=true but ARBITER_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !token.HMACEnabled() {
		return errors.New("security policy: ARBITER_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}
	return nil
}
