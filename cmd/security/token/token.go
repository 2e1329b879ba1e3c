package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"strings"
)

var (
	// ErrHMACKeyMissing means ARBITER_TOKEN_HMAC_KEY is unset or blank.
	ErrHMACKeyMissing = errors.New("token: HMAC key missing")
	// ErrHMACKeyTooShort means the key is below the requested byte length.
	ErrHMACKeyTooShort = errors.New("token: HMAC key too short")
)

const (
	// HMACEnvKey is the env var name for the token HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "ARBITER_TOKEN_HMAC_KEY"

	fingerprintLen = 12
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// HMACKeyFromEnv returns the configured HMAC key bytes (trimmed), enforcing a minimum byte length.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}

// HMACEnabled reports whether the env key is present (non-empty after trim).
func HMACEnabled() bool {
	return strings.TrimSpace(os.Getenv(HMACEnvKey)) != ""
}

// Digest hashes a credential for comparison or storage (64 hex chars).
func Digest(credential string) string {
	key := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if key == "" {
		return HashSHA256Hex(credential)
	}
	return HashHMACSHA256Hex(credential, []byte(key))
}

// Fingerprint returns a short log-safe identifier for a credential.
// The empty credential maps to "-".
func Fingerprint(credential string) string {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "-"
	}
	return Digest(credential)[:fingerprintLen]
}
