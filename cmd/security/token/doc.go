// Package token provides hashing primitives for bearer credentials.
//
// Credentials are never written to logs. Callers log Fingerprint(credential)
// instead, which is stable for a given credential and cannot be reversed.
//
// Environment:
//   - ARBITER_TOKEN_HMAC_KEY: when set, fingerprints and digests are keyed (HMAC-SHA256).
//     Without it, plain SHA-256 is used.
package token
