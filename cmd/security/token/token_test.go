package token

import "testing"

func TestFingerprint_StableAndShort(t *testing.T) {
	t.Setenv(HMACEnvKey, "")

	a := Fingerprint("cred-1")
	b := Fingerprint("cred-1")
	if a != b {
		t.Fatalf("fingerprint not stable: %q vs %q", a, b)
	}
	if len(a) != fingerprintLen {
		t.Fatalf("fingerprint length=%d want %d", len(a), fingerprintLen)
	}
	if a == Fingerprint("cred-2") {
		t.Fatalf("different credentials share a fingerprint")
	}
	if got := Fingerprint("  "); got != "-" {
		t.Fatalf("empty credential fingerprint=%q want -", got)
	}
}

func TestDigest_UsesHMACWhenKeyed(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	plain := Digest("cred")

	t.Setenv(HMACEnvKey, "0123456789abcdef0123456789abcdef")
	keyed := Digest("cred")

	if plain == keyed {
		t.Fatalf("expected keyed digest to differ from plain SHA-256")
	}
	if keyed != HashHMACSHA256Hex("cred", []byte("0123456789abcdef0123456789abcdef")) {
		t.Fatalf("keyed digest mismatch")
	}
}

func TestHMACKeyFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	if _, err := HMACKeyFromEnv(32); err != ErrHMACKeyMissing {
		t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
	}

	t.Setenv(HMACEnvKey, "short")
	if _, err := HMACKeyFromEnv(32); err != ErrHMACKeyTooShort {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}
}
