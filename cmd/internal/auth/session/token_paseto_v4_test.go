package session

import (
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func testTokens(t *testing.T) (Config, TokenManager) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	mgr, err := NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}
	return cfg, mgr
}

func TestPasetoV4_IssueAndVerify(t *testing.T) {
	t.Parallel()

	_, mgr := testTokens(t)
	now := time.Now().UTC()
	tok, exp, err := mgr.Issue(Claims{AccountID: "acct", SessionID: "sess", DeviceID: "dev"}, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.After(now) {
		t.Fatalf("expected exp after now")
	}

	claims, err := mgr.Verify(tok, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.AccountID != "acct" || claims.SessionID != "sess" || claims.DeviceID != "dev" {
		t.Fatalf("claims mismatch: %+v", claims)
	}
	if claims.Issuer != "arbiter" {
		t.Fatalf("issuer = %q", claims.Issuer)
	}
}

func TestPasetoV4_ExpiryCappedBySession(t *testing.T) {
	t.Parallel()

	_, mgr := testTokens(t)
	now := time.Now().UTC()
	capAt := now.Add(time.Minute)
	_, exp, err := mgr.Issue(Claims{AccountID: "a", SessionID: "s", DeviceID: "d", ExpiresAt: capAt}, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(capAt) {
		t.Fatalf("exp = %v, want %v", exp, capAt)
	}
}

func TestPasetoV4_RejectsForeignAndExpired(t *testing.T) {
	t.Parallel()

	_, mgr := testTokens(t)
	_, other := testTokens(t)
	now := time.Now().UTC()

	tok, _, err := other.Issue(Claims{AccountID: "a", SessionID: "s", DeviceID: "d"}, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := mgr.Verify(tok, now); err != ErrInvalidToken {
		t.Fatalf("foreign key: err = %v", err)
	}

	tok, _, err = mgr.Issue(Claims{AccountID: "a", SessionID: "s", DeviceID: "d"}, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := mgr.Verify(tok, now.Add(48*time.Hour)); err != ErrInvalidToken {
		t.Fatalf("expired: err = %v", err)
	}
	if _, err := mgr.Verify("v4.public.garbage", now); err != ErrInvalidToken {
		t.Fatalf("garbage: err = %v", err)
	}
}
