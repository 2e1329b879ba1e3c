package password

import "testing"

func TestFromEnv_KeepsBaseWhenUnset(t *testing.T) {
	for _, s := range envSpecs {
		unsetForTest(t, s.key)
	}

	base := DevConfig()
	cfg, err := FromEnv(base)
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg != base {
		t.Fatalf("cfg = %+v, want %+v", cfg, base)
	}
}

func TestFromEnv_Override(t *testing.T) {
	t.Setenv("ARBITER_PASSWORD_MIN_LEN", "10")
	t.Setenv("ARBITER_PASSWORD_MAX_LEN", "200")
	t.Setenv("ARBITER_PASSWORD_REJECT_VERY_WEAK", "true")
	t.Setenv("ARBITER_ARGON2_MEMORY_KIB", "32768")
	t.Setenv("ARBITER_ARGON2_ITERATIONS", "4")
	t.Setenv("ARBITER_ARGON2_PARALLELISM", "2")
	t.Setenv("ARBITER_ARGON2_SALT_LEN", "24")
	t.Setenv("ARBITER_ARGON2_KEY_LEN", "32")

	cfg, err := FromEnv(DefaultConfig())
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Policy.MinLength != 10 || cfg.Policy.MaxLength != 200 || !cfg.Policy.RejectVeryWeak {
		t.Fatalf("policy override failed: %+v", cfg.Policy)
	}
	want := Argon2idParams{MemoryKiB: 32768, Iterations: 4, Parallelism: 2, SaltLength: 24, KeyLength: 32}
	if cfg.Params != want {
		t.Fatalf("params = %+v, want %+v", cfg.Params, want)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "min above max", env: map[string]string{"ARBITER_PASSWORD_MIN_LEN": "20", "ARBITER_PASSWORD_MAX_LEN": "10"}},
		{name: "memory too small", env: map[string]string{"ARBITER_ARGON2_MEMORY_KIB": "1"}},
		{name: "not a bool", env: map[string]string{"ARBITER_PASSWORD_REJECT_VERY_WEAK": "maybe"}},
		{name: "not a number", env: map[string]string{"ARBITER_ARGON2_ITERATIONS": "three"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := FromEnv(DefaultConfig()); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
