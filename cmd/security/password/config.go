package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost. MemoryKiB is in KiB.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds accepted passwords.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns the production baseline.
func DefaultConfig() Config {
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}
	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{MinLength: 12, MaxLength: 256},
	}
}

// DevConfig is a cheap profile for seeded development accounts and tests.
func DevConfig() Config {
	return Config{
		Params: Argon2idParams{
			MemoryKiB:   8 * 1024,
			Iterations:  1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{MinLength: 4, MaxLength: 256},
	}
}

type envSpec struct {
	key   string
	apply func(cfg *Config, raw string) error
}

var envSpecs = []envSpec{
	{"ARBITER_PASSWORD_MIN_LEN", func(c *Config, v string) (err error) {
		c.Policy.MinLength, err = atoiRange(v, 1, 1024)
		return err
	}},
	{"ARBITER_PASSWORD_MAX_LEN", func(c *Config, v string) (err error) {
		c.Policy.MaxLength, err = atoiRange(v, 1, 4096)
		return err
	}},
	{"ARBITER_PASSWORD_REJECT_VERY_WEAK", func(c *Config, v string) (err error) {
		c.Policy.RejectVeryWeak, err = strconv.ParseBool(strings.TrimSpace(v))
		return err
	}},
	{"ARBITER_ARGON2_MEMORY_KIB", func(c *Config, v string) (err error) {
		c.Params.MemoryKiB, err = atou32Range(v, 8*1024, 1024*1024)
		return err
	}},
	{"ARBITER_ARGON2_ITERATIONS", func(c *Config, v string) (err error) {
		c.Params.Iterations, err = atou32Range(v, 1, 20)
		return err
	}},
	{"ARBITER_ARGON2_PARALLELISM", func(c *Config, v string) error {
		u, err := atou32Range(v, 1, math.MaxUint8)
		if err != nil {
			return err
		}
		c.Params.Parallelism = uint8(u) // #nosec G115 -- bounded above.
		return nil
	}},
	{"ARBITER_ARGON2_SALT_LEN", func(c *Config, v string) (err error) {
		c.Params.SaltLength, err = atou32Range(v, 8, 64)
		return err
	}},
	{"ARBITER_ARGON2_KEY_LEN", func(c *Config, v string) (err error) {
		c.Params.KeyLength, err = atou32Range(v, 16, 64)
		return err
	}},
}

// FromEnv overlays ARBITER_PASSWORD_* and ARBITER_ARGON2_* variables on base.
func FromEnv(base Config) (Config, error) {
	cfg := base
	for _, s := range envSpecs {
		v, ok := os.LookupEnv(s.key)
		if !ok {
			continue
		}
		if err := s.apply(&cfg, v); err != nil {
			return Config{}, fmt.Errorf("%s: %w", s.key, err)
		}
	}
	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("password policy invalid: min_len(%d) > max_len(%d)", cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}
	return cfg, nil
}

func atoiRange(s string, minVal, maxVal int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	if n < minVal || n > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return n, nil
}

func atou32Range(s string, minVal, maxVal uint32) (uint32, error) {
	u64, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}
