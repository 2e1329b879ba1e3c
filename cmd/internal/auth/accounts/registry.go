package accounts

import (
	"os"
	"strings"
	"sync"
	"time"

	"arbiter/cmd/internal/ids"
	"arbiter/cmd/security/password"
)

// EnvDevAccounts lists seeded accounts as "name:password,name:password".
const EnvDevAccounts = "ARBITER_DEV_ACCOUNTS"

const maxNameLen = 64

// Account is a registered login identity.
type Account struct {
	ID           string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
}

// Registry is an in-memory account table safe for concurrent use.
type Registry struct {
	pw password.Config

	mu     sync.RWMutex
	byName map[string]Account

	// dummyHash keeps unknown-account logins about as slow as wrong passwords.
	dummyHash string
}

// NewRegistry returns an empty registry hashing with pw.
func NewRegistry(pw password.Config) *Registry {
	r := &Registry{pw: pw, byName: make(map[string]Account)}
	if h, err := pw.Hash(strings.Repeat("x", max(pw.Policy.MinLength, 16))); err == nil {
		r.dummyHash = h
	}
	return r
}

// NormalizeName performs case-insensitive canonicalization.
func NormalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Add registers name with the plaintext password.
func (r *Registry) Add(name, plain string) (Account, error) {
	const op = "accounts.Add"

	n := NormalizeName(name)
	if n == "" || len(n) > maxNameLen || strings.ContainsAny(n, ":, \t") {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "bad account name"}
	}
	hash, err := r.pw.Hash(plain)
	if err != nil {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}

	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return Account{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[n]; ok {
		return Account{}, OpError{Op: op, Kind: ErrConflict, Msg: n}
	}
	a := Account{ID: id, Name: n, PasswordHash: hash, CreatedAt: now}
	r.byName[n] = a
	return a, nil
}

// Authenticate returns the account when name and password match.
// Unknown names and wrong passwords fail the same way.
func (r *Registry) Authenticate(name, plain string) (Account, error) {
	const op = "accounts.Authenticate"

	r.mu.RLock()
	a, ok := r.byName[NormalizeName(name)]
	r.mu.RUnlock()

	if !ok {
		if r.dummyHash != "" {
			_, _ = r.pw.Verify(r.dummyHash, plain)
		}
		return Account{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	match, err := r.pw.Verify(a.PasswordHash, plain)
	if err != nil || !match {
		return Account{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}
	return a, nil
}

// Len returns the number of registered accounts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Seed is one name/password pair parsed from the env list.
type Seed struct {
	Name     string
	Password string
}

// ParseSeeds parses "name:password,name:password". Empty entries are skipped.
func ParseSeeds(raw string) ([]Seed, error) {
	var out []Seed
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, pw, ok := strings.Cut(part, ":")
		if !ok || strings.TrimSpace(name) == "" || pw == "" {
			return nil, OpError{Op: "accounts.ParseSeeds", Kind: ErrInvalidInput, Msg: "want name:password"}
		}
		out = append(out, Seed{Name: strings.TrimSpace(name), Password: pw})
	}
	return out, nil
}

// LoadFromEnv builds a registry seeded from ARBITER_DEV_ACCOUNTS.
func LoadFromEnv(pw password.Config) (*Registry, error) {
	seeds, err := ParseSeeds(os.Getenv(EnvDevAccounts))
	if err != nil {
		return nil, err
	}
	r := NewRegistry(pw)
	for _, s := range seeds {
		if _, err := r.Add(s.Name, s.Password); err != nil {
			return nil, err
		}
	}
	return r, nil
}
