package session

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps sessions in process memory. One mutex serializes every
// account transaction.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]Row
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]Row)}
}

// Get loads a session row by ID.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[sessionID]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	return r, nil
}

// WithAccount stages writes and applies them only when fn succeeds.
func (s *MemoryStore) WithAccount(ctx context.Context, accountID string, fn func(tx AccountTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{store: s, accountID: accountID, staged: make(map[string]Row)}
	if err := fn(tx); err != nil {
		return err
	}
	for id, r := range tx.staged {
		s.rows[id] = r
	}
	return nil
}

type memTx struct {
	store     *MemoryStore
	accountID string
	staged    map[string]Row
}

func (tx *memTx) lookup(id string) (Row, bool) {
	if r, ok := tx.staged[id]; ok {
		return r, true
	}
	r, ok := tx.store.rows[id]
	return r, ok
}

func (tx *memTx) Sessions(_ context.Context) ([]Row, error) {
	seen := make(map[string]struct{})
	var out []Row
	collect := func(r Row) {
		if _, dup := seen[r.ID]; dup {
			return
		}
		seen[r.ID] = struct{}{}
		if cur, _ := tx.lookup(r.ID); cur.AccountID == tx.accountID && !cur.Status.Terminal() {
			out = append(out, cur)
		}
	}
	for _, r := range tx.staged {
		collect(r)
	}
	for _, r := range tx.store.rows {
		collect(r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (tx *memTx) Get(_ context.Context, sessionID string) (Row, error) {
	r, ok := tx.lookup(sessionID)
	if !ok || r.AccountID != tx.accountID {
		return Row{}, ErrSessionNotFound
	}
	return r, nil
}

func (tx *memTx) Insert(_ context.Context, r Row) error {
	if _, ok := tx.lookup(r.ID); ok || r.AccountID != tx.accountID {
		return ErrInvalidInput
	}
	tx.staged[r.ID] = r
	return nil
}

func (tx *memTx) Update(ctx context.Context, r Row) error {
	if _, err := tx.Get(ctx, r.ID); err != nil {
		return err
	}
	tx.staged[r.ID] = r
	return nil
}
