package flagstore

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is a process-local Store used in tests and when no path is configured.
type MemoryStore struct {
	mu     sync.Mutex
	snap   Snapshot
	closed bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// NewMemoryStoreWith returns a MemoryStore preloaded with snap.
func NewMemoryStoreWith(snap Snapshot) *MemoryStore {
	return &MemoryStore{snap: snap}
}

func (s *MemoryStore) Load(_ context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Snapshot{}, ErrClosed
	}
	return s.snap, nil
}

func (s *MemoryStore) SetCredential(_ context.Context, credential string) error {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return ErrEmptyCredential
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.snap.Credential = credential
	return nil
}

func (s *MemoryStore) SetFlag(_ context.Context, flag Flag, on bool) error {
	if !validFlag(flag) {
		return ErrUnknownFlag
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	switch flag {
	case FlagClosedByOther:
		s.snap.ClosedByOther = on
	case FlagSuspended:
		s.snap.Suspended = on
	}
	return nil
}

func (s *MemoryStore) ClearFlags(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.snap.ClosedByOther = false
	s.snap.Suspended = false
	return nil
}

func (s *MemoryStore) Purge(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.snap = Snapshot{}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
