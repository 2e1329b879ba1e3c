package flagstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()

	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "flags.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func TestStore_FlagsAndCredentialLifecycle(t *testing.T) {
	t.Parallel()

	for name, st := range storesUnderTest(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			snap, err := st.Load(ctx)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if snap != (Snapshot{}) {
				t.Fatalf("expected empty snapshot, got %+v", snap)
			}

			if err := st.SetCredential(ctx, "cred-1"); err != nil {
				t.Fatalf("SetCredential: %v", err)
			}
			if err := st.SetFlag(ctx, FlagSuspended, true); err != nil {
				t.Fatalf("SetFlag: %v", err)
			}

			snap, _ = st.Load(ctx)
			if snap.Credential != "cred-1" || !snap.Suspended || snap.ClosedByOther {
				t.Fatalf("unexpected snapshot: %+v", snap)
			}

			if err := st.SetCredential(ctx, "cred-2"); err != nil {
				t.Fatalf("SetCredential replace: %v", err)
			}
			if err := st.ClearFlags(ctx); err != nil {
				t.Fatalf("ClearFlags: %v", err)
			}
			snap, _ = st.Load(ctx)
			if snap.Credential != "cred-2" || snap.AnyFlag() {
				t.Fatalf("unexpected snapshot after clear: %+v", snap)
			}

			if err := st.SetFlag(ctx, FlagClosedByOther, true); err != nil {
				t.Fatalf("SetFlag: %v", err)
			}
			if err := st.Purge(ctx); err != nil {
				t.Fatalf("Purge: %v", err)
			}
			snap, _ = st.Load(ctx)
			if snap != (Snapshot{}) {
				t.Fatalf("expected empty snapshot after purge, got %+v", snap)
			}
		})
	}
}

func TestStore_RejectsInvalidInput(t *testing.T) {
	t.Parallel()

	for name, st := range storesUnderTest(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := st.SetCredential(ctx, "   "); !errors.Is(err, ErrEmptyCredential) {
				t.Fatalf("expected ErrEmptyCredential, got %v", err)
			}
			if err := st.SetFlag(ctx, Flag("session.other"), true); !errors.Is(err, ErrUnknownFlag) {
				t.Fatalf("expected ErrUnknownFlag, got %v", err)
			}
		})
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "flags.db")

	st, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := st.SetCredential(ctx, "cred-durable"); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}
	if err := st.SetFlag(ctx, FlagClosedByOther, true); err != nil {
		t.Fatalf("SetFlag: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	snap, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Credential != "cred-durable" || !snap.ClosedByOther || snap.Suspended {
		t.Fatalf("unexpected snapshot after reopen: %+v", snap)
	}
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := OpenSQLite(" "); err == nil {
		t.Fatalf("expected error for blank path")
	}
}

func TestOpenSQLite_UsesWAL(t *testing.T) {
	t.Parallel()

	st, err := OpenSQLite(filepath.Join(t.TempDir(), "flags.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer func() { _ = st.Close() }()

	mode, err := st.JournalMode(context.Background())
	if err != nil {
		t.Fatalf("JournalMode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal mode = %q, want wal", mode)
	}
}
