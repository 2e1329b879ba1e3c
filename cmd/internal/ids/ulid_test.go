package ids

import (
	"testing"
	"time"
)

func TestNewULID(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	id, err := NewULID(now)
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	if len(id) != 26 {
		t.Fatalf("len=%d want 26 (%q)", len(id), id)
	}

	got, err := Time(id)
	if err != nil {
		t.Fatalf("Time: %v", err)
	}
	if !got.Equal(now) {
		t.Fatalf("Time=%v want %v", got, now)
	}
}

func TestNewULID_Unique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := MustULID(time.Time{})
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate ULID %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestTime_RejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := Time("not-a-ulid"); err == nil {
		t.Fatalf("expected error")
	}
}
