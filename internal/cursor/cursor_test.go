package cursor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStore_EmptyOnFirstRun(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "cursor.json"))
	if err := store.Load(); err != nil {
		t.Fatalf("load on missing file: %v", err)
	}
	if store.Count() != 0 {
		t.Errorf("expected empty set, got %d entries", store.Count())
	}
	if store.Has(42) {
		t.Error("Has(42) true on empty store")
	}
	if store.MaxID() != 0 {
		t.Errorf("expected MaxID 0, got %d", store.MaxID())
	}
}

func TestStore_MarkPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.json")

	store := New(path)
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}
	if err := store.Mark(1, 3, 2); err != nil {
		t.Fatalf("mark: %v", err)
	}

	reloaded := New(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	for _, id := range []int64{1, 2, 3} {
		if !reloaded.Has(id) {
			t.Errorf("reloaded store missing id %d", id)
		}
	}
	if reloaded.MaxID() != 3 {
		t.Errorf("expected MaxID 3, got %d", reloaded.MaxID())
	}
}

func TestStore_MarkIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.json")
	store := New(path)

	if err := store.Mark(7); err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Mark(7); err != nil {
		t.Fatal(err)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("re-marking an existing id rewrote the file differently")
	}
	if store.Count() != 1 {
		t.Errorf("expected 1 entry, got %d", store.Count())
	}
}

func TestStore_CorruptFileIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	store := New(path)
	err := store.Load()
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	if store.Count() != 0 {
		t.Error("corrupt load should not populate the set")
	}
}

func TestStore_FailedPersistRollsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.json")
	store := New(path)
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}
	if err := store.Mark(1); err != nil {
		t.Fatalf("mark: %v", err)
	}

	// Occupy the temp-file name with a directory so the next save fails
	// without touching the committed file.
	if err := os.Mkdir(path+".tmp", 0755); err != nil {
		t.Fatal(err)
	}

	if err := store.Mark(2); err == nil {
		t.Fatal("expected Mark to fail when the write fails")
	}
	if store.Has(2) {
		t.Error("failed Mark left the new id in the in-memory set")
	}
	if !store.Has(1) {
		t.Error("failed Mark disturbed a committed id")
	}

	reloaded := New(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.Has(1) || reloaded.Has(2) {
		t.Errorf("on-disk set after failed persist: has(1)=%v has(2)=%v",
			reloaded.Has(1), reloaded.Has(2))
	}
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "cursor.json"))
	if err := store.Mark(1); err != nil {
		t.Fatal(err)
	}

	snap := store.Snapshot()
	snap[99] = true

	if store.Has(99) {
		t.Error("mutating a snapshot leaked into the store")
	}
}

func TestStore_NoTruncateOnMark(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursor.json")
	store := New(path)
	if err := store.Mark(1, 2); err != nil {
		t.Fatal(err)
	}
	if err := store.Mark(3); err != nil {
		t.Fatal(err)
	}

	reloaded := New(path)
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	if reloaded.Count() != 3 {
		t.Errorf("expected merged set of 3, got %d", reloaded.Count())
	}
}
