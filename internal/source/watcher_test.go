package source

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_SignalsOnStoreWrite(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "default.store")
	touch(t, store)

	w, err := NewWatcher(store, 10*time.Millisecond, slog.Default())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer func() { _ = w.Close() }()

	for range 3 {
		if err := os.WriteFile(store+"-wal", []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	select {
	case <-w.Changes():
	case <-time.After(2 * time.Second):
		t.Fatal("no change signal after writing the store")
	}
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "default.store")
	touch(t, store)

	w, err := NewWatcher(store, 10*time.Millisecond, slog.Default())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer func() { _ = w.Close() }()

	if err := os.WriteFile(store+"-shm", []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "dictionary.store"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	select {
	case <-w.Changes():
		t.Fatal("unexpected change signal for unrelated files")
	case <-time.After(150 * time.Millisecond):
	}
}
