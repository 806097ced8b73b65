package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshotCopiesTreeIntoUniqueDir(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "css"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "index.html"), []byte("<html>"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "css", "a.css"), []byte("a{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	mgr, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	first, err := mgr.Snapshot(src)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	second, err := mgr.Snapshot(src)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if first == second {
		t.Fatalf("expected unique snapshot dirs, got %s twice", first)
	}
	if !filepath.IsAbs(first) {
		t.Fatalf("expected absolute path, got %s", first)
	}
	data, err := os.ReadFile(filepath.Join(first, "css", "a.css"))
	if err != nil || string(data) != "a{}" {
		t.Fatalf("expected copied css, got %q %v", data, err)
	}

	if err := os.WriteFile(filepath.Join(first, "index.html"), []byte("mutated"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	original, _ := os.ReadFile(filepath.Join(src, "index.html"))
	if string(original) != "<html>" {
		t.Fatalf("snapshot writes leaked into source: %q", original)
	}

	if err := mgr.Cleanup(first); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := os.Stat(first); !os.IsNotExist(err) {
		t.Fatalf("expected snapshot removed, stat err=%v", err)
	}
}

func TestCleanupRefusesOutsideRoot(t *testing.T) {
	mgr, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	outside := t.TempDir()
	if err := mgr.Cleanup(outside); err == nil {
		t.Fatal("expected refusal for path outside root")
	}
	if err := mgr.Cleanup(mgr.Root()); err == nil {
		t.Fatal("expected refusal for the root itself")
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("outside dir must survive: %v", err)
	}
}

func TestPathRejectsSeparators(t *testing.T) {
	mgr, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, id := range []string{"", "..", "a/b", `a\b`} {
		if _, err := mgr.Path(id); !errors.Is(err, ErrInvalidID) {
			t.Fatalf("expected ErrInvalidID for %q, got %v", id, err)
		}
	}
	if err := mgr.CleanupByID("never-created"); err != nil {
		t.Fatalf("cleanup of missing dir should succeed: %v", err)
	}
	if mgr.Exists("never-created") {
		t.Fatal("expected missing dir to not exist")
	}
}
