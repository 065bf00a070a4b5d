package tokenstore

import (
	"os"
	"path/filepath"
	"testing"
)

func mustHash(b byte) [32]byte {
	var h [32]byte
	h[0] = b
	return h
}

func TestInsertContainsAtMostOnce(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(filepath.Join(dir, "used_tokens.dat"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	h := mustHash(1)
	if s.Contains(h) {
		t.Fatal("unexpected hit on empty store")
	}
	if err := s.Insert(h); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if !s.Contains(h) {
		t.Fatal("expected hash to be recorded")
	}
	if err := s.Insert(h); err == nil {
		t.Fatal("expected second insert of the same hash to fail")
	}
}

func TestCrashRecoveryReloadsState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "used_tokens.dat")

	s1, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	h1, h2 := mustHash(1), mustHash(2)
	if err := s1.Insert(h1); err != nil {
		t.Fatalf("insert h1: %v", err)
	}
	if err := s1.Insert(h2); err != nil {
		t.Fatalf("insert h2: %v", err)
	}

	s2, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !s2.Contains(h1) || !s2.Contains(h2) {
		t.Fatal("reloaded store is missing entries written before restart")
	}
	if s2.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", s2.Len())
	}
}

func TestChecksumMismatchRefusesToStart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "used_tokens.dat")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := s.Insert(mustHash(1)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Corrupt the data file without updating its checksum.
	if err := os.WriteFile(path, []byte("not the right bytes at all, but long enough"), 0o600); err != nil {
		t.Fatalf("corrupt data file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected checksum mismatch to be reported as an error")
	}
}

func TestRemoveUndoesSpeculativeInsert(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(filepath.Join(dir, "used_tokens.dat"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	h := mustHash(3)
	if err := s.Insert(h); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Remove(h); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if s.Contains(h) {
		t.Fatal("expected hash to be removed")
	}
	// Removed hashes can be re-inserted (rollback semantics, not permanent ban).
	if err := s.Insert(h); err != nil {
		t.Fatalf("re-insert after rollback should succeed: %v", err)
	}
}
