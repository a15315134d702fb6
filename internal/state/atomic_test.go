package state

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAtomicWriteFile_NoTempSiblings(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "doc.yaml")

	if err := AtomicWriteFile(target, []byte("a: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := AtomicWriteFile(target, []byte("a: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "a: 2\n" {
		t.Errorf("content = %q", data)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp.") {
			t.Errorf("temp sibling left behind: %s", e.Name())
		}
	}
}

func TestAtomicWriteFile_FailureLeavesTargetUnchanged(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "sub", "doc.yaml")

	// Parent directory missing: the temp create fails, nothing is written.
	err := AtomicWriteFile(target, []byte("x"), 0o644)
	if err == nil {
		t.Fatal("write into missing directory succeeded")
	}
	var awe *AtomicWriteError
	if !errors.As(err, &awe) {
		t.Fatalf("got %T, want AtomicWriteError", err)
	}
	if _, statErr := os.Stat(target); !os.IsNotExist(statErr) {
		t.Error("target exists after failed write")
	}
}
