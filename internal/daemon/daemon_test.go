package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestWriteAndRemovePIDFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oc-serverd.pid")

	if err := WritePIDFile(path); err != nil {
		t.Fatalf("WritePIDFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got, _ := strconv.Atoi(string(data[:len(data)-1])); got != os.Getpid() {
		t.Fatalf("pidfile contains %q, want pid %d", data, os.Getpid())
	}

	if err := RemovePIDFile(path); err != nil {
		t.Fatalf("RemovePIDFile: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected pidfile to be removed")
	}
}

func TestRemovePIDFileMissingIsNotError(t *testing.T) {
	if err := RemovePIDFile(filepath.Join(t.TempDir(), "nope.pid")) ; err != nil {
		t.Fatalf("RemovePIDFile on missing file: %v", err)
	}
}

func TestDropPrivilegesEmptyUserIsNoop(t *testing.T) {
	if err := DropPrivileges(""); err != nil {
		t.Fatalf("DropPrivileges(\"\"): %v", err)
	}
}
