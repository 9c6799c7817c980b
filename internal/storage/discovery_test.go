package storage

import (
	"os"
	"path/filepath"
	"testing"
)

// TestDiscoverDatabaseInDir_CurrentDirOnly verifies that discovery does not
// walk up into a parent project's state directory.
func TestDiscoverDatabaseInDir_CurrentDirOnly(t *testing.T) {
	tmpRoot := t.TempDir()
	parentDir := filepath.Join(tmpRoot, "parent")
	childDir := filepath.Join(parentDir, "child")

	parentState := filepath.Join(parentDir, StateDirName)
	if err := os.MkdirAll(parentState, 0755); err != nil {
		t.Fatalf("failed to create parent state dir: %v", err)
	}
	parentDB := filepath.Join(parentState, "shipwatch.db")
	if err := os.WriteFile(parentDB, []byte(""), 0644); err != nil {
		t.Fatalf("failed to create parent database: %v", err)
	}
	if err := os.MkdirAll(childDir, 0755); err != nil {
		t.Fatalf("failed to create child dir: %v", err)
	}

	if _, err := discoverDatabaseInDir(childDir); err == nil {
		t.Error("Expected error when no database in current dir, but got success")
	}

	dbPath, err := discoverDatabaseInDir(parentDir)
	if err != nil {
		t.Fatalf("Expected to find database in parent dir, got error: %v", err)
	}
	if dbPath != parentDB {
		t.Errorf("Expected database path %s, got %s", parentDB, dbPath)
	}
}

func TestDiscoverDatabase_EnvOverride(t *testing.T) {
	t.Setenv("SHIPWATCH_DB_PATH", ":memory:")
	path, err := DiscoverDatabase()
	if err != nil {
		t.Fatalf("DiscoverDatabase failed: %v", err)
	}
	if path != ":memory:" {
		t.Errorf("Expected :memory:, got %s", path)
	}

	t.Setenv("SHIPWATCH_DB_PATH", "/tmp/watch.db")
	path, err = DiscoverDatabase()
	if err != nil {
		t.Fatalf("DiscoverDatabase failed: %v", err)
	}
	if path != "/tmp/watch.db" {
		t.Errorf("Expected /tmp/watch.db, got %s", path)
	}
}

func TestEnsureStateDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), StateDirName, "shipwatch.db")
	if err := EnsureStateDir(dbPath); err != nil {
		t.Fatalf("EnsureStateDir failed: %v", err)
	}
	info, err := os.Stat(filepath.Dir(dbPath))
	if err != nil || !info.IsDir() {
		t.Fatalf("state directory not created: %v", err)
	}
	if err := EnsureStateDir(":memory:"); err != nil {
		t.Errorf("EnsureStateDir(:memory:) should be a no-op, got %v", err)
	}
}
