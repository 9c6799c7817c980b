package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// StateDirName is the per-project state directory holding the database,
// config file and lock.
const StateDirName = ".shipwatch"

// DefaultDatabasePath is used when no database is configured or discovered.
var DefaultDatabasePath = filepath.Join(StateDirName, "shipwatch.db")

// DiscoverDatabase looks for .shipwatch/*.db in the current directory only.
// Returns the absolute path to the database file, or an error if not found.
//
// SHIPWATCH_DB_PATH is checked first so tests and deployments can point at an
// explicit file (or ":memory:") without discovery.
func DiscoverDatabase() (string, error) {
	if dbPath := os.Getenv("SHIPWATCH_DB_PATH"); dbPath != "" {
		return dbPath, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	return discoverDatabaseInDir(dir)
}

// discoverDatabaseInDir checks for .shipwatch/*.db in dir. Parents are not searched.
func discoverDatabaseInDir(dir string) (string, error) {
	stateDir := filepath.Join(dir, StateDirName)

	if info, err := os.Stat(stateDir); err == nil && info.IsDir() {
		entries, err := os.ReadDir(stateDir)
		if err == nil {
			for _, entry := range entries {
				if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".db") {
					absPath, err := filepath.Abs(filepath.Join(stateDir, entry.Name()))
					if err != nil {
						return "", fmt.Errorf("failed to get absolute path: %w", err)
					}
					return absPath, nil
				}
			}
		}
	}

	return "", fmt.Errorf(
		"no %s/*.db found in %s\n"+
			"  Run 'shipwatch init' to create one in this directory\n"+
			"  Or use --db flag to specify database path explicitly",
		StateDirName, dir)
}

// EnsureStateDir creates the directory that will hold dbPath.
func EnsureStateDir(dbPath string) error {
	if dbPath == ":memory:" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	return nil
}
