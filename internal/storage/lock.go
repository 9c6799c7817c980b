package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// LockFileName sits next to the database file.
const LockFileName = ".lock"

// InstanceLock is the lock file format claiming exclusive use of a database
// by one long-running shipwatch process.
type InstanceLock struct {
	Holder    string    `json:"holder"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version"`
}

// LockPath returns the lock file path guarding dbPath.
func LockPath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), LockFileName)
}

// AcquireInstanceLock creates the lock file for dbPath. A lock held by a live
// process is an error; a stale lock is replaced. In-memory databases need no
// lock and return an empty path.
//
// The lock appears atomically with its content (hard link of a temp file), so
// of two processes starting together exactly one wins.
func AcquireInstanceLock(dbPath, holder, version string) (lockPath string, err error) {
	if dbPath == ":memory:" {
		return "", nil
	}

	lockPath = LockPath(dbPath)

	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}

	data, err := json.MarshalIndent(InstanceLock{
		Holder:    holder,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		Version:   version,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal lock: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(lockPath), LockFileName+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create instance lock: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	_, werr := tmp.Write(data)
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return "", fmt.Errorf("failed to write instance lock: %w", werr)
	}

	// One retry: after removing a stale lock another process may win the race
	for attempt := 0; attempt < 2; attempt++ {
		err := os.Link(tmp.Name(), lockPath)
		if err == nil {
			return lockPath, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("failed to create instance lock: %w", err)
		}

		existing, rerr := ReadInstanceLock(lockPath)
		switch {
		case errors.Is(rerr, fs.ErrNotExist):
			continue // released meanwhile
		case rerr != nil:
			return "", fmt.Errorf("unreadable instance lock %s (remove it if no shipwatch run is active): %w", lockPath, rerr)
		case isProcessAlive(existing.PID, existing.Hostname):
			return "", fmt.Errorf("another shipwatch process is already running (%s, PID %d on %s, started %s)",
				existing.Holder, existing.PID, existing.Hostname, existing.StartedAt.Format(time.RFC3339))
		}

		if err := os.Remove(lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to remove stale instance lock: %w", err)
		}
	}
	return "", fmt.Errorf("instance lock %s is contended, try again", lockPath)
}

// ReadInstanceLock parses the lock file at lockPath.
func ReadInstanceLock(lockPath string) (*InstanceLock, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}
	var lock InstanceLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("invalid lock file %s: %w", lockPath, err)
	}
	return &lock, nil
}

// ReleaseInstanceLock removes the lock file. Call it on shutdown (use defer).
func ReleaseInstanceLock(lockPath string) error {
	if lockPath == "" {
		return nil
	}

	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove instance lock: %w", err)
	}

	return nil
}

// isProcessAlive checks if a process with the given PID exists on hostname.
// Remote hosts and permission errors are treated as alive.
func isProcessAlive(pid int, hostname string) bool {
	currentHost, err := os.Hostname()
	if err != nil {
		return true
	}

	if !strings.EqualFold(hostname, currentHost) {
		return true
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}

	// EPERM: process exists but belongs to someone else
	if err == syscall.EPERM {
		return true
	}

	return false
}
