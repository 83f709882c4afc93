package sqlite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/steveyegge/convmerge/internal/types"
)

const (
	// lockAttempts bounds create retries after a stale lock was removed
	lockAttempts = 3
	// unreadableLockGrace is how long an unparsable lock file counts as live
	unreadableLockGrace = 10 * time.Second
)

// MergeLock is the lock file format used to keep two live merge runs from
// working on the same database file at once.
type MergeLock struct {
	Holder    string    `json:"holder"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
}

// LockPath returns the lock file path for the database
func (s *SQLiteStorage) LockPath() string {
	return s.path + ".merge-lock"
}

// AcquireMergeLock creates the merge lock file next to the database.
// The file is created exclusively, so of two runs starting together only one
// wins. A lock left behind by a dead process on this host is taken over.
// In-memory databases are private to the process and need no lock.
func (s *SQLiteStorage) AcquireMergeLock(ctx context.Context, holder string) (func() error, error) {
	if s.path == MemoryPath {
		return func() error { return nil }, nil
	}

	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to get hostname: %w", err)
	}
	data, err := json.MarshalIndent(MergeLock{
		Holder:    holder,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	lockPath := s.LockPath()

	for attempt := 0; attempt < lockAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err := createLockFile(lockPath, data)
		if err == nil {
			return func() error { return releaseLockFile(lockPath) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create merge lock: %w", err)
		}

		raw, existing, readErr := readLockFile(lockPath)
		if errors.Is(readErr, os.ErrNotExist) {
			// Released between our create and read
			continue
		}
		if readErr != nil {
			// A run that just created the file may not have written it yet
			if info, statErr := os.Stat(lockPath); statErr != nil || time.Since(info.ModTime()) < unreadableLockGrace {
				return nil, fmt.Errorf("%w: lock file %s is being written", types.ErrLocked, lockPath)
			}
		} else if isProcessAlive(existing.PID, existing.Hostname) {
			return nil, fmt.Errorf("%w: %s (PID %d on %s, started %s)", types.ErrLocked,
				existing.Holder, existing.PID, existing.Hostname, existing.StartedAt.Format(time.RFC3339))
		}

		// Stale lock - remove it unless someone replaced it meanwhile, then retry
		if current, err := os.ReadFile(lockPath); err == nil && !bytes.Equal(current, raw) {
			continue
		}
		if err := os.Remove(lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale merge lock: %w", err)
		}
	}

	return nil, fmt.Errorf("%w: merge lock %s is contended", types.ErrLocked, lockPath)
}

// createLockFile writes data to path, failing with os.ErrExist if it exists
func createLockFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// readLockFile returns the raw lock file and its parsed content
func readLockFile(path string) ([]byte, *MergeLock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var lock MergeLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return data, nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	return data, &lock, nil
}

func releaseLockFile(lockPath string) error {
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove merge lock: %w", err)
	}
	return nil
}

// isProcessAlive checks if a process with the given PID exists on the given hostname.
// Processes on other hosts cannot be checked and are assumed alive.
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

	// Signal 0 checks for existence without delivering anything
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}

	// EPERM: the process exists but belongs to someone else
	if err == syscall.EPERM {
		return true
	}

	return false
}
