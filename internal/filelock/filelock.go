// Package filelock guards the steward data directory so two processes never
// drive the same database file.
package filelock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// DataLock is an exclusive advisory lock over a data directory.
type DataLock struct {
	flock *flock.Flock
	path  string
}

// Acquire takes a non-blocking exclusive lock on <dir>/steward.lock,
// creating the directory if needed. Returns an error when another steward
// process already owns the directory.
func Acquire(dir string) (*DataLock, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	path := filepath.Join(dir, "steward.lock")
	fl := flock.New(path)
	acquired, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to try lock on %s: %w", path, err)
	}
	if !acquired {
		return nil, fmt.Errorf("data directory %s is in use by another steward process", dir)
	}
	return &DataLock{flock: fl, path: path}, nil
}

// Path returns the lock file path.
func (l *DataLock) Path() string {
	return l.path
}

// Release gives the lock back.
func (l *DataLock) Release() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", l.path, err)
	}
	return nil
}
