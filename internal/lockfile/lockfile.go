// Package lockfile enforces single-instance execution with an advisory
// file lock. Holding the lock is scoped to a Handle so release always
// has an owner, never a package-level global.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

// ErrHeld reports that another process owns the lock.
var ErrHeld = errors.New("another instance is already running")

// Handle owns an acquired lock until Release is called.
type Handle struct {
	mu       sync.Mutex
	path     string
	lock     *flock.Flock
	released bool
}

// Acquire takes the advisory lock at path without blocking. The parent
// directory is created when missing. A lock held elsewhere returns
// ErrHeld; any other failure is an I/O error from the attempt.
func Acquire(path string) (*Handle, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("lock path is empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("prepare lock directory: %w", err)
		}
	}

	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock %s: %w", path, ErrHeld)
	}
	return &Handle{path: path, lock: lock}, nil
}

// Path reports the lock file location.
func (h *Handle) Path() string {
	if h == nil {
		return ""
	}
	return h.path
}

// Release unlocks and removes the lock file. It is idempotent and safe
// on a nil handle, so callers can defer it unconditionally.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true

	if err := h.lock.Unlock(); err != nil {
		return fmt.Errorf("release lock %s: %w", h.path, err)
	}
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file %s: %w", h.path, err)
	}
	return nil
}
