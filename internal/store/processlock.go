package store

import (
	"fmt"

	"github.com/gofrs/flock"
)

// ProcessLock is a flock-backed exclusive lock establishing single-process
// ownership of a workspace.
type ProcessLock struct {
	flock *flock.Flock
	path  string
}

// NewProcessLock creates a lock backed by the given lock file path.
func NewProcessLock(path string) *ProcessLock {
	return &ProcessLock{flock: flock.New(path), path: path}
}

// Acquire attempts to take the lock without blocking. Returns false when
// another process already owns the workspace.
func (p *ProcessLock) Acquire() (bool, error) {
	acquired, err := p.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire workspace lock %s: %w", p.path, err)
	}
	return acquired, nil
}

// Release gives the lock back.
func (p *ProcessLock) Release() error {
	if err := p.flock.Unlock(); err != nil {
		return fmt.Errorf("release workspace lock %s: %w", p.path, err)
	}
	return nil
}
