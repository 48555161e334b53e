package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// ErrRunInProgress is returned when another run holds the lock.
var ErrRunInProgress = errors.New("pipeline: run already in progress")

// Lock serializes pipeline runs within the process and, when given a path,
// across processes sharing the same data directory.
type Lock struct {
	mu   sync.Mutex
	path string
	file *flock.Flock
}

// NewLock returns a Lock backed by a lock file at path. An empty path gives
// an in-process lock only.
func NewLock(path string) *Lock {
	l := &Lock{path: path}
	if path != "" {
		l.file = flock.New(path)
	}
	return l
}

// TryAcquire takes the lock without blocking. The returned release func must
// be called exactly once.
func (l *Lock) TryAcquire() (release func(), err error) {
	if !l.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	if l.file == nil {
		return l.mu.Unlock, nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	ok, err := l.file.TryLock()
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("acquire lock %s: %w", l.path, err)
	}
	if !ok {
		l.mu.Unlock()
		return nil, ErrRunInProgress
	}
	return func() {
		_ = l.file.Unlock()
		l.mu.Unlock()
	}, nil
}
