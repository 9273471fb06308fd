// Package lock serializes work on a single analysis across processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrBusy is returned when another process holds the lock.
var ErrBusy = errors.New("analysis is locked by another process")

const retryDelay = 200 * time.Millisecond

// Lock is an exclusive per-analysis file lock.
type Lock struct {
	fl *flock.Flock
}

func path(dataDir, id string) (string, error) {
	dir := filepath.Join(dataDir, "locks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create locks dir: %w", err)
	}
	return filepath.Join(dir, id+".lock"), nil
}

// Acquire blocks until the lock for analysis id is held or ctx is done.
func Acquire(ctx context.Context, dataDir, id string) (*Lock, error) {
	p, err := path(dataDir, id)
	if err != nil {
		return nil, err
	}
	fl := flock.New(p)
	ok, err := fl.TryLockContext(ctx, retryDelay)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: gave up waiting", ErrBusy)
	}
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", id, err)
	}
	if !ok {
		return nil, ErrBusy
	}
	return &Lock{fl: fl}, nil
}

// TryAcquire takes the lock without waiting. It returns ErrBusy when the lock
// is held elsewhere.
func TryAcquire(dataDir, id string) (*Lock, error) {
	p, err := path(dataDir, id)
	if err != nil {
		return nil, err
	}
	fl := flock.New(p)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", id, err)
	}
	if !ok {
		return nil, ErrBusy
	}
	return &Lock{fl: fl}, nil
}

// Release releases the lock. It is safe on a nil lock.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
