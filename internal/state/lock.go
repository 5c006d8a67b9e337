package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"grimm.is/cordon/internal/clock"
)

// ErrLockHeld means another process holds the user's lock and the wait
// timed out.
var ErrLockHeld = errors.New("restriction lock held by another process")

const lockPollInterval = 100 * time.Millisecond

// Lock is a held per-user advisory lock.
type Lock struct {
	f *os.File
}

// Release drops the lock. Safe to call once.
func (l *Lock) Release() error {
	if l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	cerr := l.f.Close()
	l.f = nil
	if err != nil {
		return err
	}
	return cerr
}

// AcquireUserLock takes the exclusive flock for one user, polling until
// timeout. Manual commands and timer-driven refreshes both take this lock,
// so concurrent mutations of the same user serialize across processes.
func AcquireUserLock(dir, username string, timeout time.Duration) (*Lock, error) {
	lockDir := filepath.Join(dir, "locks")
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(lockDir, username+".lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	deadline := clock.Now().Add(timeout)
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &Lock{f: f}, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			f.Close()
			return nil, fmt.Errorf("flock: %w", err)
		}
		if clock.Now().After(deadline) {
			f.Close()
			return nil, ErrLockHeld
		}
		time.Sleep(lockPollInterval)
	}
}
