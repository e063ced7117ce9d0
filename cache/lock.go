package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Advisory filesystem locks used to serialize GTFS bundle downloads
// across processes. A lock is a file created with O_EXCL; waiters
// poll until it disappears. Lock files older than the stale age are
// assumed to be leftovers of a crashed process and removed.

const (
	DefaultLockStaleAge = time.Hour
	lockPollInterval    = 10 * time.Second
	lockMaxWait         = 300 * time.Second
)

type DownloadLock struct {
	path string
}

// AcquireDownloadLock obtains an exclusive lock named name under the
// store root. It blocks (polling every 10s, up to 300s) while another
// process holds the lock, unless the lock file is older than
// staleAfter, in which case the lock is forcibly removed and
// acquisition retried.
func (s *Store) AcquireDownloadLock(ctx context.Context, name string, staleAfter time.Duration) (*DownloadLock, error) {
	if staleAfter <= 0 {
		staleAfter = DefaultLockStaleAge
	}

	path := filepath.Join(s.Dir, name+".lock")
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}

	deadline := s.TimeNow().Add(lockMaxWait)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, fileMode)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return &DownloadLock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("creating lock file: %w", err)
		}

		// Lock held by someone. Stale?
		if info, statErr := os.Stat(path); statErr == nil {
			if s.TimeNow().Sub(info.ModTime()) > staleAfter {
				os.Remove(path)
				continue
			}
		}

		if s.TimeNow().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for lock %s", name)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// Release removes the lock file. Safe to call more than once.
func (l *DownloadLock) Release() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}
