package storage

import (
	"fmt"
	"os"
	"sync"
	"syscall"
)

// lockPath serializes writers on one document: an in-process mutex guards
// against concurrent goroutines, and an advisory flock on a sibling .lock
// file guards against other processes sharing the same .snow tree. The
// returned func releases both.
func (s *Storage) lockPath(file string) (func(), error) {
	entry, _ := s.locks.LoadOrStore(file, &sync.Mutex{})
	mu := entry.(*sync.Mutex)
	mu.Lock()

	lockFile := file + ".lock"
	f, err := os.OpenFile(lockFile, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		mu.Unlock()
		return nil, fmt.Errorf("flock: %w", err)
	}

	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		mu.Unlock()
	}, nil
}
