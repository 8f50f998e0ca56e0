package threadstate

import (
	"fmt"
	"os"
	"syscall"
)

// fileLock provides cross-process mutual exclusion using flock(2). It
// guards the JSON binding file when a running bridge and a CLI command
// (threads unbind) write it at the same time.
type fileLock struct {
	path string
	file *os.File
}

// newFileLock creates a lock next to the file it protects.
func newFileLock(target string) *fileLock {
	return &fileLock{path: target + ".lock"}
}

// Lock acquires an exclusive lock, blocking until available. The lock file
// is created if it does not exist.
func (fl *fileLock) Lock() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	fl.file = f

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		fl.file = nil
		return fmt.Errorf("flock: %w", err)
	}
	return nil
}

// Unlock releases the lock and closes the lock file.
func (fl *fileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}

	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = fl.file.Close()
		fl.file = nil
		return fmt.Errorf("funlock: %w", err)
	}

	err := fl.file.Close()
	fl.file = nil
	return err
}
