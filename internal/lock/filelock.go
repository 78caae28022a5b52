package lock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileLock wraps an flock(2)-based advisory lock on a regular file. It
// backs two uses from spec.md §5: the one-time creation lock taken while
// initializing the Main/Ext SHM regions, and the per-connection liveness
// lock a connection holds for its entire lifetime so other connections can
// detect it crashed mid-WRITE.
type FileLock struct {
	path string
	file *os.File
}

// OpenFileLock opens (creating if necessary) the lock file at path. It does
// not itself acquire the lock; call Lock or TryLock.
func OpenFileLock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	return &FileLock{path: path, file: f}, nil
}

// Lock blocks until the exclusive flock is acquired.
func (l *FileLock) Lock() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("flock %s: %w", l.path, err)
	}
	return nil
}

// TryLock attempts a non-blocking exclusive flock, returning (true, nil) if
// acquired, (false, nil) if another holder has it, or an error for any
// other failure. Connection recovery uses this to tell "the previous
// holder crashed" (lock acquired clean) from "the previous holder is still
// alive" (unix.EWOULDBLOCK).
func (l *FileLock) TryLock() (bool, error) {
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		return true, nil
	}
	if err == unix.EWOULDBLOCK {
		return false, nil
	}
	return false, fmt.Errorf("flock %s: %w", l.path, err)
}

// Unlock releases the flock. The caller keeps the file open; call Close to
// release both.
func (l *FileLock) Unlock() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("funlock %s: %w", l.path, err)
	}
	return nil
}

// Close unlocks (best-effort) and closes the backing file.
func (l *FileLock) Close() error {
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	return l.file.Close()
}

// Path returns the lock file's path.
func (l *FileLock) Path() string { return l.path }
