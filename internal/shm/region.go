package shm

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Region wraps one mmap'd, ftruncate-growable file. Growing a region
// requires remapping; remapMu guards the `data` slice header itself so a
// reader holding an RLock is guaranteed a stable pointer even while a
// writer grows the file (spec.md §4.1/§5: "a separate remap RW lock
// guards the process-local mmap pointer").
type Region struct {
	path    string
	file    *os.File
	data    []byte
	remapMu sync.RWMutex
}

// OpenRegion opens (creating if necessary) a region file and maps it at
// at least minSize bytes.
func OpenRegion(path string, minSize int) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open shm region %s: %w", path, err)
	}
	r := &Region{path: path, file: f}
	if err := r.ensureSize(minSize); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// Path returns the backing file path.
func (r *Region) Path() string { return r.path }

// ensureSize grows (never shrinks) the backing file and remaps it. Callers
// must already hold whatever higher-level WRITE lock spec.md requires
// before mutating a region that other connections may have mapped.
func (r *Region) ensureSize(size int) error {
	info, err := r.file.Stat()
	if err != nil {
		return fmt.Errorf("stat shm region %s: %w", r.path, err)
	}
	if info.Size() >= int64(size) {
		if r.data != nil {
			return nil
		}
		size = int(info.Size())
	}
	if err := r.file.Truncate(int64(size)); err != nil {
		return fmt.Errorf("truncate shm region %s: %w", r.path, err)
	}
	return r.remap(size)
}

// Grow extends the region to at least newSize bytes, remapping in place.
// Must be called with the arena's SHM WRITE lock held (spec.md §5 lock
// order: SHM RW -> remap RW -> module locks -> cache RW).
func (r *Region) Grow(newSize int) error {
	r.remapMu.Lock()
	defer r.remapMu.Unlock()
	if newSize <= len(r.data) {
		return nil
	}
	if err := r.file.Truncate(int64(newSize)); err != nil {
		return fmt.Errorf("grow shm region %s: %w", r.path, err)
	}
	return r.remapLocked(newSize)
}

func (r *Region) remap(size int) error {
	r.remapMu.Lock()
	defer r.remapMu.Unlock()
	return r.remapLocked(size)
}

func (r *Region) remapLocked(size int) error {
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil {
			return fmt.Errorf("munmap %s: %w", r.path, err)
		}
		r.data = nil
	}
	data, err := unix.Mmap(int(r.file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap %s: %w", r.path, err)
	}
	r.data = data
	return nil
}

// View runs fn with a stable view of the region's bytes. fn must not
// retain the slice past the call (a concurrent Grow may munmap it).
func (r *Region) View(fn func(data []byte)) {
	r.remapMu.RLock()
	defer r.remapMu.RUnlock()
	fn(r.data)
}

// Len returns the current mapped size.
func (r *Region) Len() int {
	r.remapMu.RLock()
	defer r.remapMu.RUnlock()
	return len(r.data)
}

// Sync flushes dirty pages (msync) — used before reporting a commit as
// durable for the operational diff overlay, which lives in Ext SHM rather
// than a bbolt file.
func (r *Region) Sync() error {
	r.remapMu.RLock()
	defer r.remapMu.RUnlock()
	if r.data == nil {
		return nil
	}
	return unix.Msync(r.data, unix.MS_SYNC)
}

// Close unmaps and closes the backing file.
func (r *Region) Close() error {
	r.remapMu.Lock()
	defer r.remapMu.Unlock()
	var err error
	if r.data != nil {
		err = unix.Munmap(r.data)
		r.data = nil
	}
	if cerr := r.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
