package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cuemby/sysrepod/internal/shm"
)

// shmFile is one memory-mapped, per-datastore-kind blob store: a tiny
// directory region (module name -> heap offset) alongside a
// shm.Heap-backed region of opaque payloads. It is the "running"/
// "candidate" datastore's on-disk shape (spec.md §3/§4.1): recreated on
// first access, growable in place, reachable only through offsets.
type shmFile struct {
	mu         sync.Mutex
	dir        *shm.Region
	heapRegion *shm.Region
	heap       *shm.Heap
}

const dirHeaderSize = 4 // length-prefixed JSON blob

func openShmFile(dirPath, heapPath string) (*shmFile, error) {
	dir, err := shm.OpenRegion(dirPath, dirHeaderSize)
	if err != nil {
		return nil, fmt.Errorf("store: open directory region %s: %w", dirPath, err)
	}
	heapRegion, err := shm.OpenRegion(heapPath, 8)
	if err != nil {
		dir.Close()
		return nil, fmt.Errorf("store: open heap region %s: %w", heapPath, err)
	}
	return &shmFile{dir: dir, heapRegion: heapRegion, heap: shm.NewHeap(heapRegion, "store")}, nil
}

func (f *shmFile) readDirLocked() (map[string]uint32, error) {
	out := make(map[string]uint32)
	var length uint32
	var payload []byte
	f.dir.View(func(data []byte) {
		if len(data) < dirHeaderSize {
			return
		}
		length = binary.LittleEndian.Uint32(data[:dirHeaderSize])
		if int(dirHeaderSize+length) > len(data) {
			length = 0
			return
		}
		payload = append([]byte(nil), data[dirHeaderSize:dirHeaderSize+length]...)
	})
	if length == 0 {
		return out, nil
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("store: decode directory: %w", err)
	}
	return out, nil
}

func (f *shmFile) writeDirLocked(m map[string]uint32) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("store: encode directory: %w", err)
	}
	need := dirHeaderSize + len(payload)
	if f.dir.Len() < need {
		if err := f.dir.Grow(need * 2); err != nil {
			return err
		}
	}
	f.dir.View(func(data []byte) {
		binary.LittleEndian.PutUint32(data[:dirHeaderSize], uint32(len(payload)))
		copy(data[dirHeaderSize:dirHeaderSize+len(payload)], payload)
	})
	return nil
}

// Load returns the raw payload stored for module, or (nil, false) if the
// module has no data yet (the "recreated on first access" empty case).
func (f *shmFile) Load(module string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir, err := f.readDirLocked()
	if err != nil {
		return nil, false, err
	}
	off, ok := dir[module]
	if !ok {
		return nil, false, nil
	}
	var payload []byte
	if err := f.heap.Get(off, &payload); err != nil {
		return nil, false, fmt.Errorf("store: read %s: %w", module, err)
	}
	return payload, true, nil
}

// Store writes payload for module, allocating a new heap block on first
// write and reusing (or relocating, on growth) it thereafter.
func (f *shmFile) Store(module string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir, err := f.readDirLocked()
	if err != nil {
		return err
	}

	off, ok := dir[module]
	if !ok {
		off, err = f.heap.Alloc(uint32(len(payload)))
		if err != nil {
			return fmt.Errorf("store: alloc block for %s: %w", module, err)
		}
	}
	newOff, err := f.heap.Put(off, payload)
	if err != nil {
		return fmt.Errorf("store: write %s: %w", module, err)
	}
	dir[module] = newOff
	return f.writeDirLocked(dir)
}

// Delete removes module's stored payload, if any (candidate reset,
// spec.md §9 open question: only the current prefix's file is touched).
func (f *shmFile) Delete(module string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir, err := f.readDirLocked()
	if err != nil {
		return err
	}
	off, ok := dir[module]
	if !ok {
		return nil
	}
	f.heap.Free(off)
	delete(dir, module)
	return f.writeDirLocked(dir)
}

// Reset drops every module's data, used to reinitialize the candidate
// datastore.
func (f *shmFile) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeDirLocked(map[string]uint32{})
}

func (f *shmFile) Sync() error {
	if err := f.dir.Sync(); err != nil {
		return err
	}
	return f.heapRegion.Sync()
}

func (f *shmFile) Close() error {
	err1 := f.dir.Close()
	err2 := f.heapRegion.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
