package shm

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Main SHM header layout (spec.md §4.1): a version tag, four monotonic id
// counters, and a fixed-capacity slot table. Each slot either points at a
// module descriptor's Ext-heap block (occupied) or is free. The slot
// table's capacity is fixed at creation, mirroring the real implementation's
// "contiguous array of module descriptors" — descriptor *content* is
// variable-size, so it lives in the Ext heap and the slot stores only the
// offset (heap.go's Put and Get store that content as length-prefixed
// JSON, not a struct overlay).
const (
	versionTagOffset   = 0
	versionTagSize     = 4
	modCountOffset     = 4
	nextConnIDOffset   = 8
	nextSessionIDOff   = 12
	nextSubIDOffset    = 16
	nextEvpipeIDOffset = 20
	capacityOffset     = 24
	slotTableOffset    = 28
	slotSize           = 8 // occupied uint32 + extOffset uint32

	versionTag = "SRM1"
)

func mainHeaderSize(capacity uint32) int {
	return slotTableOffset + int(capacity)*slotSize
}

// Arena is the process-local handle onto the two SHM regions: Main (fixed
// header + module slot table) and Ext (the descriptor/array heap).
type Arena struct {
	main *Region
	ext  *Heap

	mu       sync.Mutex
	capacity uint32
}

// OpenArena opens or creates the Main and Ext regions at the given paths.
// capacity bounds the number of modules that can ever be registered; the
// real engine resizes this at re-initialization, which this port treats as
// "wipe and recreate with a new capacity" (ReinitCapacity below).
func OpenArena(mainPath, extPath string, capacity uint32) (*Arena, error) {
	main, err := OpenRegion(mainPath, mainHeaderSize(capacity))
	if err != nil {
		return nil, fmt.Errorf("open main shm: %w", err)
	}
	ext, err := OpenRegion(extPath, heapHeaderSize)
	if err != nil {
		main.Close()
		return nil, fmt.Errorf("open ext shm: %w", err)
	}

	a := &Arena{main: main, ext: NewHeap(ext, "ext"), capacity: capacity}
	if err := a.initIfEmpty(); err != nil {
		main.Close()
		ext.Close()
		return nil, err
	}
	return a, nil
}

func (a *Arena) initIfEmpty() error {
	var tag [versionTagSize]byte
	a.main.View(func(data []byte) {
		copy(tag[:], data[versionTagOffset:versionTagOffset+versionTagSize])
	})
	if string(tag[:]) == versionTag {
		a.main.View(func(data []byte) {
			a.capacity = binary.LittleEndian.Uint32(data[capacityOffset : capacityOffset+4])
		})
		return nil
	}

	if err := a.main.Grow(mainHeaderSize(a.capacity)); err != nil {
		return err
	}
	a.main.View(func(data []byte) {
		copy(data[versionTagOffset:versionTagOffset+versionTagSize], versionTag)
		binary.LittleEndian.PutUint32(data[capacityOffset:capacityOffset+4], a.capacity)
	})
	return nil
}

// Close unmaps both regions.
func (a *Arena) Close() error {
	err1 := a.main.Close()
	err2 := a.ext.region.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Ext exposes the Ext-heap allocator for descriptor and array storage.
func (a *Arena) Ext() *Heap { return a.ext }

// Sync flushes both regions (used when the operational diff overlay, which
// lives in Ext SHM, must be durable before a commit is acknowledged).
func (a *Arena) Sync() error {
	if err := a.main.Sync(); err != nil {
		return err
	}
	return a.ext.region.Sync()
}

func (a *Arena) counter(off int) uint32 {
	var v uint32
	a.main.View(func(data []byte) {
		v = binary.LittleEndian.Uint32(data[off : off+4])
	})
	return v
}

func (a *Arena) nextCounter(off int) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var v uint32
	a.main.View(func(data []byte) {
		v = binary.LittleEndian.Uint32(data[off:off+4]) + 1
		binary.LittleEndian.PutUint32(data[off:off+4], v)
	})
	return v
}

// NextConnID, NextSessionID, NextSubID, and NextEvpipeID hand out the
// monotonic ids spec.md §4.1 keeps in the Main SHM header.
func (a *Arena) NextConnID() uint32    { return a.nextCounter(nextConnIDOffset) }
func (a *Arena) NextSessionID() uint32 { return a.nextCounter(nextSessionIDOff) }
func (a *Arena) NextSubID() uint32     { return a.nextCounter(nextSubIDOffset) }
func (a *Arena) NextEvpipeID() uint32  { return a.nextCounter(nextEvpipeIDOffset) }

// ModCount reports the current number of occupied module slots.
func (a *Arena) ModCount() uint32 { return a.counter(modCountOffset) }

// Capacity returns the fixed module slot capacity this arena was opened
// with.
func (a *Arena) Capacity() uint32 { return a.capacity }

func (a *Arena) slotOffset(i uint32) int {
	return slotTableOffset + int(i)*slotSize
}

// PutModule stores desc (any JSON-serializable module descriptor) in the
// first free slot and returns the slot index, or an error if the arena is
// at capacity. The slot table is guarded by the arena's own mutex, held
// for the whole call.
func (a *Arena) PutModule(desc any) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	slot, free := a.findFreeSlotLocked()
	if !free {
		return 0, fmt.Errorf("shm: module slot table full (capacity %d)", a.capacity)
	}

	extOff, err := a.ext.Alloc(256)
	if err != nil {
		return 0, err
	}
	if _, err := a.ext.Put(extOff, desc); err != nil {
		return 0, err
	}

	a.main.View(func(data []byte) {
		off := a.slotOffset(slot)
		binary.LittleEndian.PutUint32(data[off:off+4], 1)
		binary.LittleEndian.PutUint32(data[off+4:off+8], extOff)
		cur := binary.LittleEndian.Uint32(data[modCountOffset : modCountOffset+4])
		binary.LittleEndian.PutUint32(data[modCountOffset:modCountOffset+4], cur+1)
	})
	return slot, nil
}

func (a *Arena) findFreeSlotLocked() (uint32, bool) {
	var found uint32
	ok := false
	a.main.View(func(data []byte) {
		for i := uint32(0); i < a.capacity; i++ {
			off := a.slotOffset(i)
			if binary.LittleEndian.Uint32(data[off:off+4]) == 0 {
				found, ok = i, true
				return
			}
		}
	})
	return found, ok
}

// GetModule decodes the descriptor stored at slot into v.
func (a *Arena) GetModule(slot uint32, v any) error {
	extOff, occupied := a.slotExtOffset(slot)
	if !occupied {
		return fmt.Errorf("shm: slot %d is not occupied", slot)
	}
	return a.ext.Get(extOff, v)
}

// PutModuleAt re-encodes the descriptor already stored at slot (used after
// e.g. bumping descriptor.ver on commit).
func (a *Arena) PutModuleAt(slot uint32, desc any) error {
	extOff, occupied := a.slotExtOffset(slot)
	if !occupied {
		return fmt.Errorf("shm: slot %d is not occupied", slot)
	}
	newOff, err := a.ext.Put(extOff, desc)
	if err != nil {
		return err
	}
	if newOff != extOff {
		a.main.View(func(data []byte) {
			off := a.slotOffset(slot)
			binary.LittleEndian.PutUint32(data[off+4:off+8], newOff)
		})
	}
	return nil
}

func (a *Arena) slotExtOffset(slot uint32) (uint32, bool) {
	var extOff uint32
	var occupied bool
	a.main.View(func(data []byte) {
		off := a.slotOffset(slot)
		occupied = binary.LittleEndian.Uint32(data[off:off+4]) == 1
		extOff = binary.LittleEndian.Uint32(data[off+4 : off+8])
	})
	return extOff, occupied
}

// RemoveModule frees the slot and its Ext-heap block.
func (a *Arena) RemoveModule(slot uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	extOff, occupied := a.slotExtOffset(slot)
	if !occupied {
		return
	}
	a.ext.Free(extOff)
	a.main.View(func(data []byte) {
		off := a.slotOffset(slot)
		binary.LittleEndian.PutUint32(data[off:off+4], 0)
		binary.LittleEndian.PutUint32(data[off+4:off+8], 0)
		cur := binary.LittleEndian.Uint32(data[modCountOffset : modCountOffset+4])
		if cur > 0 {
			binary.LittleEndian.PutUint32(data[modCountOffset:modCountOffset+4], cur-1)
		}
	})
}

// Slots returns the indices of all occupied module slots, in slot order —
// the canonical iteration order for registry lookups that don't otherwise
// sort by name.
func (a *Arena) Slots() []uint32 {
	var out []uint32
	a.main.View(func(data []byte) {
		for i := uint32(0); i < a.capacity; i++ {
			off := a.slotOffset(i)
			if binary.LittleEndian.Uint32(data[off:off+4]) == 1 {
				out = append(out, i)
			}
		}
	})
	return out
}
