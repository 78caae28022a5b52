package cache

import (
	"sync"

	"github.com/cuemby/sysrepod/internal/datatree"
	"github.com/cuemby/sysrepod/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
)

// entry is one cached (tree, version) pair (spec.md §3: "Map module→(tree,
// ver)").
type entry struct {
	tree *datatree.Tree
	ver  uint64
}

// Cache is the running-data cache. The invariant from spec.md §4.7 — "a
// cache hit is usable iff cache.ver >= descriptor.ver" — is enforced by
// every accessor here; callers never see a stale tree.
//
// Read-preferring: Read/Ensure's hit path only takes the package's RWMutex
// in read mode; only a miss or stale entry pays for the write-mode
// refresh, matching "Read-preferring RW-locked" from spec.md §2.8.
type Cache struct {
	mu  sync.RWMutex
	lru *lru.Cache[string, *entry]
}

// New builds a cache bounded at size entries (0 means "one per installed
// module" is the caller's responsibility to size correctly; a size of at
// least 1 is required by the underlying LRU).
func New(size int) (*Cache, error) {
	if size <= 0 {
		size = 1
	}
	l, err := lru.New[string, *entry](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Read is read(module) -> tree|miss (spec.md §4.7): an O(1) lookup with no
// version check, used only by callers that have already established
// freshness (e.g. right after Ensure).
func (c *Cache) Read(module string) (*datatree.Tree, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.lru.Get(module)
	if !ok {
		metrics.CacheMissesTotal.WithLabelValues(module).Inc()
		return nil, false
	}
	metrics.CacheHitsTotal.WithLabelValues(module).Inc()
	return e.tree, true
}

// Loader reads the persisted running-datastore file for module when the
// cache must be (re)populated from storage rather than from an
// in-progress write's upd_data.
type Loader func() (*datatree.Tree, error)

// Ensure implements ensure(module, upd_data?, already_read_locked?) (spec.md
// §4.7): if the cached version is strictly less than currentVer, the stale
// tree is dropped and replaced either by updData (an in-progress write's
// result) or by freshly loading from persistent storage, and the cache
// entry's version is advanced to currentVer.
//
// already_read_locked in the original API states whether the caller
// entered under a data_lock READ hold that must be restored on return;
// that bookkeeping belongs to the per-module data_lock (internal/lock),
// not this cache, so it is not modeled here — callers hold their own
// data_lock for the duration of the Ensure call.
func (c *Cache) Ensure(module string, currentVer uint64, updData *datatree.Tree, load Loader) (*datatree.Tree, error) {
	c.mu.RLock()
	if e, ok := c.lru.Peek(module); ok && e.ver >= currentVer {
		c.mu.RUnlock()
		metrics.CacheHitsTotal.WithLabelValues(module).Inc()
		return e.tree, nil
	}
	c.mu.RUnlock()
	metrics.CacheMissesTotal.WithLabelValues(module).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.lru.Peek(module); ok && e.ver >= currentVer {
		return e.tree, nil
	}

	tree := updData
	if tree == nil {
		loaded, err := load()
		if err != nil {
			return nil, err
		}
		tree = loaded
	}
	c.lru.Add(module, &entry{tree: tree, ver: currentVer})
	return tree, nil
}

// Invalidate drops module's cache entry outright, forcing the next Ensure
// to reload it regardless of version.
func (c *Cache) Invalidate(module string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(module)
}

// Len reports the number of cached modules, for introspection.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}
