package conn

import (
	"context"

	"github.com/cuemby/sysrepod/internal/lock"
	"github.com/cuemby/sysrepod/internal/modinfo"
	"github.com/cuemby/sysrepod/internal/registry"
)

// LockSet implements the module-locking protocol (spec.md §4.5): the
// modinfo is locked as a whole, in its canonical (slot-ascending) order,
// either READ-lock-all or WRITE-lock-all. upgradeableModule, if non-empty,
// names the one entry (mode must be lock.Read) that is granted
// READ-UPGRADEABLE instead of plain READ. Operational requests
// additionally READ-lock the secondary datastore (set.SecondaryDS, always
// "running") for every entry.
//
// On the i-th lock failure, every lock acquired so far is released in
// reverse order before the error is returned — no partial lock state
// survives a failed LockSet call.
func (m *Manager) LockSet(ctx context.Context, c *Connection, set *modinfo.Set, mode lock.Mode, upgradeableModule string) error {
	// spec.md §5: "On every WRITE or READ-UPGRADEABLE acquire of the SHM
	// lock, the acquirer scans the connection list" and reclaims anyone
	// whose liveness lock died — a writer (or the one upgradeable reader)
	// is exactly the caller about to contend for a module lock a dead
	// connection may still be holding, so the scan runs here too, not only
	// on Connect and subscription mutation.
	if mode == lock.Write || upgradeableModule != "" {
		if err := m.reclaimDead(ctx); err != nil {
			return err
		}
	}

	var acquired []HeldLock

	rollback := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].lk.Release(acquired[i].Mode)
		}
	}

	for _, entry := range set.Entries {
		name := entry.Module.Descriptor.Name
		effMode := mode
		if mode == lock.Read && name == upgradeableModule {
			effMode = lock.ReadUpgradeable
		}

		primary := entry.Module.LockFor(set.PrimaryDS)
		if err := primary.Acquire(ctx, effMode); err != nil {
			rollback()
			return err
		}
		acquired = append(acquired, HeldLock{Module: name, DS: set.PrimaryDS, Mode: effMode, lk: primary})

		if set.SecondaryDS != "" && set.SecondaryDS != set.PrimaryDS {
			secondary := entry.Module.LockFor(set.SecondaryDS)
			if err := secondary.Acquire(ctx, lock.Read); err != nil {
				rollback()
				return err
			}
			acquired = append(acquired, HeldLock{Module: name, DS: set.SecondaryDS, Mode: lock.Read, lk: secondary})
		}
	}

	c.recordLocks(acquired)
	return nil
}

// UnlockSet releases exactly the locks LockSet acquired for set, in
// reverse order.
func (m *Manager) UnlockSet(c *Connection, set *modinfo.Set) {
	names := make(map[string]bool, len(set.Entries))
	for _, e := range set.Entries {
		names[e.Module.Descriptor.Name] = true
	}
	held := c.releaseLocksFor(names, set.PrimaryDS, set.SecondaryDS)
	for i := len(held) - 1; i >= 0; i-- {
		held[i].lk.Release(held[i].Mode)
	}
}

// datastoresOf reports whether a request needs a secondary (running) lock alongside the primary — only
// operational requests do (spec.md §4.5).
func datastoresOf(ds registry.Datastore) (primary, secondary registry.Datastore) {
	if ds == registry.Operational {
		return registry.Operational, registry.Running
	}
	return ds, ""
}
