package conn

import (
	"context"
	"fmt"

	"github.com/cuemby/sysrepod/internal/lock"
	"github.com/cuemby/sysrepod/internal/logging"
	"github.com/cuemby/sysrepod/internal/registry"
)

// IsAlive reports whether c's liveness lock file is still flocked by c
// itself. It opens a second file descriptor on the same path and attempts
// a non-blocking exclusive flock: acquiring it proves the original holder
// released it (process death released every flock it held), which this
// port treats as "c is dead" exactly as spec.md §5 describes ("for any
// connection whose lock file is not flocked — reclaims its state").
func (c *Connection) IsAlive() bool {
	probe, err := lock.OpenFileLock(c.lockFile.Path())
	if err != nil {
		// Can't probe; fail safe and assume alive rather than reclaim a
		// live connection's state out from under it.
		return true
	}
	defer probe.Close()

	acquired, err := probe.TryLock()
	if err != nil {
		return true
	}
	if acquired {
		_ = probe.Unlock()
		return false
	}
	return true
}

// SimulateCrash force-drops c's liveness flock without running its normal
// Close path, so the connection stays registered in the manager's table
// with its locks and subscriptions intact — modeling a process that died
// mid-WRITE, the scenario spec.md §8 scenario 6 and §5's "connection
// recovery" describe. Test-only; production callers only ever reach
// Connection.Close.
func (c *Connection) SimulateCrash() error {
	return c.lockFile.Unlock()
}

// reclaimDead scans every registered connection and, for each one whose
// liveness lock is no longer held, releases its module locks, drops its
// subscriptions, and unregisters any operational-data providers it owned
// (spec.md §5: "On every WRITE or READ-UPGRADEABLE acquire of the SHM
// lock, the acquirer scans the connection list ... reclaims its state").
// Callers: Connect, subscription add/remove (subscribe.go), and
// LockSet (locking.go) on every WRITE or READ-UPGRADEABLE module-lock
// acquisition, so a writer never blocks behind a module lock a crashed
// connection still appears to hold.
func (m *Manager) reclaimDead(ctx context.Context) error {
	if err := m.shmLock.Acquire(ctx, lock.Write); err != nil {
		return err
	}
	defer m.shmLock.Release(lock.Write)
	return m.reclaimDeadLocked()
}

// reclaimDeadLocked is reclaimDead's body, callable by subscription
// add/remove (subscribe.go) which already holds m.shmLock in Write mode
// and must not recurse into acquiring it again.
func (m *Manager) reclaimDeadLocked() error {
	m.mu.Lock()
	dead := make([]*Connection, 0)
	for _, c := range m.conns {
		if !c.IsAlive() {
			dead = append(dead, c)
		}
	}
	m.mu.Unlock()

	for _, c := range dead {
		m.reclaimConnection(c)
	}
	return nil
}

// reclaimConnection releases c's locks, removes its subscriptions from
// every module, unregisters its providers, and drops it from the
// connection table.
func (m *Manager) reclaimConnection(c *Connection) {
	logging.WithConn(c.CID).Warn().Msg("conn: reclaiming state of dead connection")

	c.mu.Lock()
	held := c.locks
	c.locks = nil
	c.mu.Unlock()
	for i := len(held) - 1; i >= 0; i-- {
		held[i].lk.Release(held[i].Mode)
	}

	m.dropConnectionState(c.CID)

	m.mu.Lock()
	delete(m.conns, c.CID)
	m.mu.Unlock()

	_ = c.lockFile.Close()
}

// dropConnectionState removes every subscription owned by cid from every
// registered module, and unregisters any provider callbacks registered
// against those subscriptions' evpipe numbers (spec.md §3: "on connection
// death they are all dropped").
func (m *Manager) dropConnectionState(cid uint32) {
	for _, mod := range m.reg.All() {
		var droppedEvpipes []uint32
		err := m.reg.MutateDescriptor(mod, func(d *registry.Descriptor) {
			for ds, subs := range d.ChangeSubs {
				d.ChangeSubs[ds] = filterSubs(subs, cid, &droppedEvpipes)
			}
			d.OperSubs = filterSubs(d.OperSubs, cid, &droppedEvpipes)
			d.NotifSubs = filterSubs(d.NotifSubs, cid, &droppedEvpipes)
			d.RPCSubs = filterSubs(d.RPCSubs, cid, &droppedEvpipes)
		})
		if err != nil {
			logging.Error(fmt.Sprintf("conn: drop subscriptions for module %s: %v", mod.Descriptor.Name, err))
			continue
		}
		for _, evpipe := range droppedEvpipes {
			m.providers.Unregister(evpipe)
		}
	}
}

func filterSubs(subs []registry.Subscription, cid uint32, dropped *[]uint32) []registry.Subscription {
	kept := subs[:0:0]
	for _, s := range subs {
		if s.CID == cid {
			*dropped = append(*dropped, s.EvpipeNum)
			continue
		}
		kept = append(kept, s)
	}
	return kept
}
