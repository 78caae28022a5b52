package conn

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/sysrepod/internal/lock"
	"github.com/cuemby/sysrepod/internal/modinfo"
	"github.com/cuemby/sysrepod/internal/registry"
	"github.com/cuemby/sysrepod/internal/shm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	arena, err := shm.OpenArena(filepath.Join(dir, "main"), filepath.Join(dir, "ext"), 16)
	require.NoError(t, err)
	t.Cleanup(func() { arena.Close() })
	return registry.New(arena)
}

// TestLockSetCanonicalOrder exercises spec.md §8 scenario 2: seeding c
// before a still yields a, b, c (b as a's DEP; a DEP's own data-deps are
// not followed, so c is present only as a seed) locked in slot
// (registration) order regardless of seed order.
func TestLockSetCanonicalOrder(t *testing.T) {
	reg := newTestRegistry(t)
	a, err := reg.AddModule("a", "r1")
	require.NoError(t, err)
	b, err := reg.AddModule("b", "r1")
	require.NoError(t, err)
	cMod, err := reg.AddModule("c", "r1")
	require.NoError(t, err)

	require.NoError(t, reg.MutateDescriptor(a, func(d *registry.Descriptor) {
		d.DataDeps = []registry.Dependency{{Tag: registry.RefDep, Module: "b"}}
	}))
	require.NoError(t, reg.MutateDescriptor(b, func(d *registry.Descriptor) {
		d.DataDeps = []registry.Dependency{{Tag: registry.RefDep, Module: "c"}}
	}))

	resolver := modinfo.NewResolver(reg)
	set, err := resolver.Close(registry.Running, []string{"c", "a"}, modinfo.WantDep)
	require.NoError(t, err)
	require.Len(t, set.Entries, 3)
	assert.Equal(t, a.Slot, set.Entries[0].Module.Slot)
	assert.Equal(t, b.Slot, set.Entries[1].Module.Slot)
	assert.Equal(t, cMod.Slot, set.Entries[2].Module.Slot)

	m := &Manager{shmLock: lock.New()}
	conn := &Connection{CID: 1}
	require.NoError(t, m.LockSet(context.Background(), conn, set, lock.Write, ""))

	// Every module's running lock must now read as held-for-write.
	for _, e := range set.Entries {
		readers, upgradeable, writer := e.Module.LockFor(registry.Running).Stats()
		assert.Equal(t, 0, readers)
		assert.False(t, upgradeable)
		assert.True(t, writer)
	}

	m.UnlockSet(conn, set)
	for _, e := range set.Entries {
		readers, upgradeable, writer := e.Module.LockFor(registry.Running).Stats()
		assert.Equal(t, 0, readers)
		assert.False(t, upgradeable)
		assert.False(t, writer)
	}
}

// TestLockSetRollsBackOnFailure exercises the partial-acquire rollback
// LockSet must perform: b's lock is pre-held for write by someone else, so
// a's successfully-acquired lock must be released before the deadline
// error is returned.
func TestLockSetRollsBackOnFailure(t *testing.T) {
	reg := newTestRegistry(t)
	a, err := reg.AddModule("a", "r1")
	require.NoError(t, err)
	b, err := reg.AddModule("b", "r1")
	require.NoError(t, err)

	set := modinfo.NewSet(registry.Running)
	set.Entries = append(set.Entries,
		&modinfo.Entry{Module: a, State: modinfo.BitReq},
		&modinfo.Entry{Module: b, State: modinfo.BitReq},
	)

	// Hold b's running lock for write from outside the set, so LockSet's
	// second acquisition blocks until the deadline below.
	require.NoError(t, b.LockFor(registry.Running).Acquire(context.Background(), lock.Write))
	defer b.LockFor(registry.Running).Release(lock.Write)

	m := &Manager{shmLock: lock.New()}
	conn := &Connection{CID: 1}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = m.LockSet(ctx, conn, set, lock.Write, "")
	require.Error(t, err)

	// a's lock must have been rolled back: it reports no holder of any
	// mode.
	readers, upgradeable, writer := a.LockFor(registry.Running).Stats()
	assert.Equal(t, 0, readers)
	assert.False(t, upgradeable)
	assert.False(t, writer)

	conn.mu.Lock()
	assert.Empty(t, conn.locks)
	conn.mu.Unlock()
}
