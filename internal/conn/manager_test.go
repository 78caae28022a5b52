package conn

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/sysrepod/internal/config"
	"github.com/cuemby/sysrepod/internal/datatree"
	"github.com/cuemby/sysrepod/internal/errs"
	"github.com/cuemby/sysrepod/internal/lock"
	"github.com/cuemby/sysrepod/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManagerConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		ShmPrefix:           "test",
		RepoPath:            dir,
		ShmPath:             dir,
		RunningCacheEnabled: true,
		RunningCacheSize:    16,
		DefaultTimeoutMS:    1000,
		LogLevel:            "error",
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := Open(newTestManagerConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

// registerModule adds module to the registry and creates an accessible
// startup file so perm.Check's access probe (spec.md §4.4) succeeds.
func registerModule(t *testing.T, m *Manager, name string) *registry.Module {
	t.Helper()
	mod, err := m.Registry().AddModule(name, "2020-01-01")
	require.NoError(t, err)
	path := filepath.Join(m.cfg.RepoPath, "data", name+".startup")
	require.NoError(t, os.WriteFile(path, nil, 0600))
	return mod
}

// TestGetEditCommitRoundTrip exercises spec.md §8 scenario 1 end to end
// through the Manager: a commit to running must be immediately visible to
// a subsequent Get on the same datastore.
func TestGetEditCommitRoundTrip(t *testing.T) {
	m := newTestManager(t)
	registerModule(t, m, "m1")

	ctx := context.Background()
	c, err := m.Connect(ctx)
	require.NoError(t, err)
	defer c.Close()

	_, err = m.EditCommit(ctx, c, registry.Running, CommitRequest{
		Modules: []string{"m1"},
		Edit: &datatree.Diff{Entries: []datatree.DiffEntry{
			{Path: "/m1:root/a", Op: datatree.OpCreate, Value: "1"},
		}},
	})
	require.NoError(t, err)

	tree, err := m.Get(ctx, c, registry.Running, GetRequest{Modules: []string{"m1"}})
	require.NoError(t, err)
	nodes, err := m.dt.XPathEval(tree, "/m1:root/a")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "1", nodes[0].Value)
}

// TestEditCommitEmitsChangeNotification exercises spec.md §4.10: a
// successful running commit generates one notification per changed
// module, carrying the committing connection's id.
func TestEditCommitEmitsChangeNotification(t *testing.T) {
	m := newTestManager(t)
	registerModule(t, m, "m1")

	ctx := context.Background()
	c, err := m.Connect(ctx)
	require.NoError(t, err)
	defer c.Close()

	n, err := m.EditCommit(ctx, c, registry.Running, CommitRequest{
		Modules: []string{"m1"},
		Edit: &datatree.Diff{Entries: []datatree.DiffEntry{
			{Path: "/m1:root/a", Op: datatree.OpCreate, Value: "1"},
		}},
	})
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, "m1", n.Module)
	assert.Equal(t, c.CID, n.ChangedBy.CID)
	require.Len(t, n.Edits, 1)
	assert.Equal(t, "/m1:root/a", n.Edits[0].Path)
}

// TestEditCommitNoNotificationForCandidate exercises spec.md §4.10:
// candidate and operational commits are exempt from change-notification
// generation.
func TestEditCommitNoNotificationForCandidate(t *testing.T) {
	m := newTestManager(t)
	registerModule(t, m, "m1")

	ctx := context.Background()
	c, err := m.Connect(ctx)
	require.NoError(t, err)
	defer c.Close()

	n, err := m.EditCommit(ctx, c, registry.Candidate, CommitRequest{
		Modules: []string{"m1"},
		Edit: &datatree.Diff{Entries: []datatree.DiffEntry{
			{Path: "/m1:root/a", Op: datatree.OpCreate, Value: "1"},
		}},
	})
	require.NoError(t, err)
	assert.Nil(t, n)
}

// TestEditCommitRevalidationFailureLeavesFilesUnchanged exercises spec.md
// §8 scenario 3: module a leafref-depends on module b; editing b to remove
// the leafref target fails cross-module revalidation of a (an INV_DEP
// pulled in by the closure), and neither module's running file is touched.
func TestEditCommitRevalidationFailureLeavesFilesUnchanged(t *testing.T) {
	m := newTestManager(t)
	a := registerModule(t, m, "a")
	b := registerModule(t, m, "b")

	require.NoError(t, m.Registry().MutateDescriptor(a, func(d *registry.Descriptor) {
		d.DataDeps = []registry.Dependency{{Tag: registry.RefDep, Module: "b", XPath: "/b:root/x"}}
	}))
	require.NoError(t, m.Registry().MutateDescriptor(b, func(d *registry.Descriptor) {
		d.InvDataDeps = []registry.Dependency{{Tag: registry.RefDep, Module: "a", XPath: "/b:root/x"}}
	}))

	ctx := context.Background()
	c, err := m.Connect(ctx)
	require.NoError(t, err)
	defer c.Close()

	_, err = m.EditCommit(ctx, c, registry.Running, CommitRequest{
		Modules: []string{"b"},
		Edit: &datatree.Diff{Entries: []datatree.DiffEntry{
			{Path: "/b:root/x", Op: datatree.OpCreate, Value: "1"},
		}},
	})
	require.NoError(t, err)

	_, err = m.EditCommit(ctx, c, registry.Running, CommitRequest{
		Modules: []string{"a"},
		Edit: &datatree.Diff{Entries: []datatree.DiffEntry{
			{Path: "/a:root/ref", Op: datatree.OpCreate, Value: "1"},
		}},
	})
	require.NoError(t, err)

	verBefore := b.Descriptor.Ver

	_, err = m.EditCommit(ctx, c, registry.Running, CommitRequest{
		Modules: []string{"b"},
		Edit: &datatree.Diff{Entries: []datatree.DiffEntry{
			{Path: "/b:root/x", Op: datatree.OpDelete},
		}},
		Leafrefs: map[string][]datatree.LeafrefRef{
			"a": {{SourceModule: "a", TargetModule: "b", TargetXPath: "/b:root/x"}},
		},
	})
	require.Error(t, err)
	assert.Equal(t, errs.ValidationFailed, errs.KindOf(err))

	assert.Equal(t, verBefore, b.Descriptor.Ver)

	tree, err := m.Store().LoadRunning("b")
	require.NoError(t, err)
	nodes, err := m.dt.XPathEval(tree, "/b:root/x")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "1", nodes[0].Value)

	// The connection's locks on both modules must have been released,
	// not left held by the failed attempt.
	c.mu.Lock()
	assert.Empty(t, c.locks)
	c.mu.Unlock()
}

// TestConnectionRecoveryReclaimsLocksAndSubscriptions exercises spec.md §5/
// §8 scenario 6: a connection that dies mid-operation (its liveness flock
// drops without a graceful Close) has its held locks released and its
// subscriptions dropped the next time anyone scans for dead connections.
func TestConnectionRecoveryReclaimsLocksAndSubscriptions(t *testing.T) {
	m := newTestManager(t)
	registerModule(t, m, "m1")

	ctx := context.Background()
	dying, err := m.Connect(ctx)
	require.NoError(t, err)

	_, err = m.SubscribeChange(ctx, dying, "m1", registry.Running, "", 0, 0)
	require.NoError(t, err)

	_, err = m.EditCommit(ctx, dying, registry.Running, CommitRequest{
		Modules: []string{"m1"},
		Edit: &datatree.Diff{Entries: []datatree.DiffEntry{
			{Path: "/m1:root/a", Op: datatree.OpCreate, Value: "1"},
		}},
	})
	require.NoError(t, err)

	// Grab a lock and never release it, simulating a crash mid-write.
	set, err := m.resolver.Close(registry.Running, []string{"m1"}, 0)
	require.NoError(t, err)
	require.NoError(t, m.LockSet(ctx, dying, set, lock.Write, ""))
	require.NoError(t, dying.SimulateCrash())

	mod, err := m.Registry().FindModule("m1")
	require.NoError(t, err)
	require.Len(t, mod.Descriptor.ChangeSubs[registry.Running], 1)

	require.NoError(t, m.reclaimDead(ctx))

	mod, err = m.Registry().FindModule("m1")
	require.NoError(t, err)
	assert.Empty(t, mod.Descriptor.ChangeSubs[registry.Running])

	// The lock dying held must now be free: a fresh connection can take it
	// immediately.
	other, err := m.Connect(ctx)
	require.NoError(t, err)
	defer other.Close()
	otherSet, err := m.resolver.Close(registry.Running, []string{"m1"}, 0)
	require.NoError(t, err)
	require.NoError(t, m.LockSet(ctx, other, otherSet, lock.Write, ""))
	m.UnlockSet(other, otherSet)

	m.mu.Lock()
	_, stillTracked := m.conns[dying.CID]
	m.mu.Unlock()
	assert.False(t, stillTracked)
}
