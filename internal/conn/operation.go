package conn

import (
	"context"
	"time"

	"github.com/cuemby/sysrepod/internal/compose"
	"github.com/cuemby/sysrepod/internal/datatree"
	"github.com/cuemby/sysrepod/internal/errs"
	"github.com/cuemby/sysrepod/internal/lock"
	"github.com/cuemby/sysrepod/internal/modinfo"
	"github.com/cuemby/sysrepod/internal/notify"
	"github.com/cuemby/sysrepod/internal/perm"
	"github.com/cuemby/sysrepod/internal/registry"
	"github.com/cuemby/sysrepod/internal/store"
)

// GetRequest is one read/operational-composition call's inputs.
type GetRequest struct {
	// Modules seeds the dependency closure (spec.md §4.3); typically the
	// single module a caller's request XPath addresses.
	Modules []string
	// XPath is the caller's request XPath, used by operational's static
	// predicate pruning (spec.md §4.9.D) and passed through to providers.
	XPath string
	Opts  compose.Opts
}

// Get implements the read path: dependency closure with WantDep|WantInvDep
// (so leafref targets load read-only alongside the requested modules,
// spec.md §8 scenario 2), permission filtering, READ-all locking (plus a
// secondary READ lock on running for operational, spec.md §4.5), the
// datastore loader, and — for ds == operational — the full composer
// pipeline (spec.md §4.8 step 3, §4.9).
func (m *Manager) Get(ctx context.Context, c *Connection, ds registry.Datastore, req GetRequest) (*datatree.Tree, error) {
	set, err := m.resolver.Close(ds, req.Modules, modinfo.WantDep|modinfo.WantInvDep)
	if err != nil {
		return nil, err
	}
	if ds == registry.Operational {
		set.SecondaryDS = registry.Running
	}

	if err := perm.Check(set, m.cfg.RepoPath, false, c.Strict); err != nil {
		return nil, err
	}

	if err := m.LockSet(ctx, c, set, lock.Read, ""); err != nil {
		return nil, err
	}
	defer m.UnlockSet(c, set)

	loadOpts := store.LoadOpts{CacheEnabled: c.CacheEnabled && (ds == registry.Running || ds == registry.Operational)}
	if ds == registry.Operational {
		// The composer, not the loader, owns applying the stored overlay
		// for operational requests (spec.md §4.9.B) — loading it here too
		// would be a harmless-but-redundant double apply; skip it.
		loadOpts.NoStored = true
	} else {
		loadOpts.NoStored = req.Opts.Has(compose.NoStored)
	}

	if err := m.st.Load(m.reg, m.rc, m.dt, set, loadOpts); err != nil {
		return nil, err
	}

	out := datatree.NewTree()
	for _, entry := range set.Entries {
		if !entry.State.Has(modinfo.BitReq) {
			continue
		}
		tree, _ := entry.Data.(*datatree.Tree)

		if ds != registry.Operational {
			if err := m.dt.Merge(out, nonNilTree(tree)); err != nil {
				return nil, errs.Wrap(errs.Internal, err, "get: merge module %s", entry.Module.Descriptor.Name)
			}
			continue
		}

		diff, err := m.st.LoadOperationalDiff(entry.Module.Descriptor.Name)
		if err != nil {
			return nil, err
		}
		composed, err := m.composer.Compose(ctx, compose.Request{
			Module:       entry.Module,
			Config:       tree,
			StoredDiff:   diff,
			RequestXPath: req.XPath,
			CID:          c.CID,
			SID:          c.SID,
			Policy:       datatree.DefaultMergePolicy,
			Opts:         req.Opts,
		})
		if err != nil {
			return nil, err
		}
		if err := m.dt.Merge(out, composed); err != nil {
			return nil, errs.Wrap(errs.Internal, err, "get: merge composed module %s", entry.Module.Descriptor.Name)
		}
	}
	return out, nil
}

func nonNilTree(t *datatree.Tree) *datatree.Tree {
	if t == nil {
		return datatree.NewTree()
	}
	return t
}

// CommitRequest is one write call's inputs.
type CommitRequest struct {
	Modules        []string
	Edit           *datatree.Diff
	Leafrefs       map[string][]datatree.LeafrefRef
	Defaults       map[string]map[string]string
	InternalModule string
}

// EditCommit implements the write path: dependency closure with
// WantDep|WantInvDep (pulling in both forward deps to validate, read-only,
// and inverse-deps to revalidate, spec.md §8 scenario 3), permission
// filtering in write mode, WRITE-all locking in canonical order, load,
// edit_apply, validate the REQ|INV_DEP subset, add_defaults, commit to
// storage, and finally the change-notification generator (spec.md §4.10)
// for conventional datastores.
//
// On any failure before the storage commit, the modinfo set's locks are
// released and no file is touched — spec.md §8 scenario 3's "both files
// are unchanged" guarantee.
func (m *Manager) EditCommit(ctx context.Context, c *Connection, ds registry.Datastore, req CommitRequest) (*notify.Notification, error) {
	set, err := m.resolver.Close(ds, req.Modules, modinfo.WantDep|modinfo.WantInvDep)
	if err != nil {
		return nil, err
	}

	if err := perm.Check(set, m.cfg.RepoPath, true, c.Strict); err != nil {
		return nil, err
	}

	if err := m.LockSet(ctx, c, set, lock.Write, ""); err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			m.UnlockSet(c, set)
		}
	}()

	if err := m.st.Load(m.reg, m.rc, m.dt, set, store.LoadOpts{CacheEnabled: c.CacheEnabled && ds == registry.Running}); err != nil {
		return nil, err
	}

	if err := EditApply(set, m.dt, req.Edit, true, req.InternalModule); err != nil {
		return nil, err
	}

	if err := Validate(set, modinfo.BitReq|modinfo.BitInvDep, req.Leafrefs); err != nil {
		return nil, err
	}

	if err := AddDefaults(set, m.dt, req.Defaults); err != nil {
		return nil, err
	}

	if err := m.st.Commit(m.reg, m.rc, m.dt, set, c.CacheEnabled, datatree.DefaultMergePolicy, c.CID); err != nil {
		return nil, err
	}

	m.UnlockSet(c, set)
	committed = true

	if ds != registry.Startup && ds != registry.Running {
		return nil, nil
	}
	n, err := m.emitChangeNotifications(set, ds, c.CID, time.Now())
	return n, err
}

// emitChangeNotifications implements the change-notification generator
// (spec.md §4.10) for every CHANGED module in set: one notification per
// module, delivered to that module's notification subscribers. A
// delivery failure for one module does not stop the others; all such
// failures are merged via errs.Merge and surfaced alongside the first
// successfully generated notification (spec.md §7: "commit succeeds but
// change-notification fails ... both are merged").
func (m *Manager) emitChangeNotifications(set *modinfo.Set, ds registry.Datastore, cid uint32, now time.Time) (*notify.Notification, error) {
	var first *notify.Notification
	var merr error

	for _, entry := range set.Entries {
		if !entry.State.Has(modinfo.BitChanged) {
			continue
		}
		diff, _ := entry.Diff.(*datatree.Diff)
		if diff.Empty() {
			continue
		}
		n := notify.Generate(entry.Module.Descriptor.Name, ds, cid, diff, now)
		if first == nil {
			first = n
		}
		if err := notify.Deliver(entry.Module, n, m.cfg.RepoPath, m.st); err != nil {
			merr = errs.Merge(merr, err)
		}
	}
	return first, merr
}
