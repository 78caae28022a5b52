package store

import (
	"fmt"

	"github.com/cuemby/sysrepod/internal/cache"
	"github.com/cuemby/sysrepod/internal/datatree"
	"github.com/cuemby/sysrepod/internal/metrics"
	"github.com/cuemby/sysrepod/internal/modinfo"
	"github.com/cuemby/sysrepod/internal/registry"
)

// LoadOpts mirrors the per-call option flags spec.md §4.8 recognizes.
type LoadOpts struct {
	NoStored     bool // skip applying the operational diff overlay
	CacheEnabled bool // this connection has the running-data cache enabled
}

// Load implements the datastore loader (spec.md §4.8): for every modinfo
// entry not yet marked DATA, materialize its data tree either from the
// running-data cache (when fresh) or from the persisted datastore file,
// then — for operational requests — apply the stored diff overlay.
//
// Internal-module synthesis (step 3's "inject internal modules' generated
// state") and provider callouts (step 4, the operational composer proper)
// are the caller's next steps (internal/registry's generator helpers and
// internal/compose, respectively) — this function only does the
// loader-owned part of §4.8.
func (s *Store) Load(reg *registry.Registry, rc *cache.Cache, dt datatree.DataTree, set *modinfo.Set, opts LoadOpts) error {
	baseDS := set.PrimaryDS
	if set.PrimaryDS == registry.Operational {
		// Operational has no data tree of its own (spec.md §3: "the
		// persisted file stores a diff tree, not a data tree") — its
		// base is running data, composed with the overlay below.
		baseDS = registry.Running
	}

	for _, entry := range set.Entries {
		if entry.DataLoaded {
			continue
		}
		name := entry.Module.Descriptor.Name
		timer := metrics.NewTimer()

		tree, err := s.loadBase(rc, dt, entry.Module, baseDS, opts.CacheEnabled)
		timer.ObserveDurationVec(metrics.LoadDurationSeconds, string(set.PrimaryDS))
		if err != nil {
			return fmt.Errorf("store: load %s from %s: %w", name, baseDS, err)
		}

		entry.Data = dt.Dup(tree, !set.DataCached)
		entry.DataLoaded = true
		entry.State |= modinfo.BitData

		if set.PrimaryDS == registry.Operational && !opts.NoStored {
			diff, err := s.LoadOperationalDiff(name)
			if err != nil {
				return fmt.Errorf("store: load operational diff %s: %w", name, err)
			}
			moduleTree := entry.Data.(*datatree.Tree)
			if err := dt.DiffApply(moduleTree, diff); err != nil {
				return fmt.Errorf("store: apply operational diff %s: %w", name, err)
			}
		}
	}
	return nil
}

// loadBase fetches module's data tree from ds, going through the running
// cache when ds is "running" and the connection has it enabled (spec.md
// §4.8 step 1/2), or reading the persisted file directly otherwise.
func (s *Store) loadBase(rc *cache.Cache, dt datatree.DataTree, mod *registry.Module, ds registry.Datastore, cacheEnabled bool) (*datatree.Tree, error) {
	name := mod.Descriptor.Name
	if ds == registry.Running && cacheEnabled && rc != nil {
		return rc.Ensure(name, mod.Descriptor.Ver, nil, func() (*datatree.Tree, error) {
			return s.LoadRunning(name)
		})
	}
	return s.loadByDatastore(ds, name)
}
