package modinfo

import (
	"sort"

	"github.com/cuemby/sysrepod/internal/registry"
)

// WantDeps selects which dependency arrays AddMod follows when it recurses
// (spec.md §4.3).
type WantDeps uint8

const (
	WantDep WantDeps = 1 << iota
	WantInvDep
)

func (w WantDeps) has(flag WantDeps) bool { return w&flag != 0 }

// Resolver closes a seed module set under data-deps and/or inverse-data-
// deps, the dependency-closure algorithm spec.md §4.3 describes as
// add_mod, wrapping registry.Registry lookups.
type Resolver struct {
	reg *registry.Registry
}

// NewResolver builds a resolver backed by reg.
func NewResolver(reg *registry.Registry) *Resolver {
	return &Resolver{reg: reg}
}

// AddMod implements add_mod(set, module, kind, want_deps):
//
//   - If module is already present with an equal or stronger kind, no-op.
//   - If present with a weaker kind, upgrade it in place.
//   - If new, append it with kind.
//   - If want_deps includes WantDep and the (possibly-upgraded) kind is at
//     least INV_DEP, recurse through data-deps (skipping INSTID deps,
//     resolved later against actual data).
//   - If want_deps includes WantInvDep and the kind is REQ, recurse
//     through inverse-data-deps.
func (r *Resolver) AddMod(set *Set, mod *registry.Module, kind registry.Kind, want WantDeps) error {
	entry := set.find(mod)
	if entry != nil {
		if !kind.Stronger(entry.Kind()) {
			return nil
		}
		r.setKind(entry, kind)
	} else {
		entry = &Entry{Module: mod}
		r.setKind(entry, kind)
		set.Entries = append(set.Entries, entry)
	}

	effectiveKind := entry.Kind()

	if want.has(WantDep) && (effectiveKind == registry.InvDep || effectiveKind == registry.Req) {
		for _, dep := range mod.Descriptor.DataDeps {
			if dep.Tag == registry.InstIDDep {
				continue
			}
			depMod, err := r.reg.FindModule(dep.Module)
			if err != nil {
				return err
			}
			if err := r.AddMod(set, depMod, registry.Dep, want); err != nil {
				return err
			}
		}
	}

	if want.has(WantInvDep) && effectiveKind == registry.Req {
		for _, dep := range mod.Descriptor.InvDataDeps {
			if dep.Tag == registry.InstIDDep {
				continue
			}
			depMod, err := r.reg.FindModule(dep.Module)
			if err != nil {
				return err
			}
			if err := r.AddMod(set, depMod, registry.InvDep, want); err != nil {
				return err
			}
		}
	}

	return nil
}

func (r *Resolver) setKind(e *Entry, kind registry.Kind) {
	switch kind {
	case registry.Req:
		e.State |= BitReq
	case registry.InvDep:
		e.State |= BitInvDep
	case registry.Dep:
		e.State |= BitDep
	}
}

// Close builds a modinfo set from a seed list of module names, each
// requested with kind registry.Req, then stable-sorts the closed set by
// SHM slot (the canonical lock order, spec.md §4.3).
func (r *Resolver) Close(primary registry.Datastore, seedNames []string, want WantDeps) (*Set, error) {
	set := NewSet(primary)
	for _, name := range seedNames {
		mod, err := r.reg.FindModule(name)
		if err != nil {
			return nil, err
		}
		if err := r.AddMod(set, mod, registry.Req, want); err != nil {
			return nil, err
		}
	}
	sort.Stable(set)
	return set, nil
}
