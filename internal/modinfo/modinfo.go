// Package modinfo implements the per-operation module-info working set
// (spec.md §3, §4.3-§4.5): an ordered set of modules pulled in for one
// request, the dependency-closure resolver that builds it, and the
// canonical lock order it is sorted into.
package modinfo

import (
	"github.com/cuemby/sysrepod/internal/registry"
)

// StateBits are the per-entry flags spec.md §3/§2.4 describes.
type StateBits uint8

const (
	BitReq StateBits = 1 << iota
	BitDep
	BitInvDep
	BitChanged
	BitData
)

func (b StateBits) Has(flag StateBits) bool { return b&flag != 0 }

// Entry is one {module descriptor, state bits, loaded data pointer} tuple
// (spec.md §3). DataTree is left as `any` here; internal/datatree defines
// the concrete trait this field is populated with.
type Entry struct {
	Module     *registry.Module
	State      StateBits
	DataLoaded bool
	Data       any
	Diff       any
}

// Kind returns the strongest state bit's registry.Kind equivalent, for
// callers (e.g. the resolver) that need to compare against a requested
// strength.
func (e *Entry) Kind() registry.Kind {
	switch {
	case e.State.Has(BitReq):
		return registry.Req
	case e.State.Has(BitInvDep):
		return registry.InvDep
	default:
		return registry.Dep
	}
}

// Set is the modinfo working set for one operation: an ordered, duplicate-
// free array of entries plus the operation's primary/secondary datastore
// ids and aggregate data/diff trees (spec.md §3).
type Set struct {
	Entries []*Entry

	PrimaryDS   registry.Datastore
	SecondaryDS registry.Datastore // used by operational requests; empty otherwise

	DataCached bool
}

// NewSet starts an empty working set for primary (and, for operational
// requests, secondary) datastore ds.
func NewSet(primary registry.Datastore) *Set {
	return &Set{PrimaryDS: primary}
}

// find returns the existing entry for mod, or nil.
func (s *Set) find(mod *registry.Module) *Entry {
	for _, e := range s.Entries {
		if e.Module == mod {
			return e
		}
	}
	return nil
}

// FindByName returns the entry for the module named name, or nil if the
// set has no such entry. Used by callers (internal/conn's edit/diff
// orchestration) that only have a module name, e.g. parsed from a diff
// entry's path.
func (s *Set) FindByName(name string) *Entry {
	for _, e := range s.Entries {
		if e.Module.Descriptor.Name == name {
			return e
		}
	}
	return nil
}

// Len, Swap, Less implement sort.Interface so Set can be sorted in place
// by SortBySlot below without an intermediate slice of *Module.
func (s *Set) Len() int      { return len(s.Entries) }
func (s *Set) Swap(i, j int) { s.Entries[i], s.Entries[j] = s.Entries[j], s.Entries[i] }
func (s *Set) Less(i, j int) bool {
	return s.Entries[i].Module.Slot < s.Entries[j].Module.Slot
}
