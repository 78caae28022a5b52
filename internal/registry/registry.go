package registry

import (
	"sort"
	"sync"

	"github.com/cuemby/sysrepod/internal/errs"
	"github.com/cuemby/sysrepod/internal/lock"
	"github.com/cuemby/sysrepod/internal/shm"
)

// Module is one registered module: its descriptor plus the process-local
// per-datastore RW locks spec.md §3 calls data_lock records.
type Module struct {
	Slot       uint32
	Descriptor *Descriptor
	Locks      [4]*lock.RWLock // indexed by AllDatastores position
}

// LockFor returns the data_lock for ds.
func (m *Module) LockFor(ds Datastore) *lock.RWLock {
	for i, d := range AllDatastores {
		if d == ds {
			return m.Locks[i]
		}
	}
	return nil
}

// Registry is the module lookup table: find_module(name); the
// dependency-closure resolver lives in internal/modinfo. It mirrors descriptor
// content into a shm.Arena so the same state is visible to the
// introspection service, while per-datastore locks stay purely
// in-process.
type Registry struct {
	arena *shm.Arena

	mu     sync.RWMutex
	byName map[string]*Module
}

// New wraps arena with an empty registry.
func New(arena *shm.Arena) *Registry {
	return &Registry{arena: arena, byName: make(map[string]*Module)}
}

// AddModule registers a new module with no dependencies or subscriptions
// yet. Returns EXISTS if already registered.
func (r *Registry) AddModule(name, revision string) (*Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return nil, errs.New(errs.Exists, "module %s is already registered", name).WithPath(name)
	}

	desc := newDescriptor(name, revision)
	slot, err := r.arena.PutModule(desc)
	if err != nil {
		return nil, errs.Wrap(errs.Sys, err, "shm: register module %s", name)
	}

	mod := &Module{Slot: slot, Descriptor: desc}
	for i := range mod.Locks {
		mod.Locks[i] = lock.New()
	}
	r.byName[name] = mod
	return mod, nil
}

// RemoveModule unregisters name, freeing its SHM slot.
func (r *Registry) RemoveModule(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	mod, ok := r.byName[name]
	if !ok {
		return errs.New(errs.NotFound, "module %s is not registered", name).WithPath(name)
	}
	r.arena.RemoveModule(mod.Slot)
	delete(r.byName, name)
	return nil
}

// FindModule is find_module(name) (spec.md §4.3): a map lookup, the Go
// equivalent of the spec's "linear or hash-indexed scan" — n stays small
// (10²-10³ modules) so either is fine, and a map gets us O(1) for free.
func (r *Registry) FindModule(name string) (*Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mod, ok := r.byName[name]
	if !ok {
		return nil, errs.New(errs.NotFound, "module %s is not registered", name).WithPath(name)
	}
	return mod, nil
}

// Slot addresses sort ascending by registration slot index, which is the
// canonical SHM-offset stand-in for lock ordering (spec.md §4.3: "the
// canonical lock order" is "stable-sort ... by descriptor address in
// SHM" — slot index plays that role here since descriptor content itself
// now lives at a JSON offset chosen by the allocator, not a fixed stride).
func (r *Registry) slotOf(name string) uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if mod, ok := r.byName[name]; ok {
		return mod.Slot
	}
	return ^uint32(0)
}

// All returns every registered module, unordered.
func (r *Registry) All() []*Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Module, 0, len(r.byName))
	for _, m := range r.byName {
		out = append(out, m)
	}
	return out
}

// SortBySlot stable-sorts modules ascending by SHM slot — the canonical
// lock order (spec.md §4.3).
func SortBySlot(mods []*Module) {
	sort.SliceStable(mods, func(i, j int) bool { return mods[i].Slot < mods[j].Slot })
}

// persist writes mod.Descriptor back into the arena after a mutation, so
// shm-level introspection reflects it.
func (r *Registry) persist(mod *Module) error {
	if err := r.arena.PutModuleAt(mod.Slot, mod.Descriptor); err != nil {
		return errs.Wrap(errs.Sys, err, "shm: persist descriptor for %s", mod.Descriptor.Name)
	}
	return nil
}

// MutateDescriptor runs fn with exclusive access to mod's descriptor and
// persists the result. Callers are expected to already hold whatever
// higher-level lock spec.md requires for the mutation they're making
// (e.g. the SHM WRITE lock for subscription add/remove, per §5).
func (r *Registry) MutateDescriptor(mod *Module, fn func(*Descriptor)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(mod.Descriptor)
	return r.persist(mod)
}
