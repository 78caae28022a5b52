package registry

import (
	"path/filepath"
	"testing"

	"github.com/cuemby/sysrepod/internal/errs"
	"github.com/cuemby/sysrepod/internal/shm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	a, err := shm.OpenArena(filepath.Join(dir, "main"), filepath.Join(dir, "ext"), 16)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return New(a)
}

func TestAddAndFindModule(t *testing.T) {
	r := newTestRegistry(t)
	mod, err := r.AddModule("ietf-interfaces", "2018-02-20")
	require.NoError(t, err)
	assert.Equal(t, "ietf-interfaces", mod.Descriptor.Name)
	for _, l := range mod.Locks {
		assert.NotNil(t, l)
	}

	found, err := r.FindModule("ietf-interfaces")
	require.NoError(t, err)
	assert.Equal(t, mod.Slot, found.Slot)
}

func TestAddModuleDuplicateIsExists(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.AddModule("m", "")
	require.NoError(t, err)
	_, err = r.AddModule("m", "")
	require.Error(t, err)
	assert.Equal(t, errs.Exists, errs.KindOf(err))
}

func TestFindModuleMissingIsNotFound(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.FindModule("missing")
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

func TestRemoveModuleFreesSlotForReuse(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.AddModule("m", "")
	require.NoError(t, err)
	require.NoError(t, r.RemoveModule("m"))

	_, err = r.FindModule("m")
	assert.Error(t, err)

	_, err = r.AddModule("m", "")
	require.NoError(t, err)
}

func TestMutateDescriptorPersistsToArena(t *testing.T) {
	r := newTestRegistry(t)
	mod, err := r.AddModule("m", "")
	require.NoError(t, err)

	require.NoError(t, r.MutateDescriptor(mod, func(d *Descriptor) {
		d.Ver = 7
		d.DataDeps = append(d.DataDeps, Dependency{Tag: RefDep, Module: "other", XPath: "/other:leaf"})
	}))

	var out Descriptor
	require.NoError(t, r.arena.GetModule(mod.Slot, &out))
	assert.Equal(t, uint64(7), out.Ver)
	require.Len(t, out.DataDeps, 1)
	assert.Equal(t, "other", out.DataDeps[0].Module)
}

func TestSortBySlotStable(t *testing.T) {
	mods := []*Module{
		{Slot: 3, Descriptor: &Descriptor{Name: "c"}},
		{Slot: 1, Descriptor: &Descriptor{Name: "a"}},
		{Slot: 2, Descriptor: &Descriptor{Name: "b"}},
	}
	SortBySlot(mods)
	assert.Equal(t, []string{"a", "b", "c"}, []string{mods[0].Descriptor.Name, mods[1].Descriptor.Name, mods[2].Descriptor.Name})
}

func TestKindStrongerOrdering(t *testing.T) {
	assert.True(t, Req.Stronger(InvDep))
	assert.True(t, InvDep.Stronger(Dep))
	assert.False(t, Dep.Stronger(Req))
}

func TestRPCSubscriptionOrderPriorityThenID(t *testing.T) {
	subs := []Subscription{
		{SubID: 2, Priority: 5},
		{SubID: 1, Priority: 10},
		{SubID: 3, Priority: 10},
	}
	RPCSubscriptionOrder(subs)
	assert.Equal(t, []uint32{1, 3, 2}, []uint32{subs[0].SubID, subs[1].SubID, subs[2].SubID})
}

func TestSelectRPCSubscriptionNoneMatch(t *testing.T) {
	_, ok := SelectRPCSubscription(nil)
	assert.False(t, ok)
}
