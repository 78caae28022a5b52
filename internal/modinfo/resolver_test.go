package modinfo

import (
	"path/filepath"
	"testing"

	"github.com/cuemby/sysrepod/internal/registry"
	"github.com/cuemby/sysrepod/internal/shm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReg(t *testing.T) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	a, err := shm.OpenArena(filepath.Join(dir, "main"), filepath.Join(dir, "ext"), 16)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return registry.New(a)
}

// a -> b -> c via data-deps; d has an inverse-data-dep pointing back at a.
func wireModules(t *testing.T, reg *registry.Registry) {
	t.Helper()
	a, err := reg.AddModule("a", "")
	require.NoError(t, err)
	b, err := reg.AddModule("b", "")
	require.NoError(t, err)
	c, err := reg.AddModule("c", "")
	require.NoError(t, err)
	d, err := reg.AddModule("d", "")
	require.NoError(t, err)

	require.NoError(t, reg.MutateDescriptor(a, func(desc *registry.Descriptor) {
		desc.DataDeps = append(desc.DataDeps, registry.Dependency{Tag: registry.RefDep, Module: "b", XPath: "/b:x"})
		desc.InvDataDeps = append(desc.InvDataDeps, registry.Dependency{Tag: registry.RefDep, Module: "d", XPath: "/d:y"})
	}))
	require.NoError(t, reg.MutateDescriptor(b, func(desc *registry.Descriptor) {
		desc.DataDeps = append(desc.DataDeps, registry.Dependency{Tag: registry.RefDep, Module: "c", XPath: "/c:z"})
	}))
	_ = c
	_ = d
}

func TestCloseFollowsDataDeps(t *testing.T) {
	reg := newTestReg(t)
	wireModules(t, reg)
	r := NewResolver(reg)

	set, err := r.Close(registry.Running, []string{"a"}, WantDep)
	require.NoError(t, err)

	names := entryNames(set)
	// b is pulled in as a DEP, and a DEP's own data-deps are not followed,
	// so c stays out.
	assert.ElementsMatch(t, []string{"a", "b"}, names)

	for _, e := range set.Entries {
		switch e.Module.Descriptor.Name {
		case "a":
			assert.Equal(t, registry.Req, e.Kind())
		case "b":
			assert.Equal(t, registry.Dep, e.Kind())
		}
	}
}

func TestCloseFollowsInverseDataDepsOnlyForREQ(t *testing.T) {
	reg := newTestReg(t)
	wireModules(t, reg)
	r := NewResolver(reg)

	set, err := r.Close(registry.Running, []string{"a"}, WantInvDep)
	require.NoError(t, err)

	names := entryNames(set)
	assert.ElementsMatch(t, []string{"a", "d"}, names)
}

func TestAddModNoOpWhenAlreadyStrongerPresent(t *testing.T) {
	reg := newTestReg(t)
	mod, err := reg.AddModule("m", "")
	require.NoError(t, err)
	r := NewResolver(reg)

	set := NewSet(registry.Running)
	require.NoError(t, r.AddMod(set, mod, registry.Req, 0))
	require.NoError(t, r.AddMod(set, mod, registry.Dep, 0))

	require.Len(t, set.Entries, 1)
	assert.Equal(t, registry.Req, set.Entries[0].Kind())
}

func TestAddModUpgradesWeakerKind(t *testing.T) {
	reg := newTestReg(t)
	mod, err := reg.AddModule("m", "")
	require.NoError(t, err)
	r := NewResolver(reg)

	set := NewSet(registry.Running)
	require.NoError(t, r.AddMod(set, mod, registry.Dep, 0))
	require.NoError(t, r.AddMod(set, mod, registry.Req, 0))

	require.Len(t, set.Entries, 1)
	assert.Equal(t, registry.Req, set.Entries[0].Kind())
}

func TestCloseSortsBySlot(t *testing.T) {
	reg := newTestReg(t)
	wireModules(t, reg)
	r := NewResolver(reg)

	set, err := r.Close(registry.Running, []string{"a"}, WantDep)
	require.NoError(t, err)

	for i := 1; i < len(set.Entries); i++ {
		assert.LessOrEqual(t, set.Entries[i-1].Module.Slot, set.Entries[i].Module.Slot)
	}
}

func TestCloseSkipsInstIDDeps(t *testing.T) {
	reg := newTestReg(t)
	a, err := reg.AddModule("a", "")
	require.NoError(t, err)
	require.NoError(t, reg.MutateDescriptor(a, func(desc *registry.Descriptor) {
		desc.DataDeps = append(desc.DataDeps, registry.Dependency{Tag: registry.InstIDDep, Module: "nonexistent", XPath: "/x"})
	}))
	r := NewResolver(reg)

	set, err := r.Close(registry.Running, []string{"a"}, WantDep)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a"}, entryNames(set))
}

func entryNames(set *Set) []string {
	var out []string
	for _, e := range set.Entries {
		out = append(out, e.Module.Descriptor.Name)
	}
	return out
}
