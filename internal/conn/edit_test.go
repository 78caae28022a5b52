package conn

import (
	"testing"

	"github.com/cuemby/sysrepod/internal/datatree"
	"github.com/cuemby/sysrepod/internal/errs"
	"github.com/cuemby/sysrepod/internal/modinfo"
	"github.com/cuemby/sysrepod/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoadedSet(t *testing.T, reg *registry.Registry, names ...string) *modinfo.Set {
	t.Helper()
	set := modinfo.NewSet(registry.Running)
	for _, name := range names {
		mod, err := reg.FindModule(name)
		require.NoError(t, err)
		set.Entries = append(set.Entries, &modinfo.Entry{
			Module: mod,
			State:  modinfo.BitReq,
			Data:   datatree.NewTree(),
		})
	}
	return set
}

// TestEditApplyPartitionsByModuleAndRecordsDiff exercises spec.md §4.6's
// edit_apply: an edit spanning two modules lands each partition on the
// right entry and marks only the touched entries CHANGED.
func TestEditApplyPartitionsByModuleAndRecordsDiff(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.AddModule("a", "r1")
	require.NoError(t, err)
	_, err = reg.AddModule("b", "r1")
	require.NoError(t, err)

	set := newLoadedSet(t, reg, "a", "b")
	dt := datatree.NewMem()

	edit := &datatree.Diff{Entries: []datatree.DiffEntry{
		{Path: "/a:root/x", Op: datatree.OpCreate, Value: "1"},
		{Path: "/b:root/y", Op: datatree.OpCreate, Value: "2"},
	}}

	require.NoError(t, EditApply(set, dt, edit, true, ""))

	aEntry, bEntry := set.FindByName("a"), set.FindByName("b")
	assert.True(t, aEntry.State.Has(modinfo.BitChanged))
	assert.True(t, bEntry.State.Has(modinfo.BitChanged))

	aDiff := aEntry.Diff.(*datatree.Diff)
	require.Len(t, aDiff.Entries, 1)
	assert.Equal(t, "/a:root/x", aDiff.Entries[0].Path)

	aTree := aEntry.Data.(*datatree.Tree)
	nodes, err := dt.XPathEval(aTree, "/a:root/x")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "1", nodes[0].Value)
}

// TestEditApplyRejectsInternalModule exercises spec.md §4.6: an edit that
// touches the internal module is rejected outright, before any module's
// data is mutated.
func TestEditApplyRejectsInternalModule(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.AddModule("sysrepo-monitoring", "r1")
	require.NoError(t, err)

	set := newLoadedSet(t, reg, "sysrepo-monitoring")
	dt := datatree.NewMem()

	edit := &datatree.Diff{Entries: []datatree.DiffEntry{
		{Path: "/sysrepo-monitoring:root/x", Op: datatree.OpCreate, Value: "1"},
	}}

	err = EditApply(set, dt, edit, true, "sysrepo-monitoring")
	require.Error(t, err)
	assert.Equal(t, errs.InvalArg, errs.KindOf(err))
}

// TestEditApplyUnknownModuleFails exercises the NOT_FOUND edge case: an
// edit whose partition names a module that isn't part of this operation's
// modinfo set must fail rather than silently drop the partition.
func TestEditApplyUnknownModuleFails(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.AddModule("a", "r1")
	require.NoError(t, err)

	set := newLoadedSet(t, reg, "a")
	dt := datatree.NewMem()

	edit := &datatree.Diff{Entries: []datatree.DiffEntry{
		{Path: "/other:root/x", Op: datatree.OpCreate, Value: "1"},
	}}

	err = EditApply(set, dt, edit, true, "")
	require.Error(t, err)
	assert.Equal(t, errs.NotFound, errs.KindOf(err))
}

// TestValidateFailsOnBrokenLeafref exercises spec.md §8 scenario 3's
// validation half: a combined tree missing the leafref target fails
// validation with VALIDATION_FAILED carrying the source module's name.
func TestValidateFailsOnBrokenLeafref(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.AddModule("a", "r1")
	require.NoError(t, err)
	_, err = reg.AddModule("b", "r1")
	require.NoError(t, err)

	set := newLoadedSet(t, reg, "a", "b")
	// b has no /b:root/x node, so a's leafref into it is unsatisfied.
	leafrefs := map[string][]datatree.LeafrefRef{
		"a": {{SourceModule: "a", TargetModule: "b", TargetXPath: "/b:root/x"}},
	}

	err = Validate(set, modinfo.BitReq, leafrefs)
	require.Error(t, err)
	assert.Equal(t, errs.ValidationFailed, errs.KindOf(err))
	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "a", e.Path)
}

// TestAddDefaultsSkipsOperational exercises spec.md §4.6's add_defaults:
// operational has no defaults of its own, so the call is a no-op there.
func TestAddDefaultsSkipsOperational(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.AddModule("a", "r1")
	require.NoError(t, err)

	set := modinfo.NewSet(registry.Operational)
	mod, _ := reg.FindModule("a")
	set.Entries = append(set.Entries, &modinfo.Entry{Module: mod, State: modinfo.BitReq, Data: datatree.NewTree()})

	dt := datatree.NewMem()
	require.NoError(t, AddDefaults(set, dt, map[string]map[string]string{
		"a": {"/a:root/x": "default-value"},
	}))

	tree := set.Entries[0].Data.(*datatree.Tree)
	nodes, err := dt.XPathEval(tree, "/a:root/x")
	require.NoError(t, err)
	assert.Empty(t, nodes)
}
