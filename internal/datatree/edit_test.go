package datatree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitByModule(t *testing.T) {
	edit := &Diff{Entries: []DiffEntry{
		{Path: "/a:root/x", Op: OpReplace, Value: "1"},
		{Path: "/b:root/y", Op: OpCreate, Value: "2"},
		{Path: "/a:root/z", Op: OpDelete},
	}}
	split := SplitByModule(edit)
	require.Len(t, split, 2)
	assert.Len(t, split["a"].Entries, 2)
	assert.Len(t, split["b"].Entries, 1)
}

func TestRejectsInternalModule(t *testing.T) {
	edit := &Diff{Entries: []DiffEntry{{Path: "/sysrepo:x", Op: OpReplace}}}
	assert.True(t, RejectsInternalModule(edit, "sysrepo"))

	edit2 := &Diff{Entries: []DiffEntry{{Path: "/a:x", Op: OpReplace}}}
	assert.False(t, RejectsInternalModule(edit2, "sysrepo"))
}

func TestValidateLeafrefs(t *testing.T) {
	combined := NewTree()
	require.NoError(t, Apply(combined, &Diff{Entries: []DiffEntry{{Path: "/a:id", Op: OpCreate, Value: "1"}}}))

	refs := []LeafrefRef{{SourceModule: "b", TargetModule: "a", TargetXPath: "/a:id"}}
	assert.NoError(t, ValidateLeafrefs(combined, refs))

	// Deleting the referenced leaf must surface as a validation failure.
	require.NoError(t, Apply(combined, &Diff{Entries: []DiffEntry{{Path: "/a:id", Op: OpDelete}}}))
	assert.Error(t, ValidateLeafrefs(combined, refs))
}

func TestAssertParentExists(t *testing.T) {
	oper := buildTree(t, "if", "interfaces", "")
	assert.NoError(t, AssertParentExists(oper, "/if:interfaces"))
	assert.Error(t, AssertParentExists(oper, "/if:missing"))
}
