package perm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/sysrepod/internal/errs"
	"github.com/cuemby/sysrepod/internal/modinfo"
	"github.com/cuemby/sysrepod/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStartupFile(t *testing.T, repoPath, name string, perm os.FileMode) {
	t.Helper()
	dir := filepath.Join(repoPath, "data")
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := StartupPath(repoPath, name)
	require.NoError(t, os.WriteFile(path, []byte("{}"), perm))
}

func entryFor(name string, state modinfo.StateBits) *modinfo.Entry {
	return &modinfo.Entry{
		Module: &registry.Module{Descriptor: &registry.Descriptor{Name: name}},
		State:  state,
	}
}

func TestCheckAllowsReadableModules(t *testing.T) {
	repo := t.TempDir()
	writeStartupFile(t, repo, "a", 0644)

	set := &modinfo.Set{Entries: []*modinfo.Entry{entryFor("a", modinfo.BitReq)}}
	require.NoError(t, Check(set, repo, false, true))
	assert.Len(t, set.Entries, 1)
}

func TestCheckStrictFailsOnDenial(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root bypasses unix file permission checks")
	}
	repo := t.TempDir()
	writeStartupFile(t, repo, "a", 0000)

	set := &modinfo.Set{Entries: []*modinfo.Entry{entryFor("a", modinfo.BitReq)}}
	err := Check(set, repo, false, true)
	require.Error(t, err)
	assert.Equal(t, errs.Unauthorized, errs.KindOf(err))
}

func TestCheckNonStrictDropsDeniedEntry(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root bypasses unix file permission checks")
	}
	repo := t.TempDir()
	writeStartupFile(t, repo, "a", 0000)
	writeStartupFile(t, repo, "b", 0644)

	set := &modinfo.Set{Entries: []*modinfo.Entry{
		entryFor("a", modinfo.BitReq),
		entryFor("b", modinfo.BitReq),
	}}
	require.NoError(t, Check(set, repo, false, false))
	require.Len(t, set.Entries, 1)
	assert.Equal(t, "b", set.Entries[0].Module.Descriptor.Name)
}

func TestCheckIgnoresEntriesWithoutReqOrChanged(t *testing.T) {
	repo := t.TempDir()
	set := &modinfo.Set{Entries: []*modinfo.Entry{entryFor("a", modinfo.BitDep)}}
	require.NoError(t, Check(set, repo, false, true))
	assert.Len(t, set.Entries, 1)
}
