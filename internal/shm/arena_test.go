package shm

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDescriptor struct {
	Name string `json:"name"`
	Ver  int    `json:"ver"`
}

func newTestArena(t *testing.T, capacity uint32) *Arena {
	t.Helper()
	dir := t.TempDir()
	a, err := OpenArena(filepath.Join(dir, "main"), filepath.Join(dir, "ext"), capacity)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArenaCountersMonotonic(t *testing.T) {
	a := newTestArena(t, 4)
	assert.Equal(t, uint32(1), a.NextConnID())
	assert.Equal(t, uint32(2), a.NextConnID())
	assert.Equal(t, uint32(1), a.NextSessionID())
	assert.Equal(t, uint32(1), a.NextSubID())
	assert.Equal(t, uint32(1), a.NextEvpipeID())
}

func TestArenaPutGetModule(t *testing.T) {
	a := newTestArena(t, 4)
	slot, err := a.PutModule(testDescriptor{Name: "ietf-interfaces", Ver: 1})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), a.ModCount())

	var out testDescriptor
	require.NoError(t, a.GetModule(slot, &out))
	assert.Equal(t, "ietf-interfaces", out.Name)
	assert.Equal(t, 1, out.Ver)
}

func TestArenaPutModuleAtBumpsVersion(t *testing.T) {
	a := newTestArena(t, 4)
	slot, err := a.PutModule(testDescriptor{Name: "m", Ver: 1})
	require.NoError(t, err)

	require.NoError(t, a.PutModuleAt(slot, testDescriptor{Name: "m", Ver: 2}))

	var out testDescriptor
	require.NoError(t, a.GetModule(slot, &out))
	assert.Equal(t, 2, out.Ver)
}

func TestArenaCapacityExhausted(t *testing.T) {
	a := newTestArena(t, 2)
	_, err := a.PutModule(testDescriptor{Name: "a"})
	require.NoError(t, err)
	_, err = a.PutModule(testDescriptor{Name: "b"})
	require.NoError(t, err)

	_, err = a.PutModule(testDescriptor{Name: "c"})
	assert.Error(t, err)
}

func TestArenaRemoveModuleFreesSlot(t *testing.T) {
	a := newTestArena(t, 2)
	slot, err := a.PutModule(testDescriptor{Name: "a"})
	require.NoError(t, err)
	a.RemoveModule(slot)
	assert.Equal(t, uint32(0), a.ModCount())

	_, err = a.PutModule(testDescriptor{Name: "b"})
	require.NoError(t, err)
}

func TestArenaSlotsReflectsOccupied(t *testing.T) {
	a := newTestArena(t, 4)
	s1, err := a.PutModule(testDescriptor{Name: "a"})
	require.NoError(t, err)
	s2, err := a.PutModule(testDescriptor{Name: "b"})
	require.NoError(t, err)

	slots := a.Slots()
	assert.ElementsMatch(t, []uint32{s1, s2}, slots)
}

func TestArenaReopenPreservesCapacityAndCounters(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "main")
	extPath := filepath.Join(dir, "ext")

	a1, err := OpenArena(mainPath, extPath, 8)
	require.NoError(t, err)
	a1.NextConnID()
	a1.NextConnID()
	_, err = a1.PutModule(testDescriptor{Name: "a"})
	require.NoError(t, err)
	require.NoError(t, a1.Close())

	a2, err := OpenArena(mainPath, extPath, 8)
	require.NoError(t, err)
	defer a2.Close()
	assert.Equal(t, uint32(8), a2.Capacity())
	assert.Equal(t, uint32(1), a2.ModCount())
	assert.Equal(t, uint32(3), a2.NextConnID())
}
