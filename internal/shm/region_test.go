package shm

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRegionCreatesAndGrows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main")
	r, err := OpenRegion(path, 64)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 64, r.Len())

	require.NoError(t, r.Grow(128))
	assert.Equal(t, 128, r.Len())
}

func TestRegionViewSeesWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main")
	r, err := OpenRegion(path, 16)
	require.NoError(t, err)
	defer r.Close()

	r.View(func(data []byte) {
		copy(data, []byte("hello"))
	})
	r.View(func(data []byte) {
		assert.Equal(t, "hello", string(data[:5]))
	})
}

func TestRegionReopenPreservesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main")
	r, err := OpenRegion(path, 16)
	require.NoError(t, err)
	r.View(func(data []byte) { copy(data, []byte("persist!")) })
	require.NoError(t, r.Close())

	r2, err := OpenRegion(path, 16)
	require.NoError(t, err)
	defer r2.Close()
	r2.View(func(data []byte) {
		assert.Equal(t, "persist!", string(data[:8]))
	})
}

func TestRegionSyncNoOpWithoutMapping(t *testing.T) {
	r := &Region{}
	assert.NoError(t, r.Sync())
}
