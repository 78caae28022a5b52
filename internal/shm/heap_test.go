package shm

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHeap(t *testing.T) *Heap {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ext")
	r, err := OpenRegion(path, heapHeaderSize)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return NewHeap(r, "test")
}

func TestHeapAllocAndGrow(t *testing.T) {
	h := newTestHeap(t)
	off, err := h.Alloc(8)
	require.NoError(t, err)
	assert.Equal(t, uint32(heapHeaderSize), off)

	off2, err := h.Alloc(1024)
	require.NoError(t, err)
	assert.Greater(t, off2, off)
}

func TestHeapPutGetRoundTrip(t *testing.T) {
	h := newTestHeap(t)
	off, err := h.Alloc(64)
	require.NoError(t, err)

	type payload struct {
		Name string
		Ver  int
	}
	in := payload{Name: "if:ietf-interfaces", Ver: 3}
	_, err = h.Put(off, in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, h.Get(off, &out))
	assert.Equal(t, in, out)
}

func TestHeapPutReallocatesWhenTooBig(t *testing.T) {
	h := newTestHeap(t)
	off, err := h.Alloc(4)
	require.NoError(t, err)

	big := make([]byte, 200)
	for i := range big {
		big[i] = 'a'
	}
	newOff, err := h.Put(off, string(big))
	require.NoError(t, err)
	assert.NotEqual(t, off, newOff)
	assert.Greater(t, h.wasted(), uint32(0))

	var out string
	require.NoError(t, h.Get(newOff, &out))
	assert.Equal(t, string(big), out)
}

func TestHeapFreeIncrementsWasted(t *testing.T) {
	h := newTestHeap(t)
	off, err := h.Alloc(32)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), h.wasted())

	h.Free(off)
	assert.Greater(t, h.wasted(), uint32(0))
}

func TestHeapDefragResetsWasted(t *testing.T) {
	h := newTestHeap(t)
	off, err := h.Alloc(32)
	require.NoError(t, err)
	h.Free(off)
	require.Greater(t, h.wasted(), uint32(0))

	h.Defrag()
	assert.Equal(t, uint32(0), h.wasted())
}

func TestWastedRatio(t *testing.T) {
	h := newTestHeap(t)
	assert.Equal(t, float64(0), h.WastedRatio())
	off, err := h.Alloc(32)
	require.NoError(t, err)
	h.Free(off)
	assert.Greater(t, h.WastedRatio(), float64(0))
}
