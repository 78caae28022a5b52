package rendezvous

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/sysrepod/internal/datatree"
	"github.com/cuemby/sysrepod/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperNotifySuccess(t *testing.T) {
	r := NewRegistry()
	want := datatree.NewTree()
	want.ModuleRoot("if").Value = "up"
	r.Register(7, func(ctx context.Context, req Request) (*datatree.Tree, error) {
		return want, nil
	})

	got, err := r.OperNotify(context.Background(), t.TempDir(), Request{EvpipeNum: 7, SubXPath: "/if:interfaces"}, time.Second)
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestOperNotifyTimeoutIsCallbackFailed(t *testing.T) {
	r := NewRegistry()
	r.Register(1, func(ctx context.Context, req Request) (*datatree.Tree, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := r.OperNotify(context.Background(), t.TempDir(), Request{EvpipeNum: 1}, 10*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, errs.CallbackFailed, errs.KindOf(err))
}

func TestOperNotifyMissingProviderIsCallbackFailed(t *testing.T) {
	r := NewRegistry()
	_, err := r.OperNotify(context.Background(), t.TempDir(), Request{EvpipeNum: 99}, time.Second)
	require.Error(t, err)
	assert.Equal(t, errs.CallbackFailed, errs.KindOf(err))
}

func TestOperNotifyProviderErrorIsCallbackFailed(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	r.Register(2, func(ctx context.Context, req Request) (*datatree.Tree, error) { return nil, boom })

	_, err := r.OperNotify(context.Background(), t.TempDir(), Request{EvpipeNum: 2}, time.Second)
	require.Error(t, err)
	assert.Equal(t, errs.CallbackFailed, errs.KindOf(err))
}

func TestPingWritesByte(t *testing.T) {
	dir := t.TempDir()
	path := EventPipePath(dir, 3)
	require.NoError(t, Ping(path))
	assert.FileExists(t, filepath.Join(dir, "sr_evpipe3"))
}
