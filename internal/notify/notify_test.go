package notify

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/sysrepod/internal/datatree"
	"github.com/cuemby/sysrepod/internal/registry"
	"github.com/cuemby/sysrepod/internal/rendezvous"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateFlattensDiff(t *testing.T) {
	diff := &datatree.Diff{Entries: []datatree.DiffEntry{
		{Path: "/if:interfaces/interface[name='eth0']/enabled", Op: datatree.OpReplace, Value: "true"},
		{Path: "/if:interfaces/interface[name='eth1']", Op: datatree.OpCreate},
	}}
	now := time.Unix(1700000000, 0).UTC()

	n := Generate("if", registry.Running, 42, diff, now)

	assert.Equal(t, "if", n.Module)
	assert.Equal(t, "running", n.Datastore)
	assert.Equal(t, uint32(42), n.ChangedBy.CID)
	require.Len(t, n.Edits, 2)
	assert.Equal(t, "replace", n.Edits[0].Op)
	assert.Equal(t, "create", n.Edits[1].Op)
}

func TestGenerateNilDiff(t *testing.T) {
	n := Generate("if", registry.Running, 1, nil, time.Unix(0, 0))
	assert.Empty(t, n.Edits)
}

type fakeReplayStore struct {
	saved map[string][]byte
}

func (f *fakeReplayStore) AppendNotificationReplay(key string, payload []byte) error {
	if f.saved == nil {
		f.saved = make(map[string][]byte)
	}
	f.saved[key] = payload
	return nil
}

func newTestModule(t *testing.T, subs []registry.Subscription, replay bool) *registry.Module {
	t.Helper()
	return &registry.Module{
		Slot: 1,
		Descriptor: &registry.Descriptor{
			Name:      "if",
			Flags:     registry.Flags{ReplaySupport: replay},
			NotifSubs: subs,
		},
	}
}

func TestDeliverPingsEverySubscriber(t *testing.T) {
	dir := t.TempDir()
	mod := newTestModule(t, []registry.Subscription{
		{SubID: 1, EvpipeNum: 5},
		{SubID: 2, EvpipeNum: 6},
	}, false)
	n := Generate("if", registry.Running, 1, nil, time.Unix(0, 0))

	require.NoError(t, Deliver(mod, n, dir, nil))
	assert.FileExists(t, filepath.Join(dir, "sr_evpipe5"))
	assert.FileExists(t, filepath.Join(dir, "sr_evpipe6"))
}

func TestDeliverSkipsSuspendedSubscribers(t *testing.T) {
	dir := t.TempDir()
	mod := newTestModule(t, []registry.Subscription{
		{SubID: 1, EvpipeNum: 9, Suspended: true},
	}, false)
	n := Generate("if", registry.Running, 1, nil, time.Unix(0, 0))

	require.NoError(t, Deliver(mod, n, dir, nil))
	assert.NoFileExists(t, filepath.Join(dir, "sr_evpipe9"))
}

func TestDeliverPersistsReplayWhenSupported(t *testing.T) {
	dir := t.TempDir()
	mod := newTestModule(t, nil, true)
	n := Generate("if", registry.Running, 1, nil, time.Unix(1700000000, 0).UTC())
	store := &fakeReplayStore{}

	require.NoError(t, Deliver(mod, n, dir, store))
	assert.Len(t, store.saved, 1)
}

func TestDeliverSkipsReplayWhenUnsupported(t *testing.T) {
	dir := t.TempDir()
	mod := newTestModule(t, nil, false)
	n := Generate("if", registry.Running, 1, nil, time.Unix(0, 0))
	store := &fakeReplayStore{}

	require.NoError(t, Deliver(mod, n, dir, store))
	assert.Empty(t, store.saved)
}

func TestEventPipePathMatchesRendezvous(t *testing.T) {
	assert.Equal(t, rendezvous.EventPipePath("/tmp/repo", 3), filepath.Join("/tmp/repo", "sr_evpipe3"))
}
