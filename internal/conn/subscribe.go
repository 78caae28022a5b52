package conn

import (
	"context"

	"github.com/cuemby/sysrepod/internal/lock"
	"github.com/cuemby/sysrepod/internal/registry"
	"github.com/cuemby/sysrepod/internal/rendezvous"
)

// withShmWrite runs fn with m.shmLock held in Write mode, first running
// the crash-recovery scan spec.md §5 pins to "every WRITE ... acquire of
// the SHM lock". Subscription add/remove is the only caller: it is the
// one mutation spec.md §5 allows to happen "without holding any other
// module lock".
func (m *Manager) withShmWrite(ctx context.Context, fn func() error) error {
	if err := m.shmLock.Acquire(ctx, lock.Write); err != nil {
		return err
	}
	defer m.shmLock.Release(lock.Write)
	if err := m.reclaimDeadLocked(); err != nil {
		return err
	}
	return fn()
}

// SubscribeChange registers a change subscription on module for datastore
// ds (spec.md §3: change subs carry a datastore tag). An empty xpath
// subscribes to the whole module.
func (m *Manager) SubscribeChange(ctx context.Context, c *Connection, module string, ds registry.Datastore, xpath string, priority int, opts registry.SubOpts) (uint32, error) {
	var evpipe uint32
	err := m.withShmWrite(ctx, func() error {
		mod, err := m.reg.FindModule(module)
		if err != nil {
			return err
		}
		evpipe = m.arena.NextEvpipeID()
		sub := registry.Subscription{XPath: xpath, Priority: priority, Opts: opts, EvpipeNum: evpipe, CID: c.CID, Datastore: ds}
		return m.reg.MutateDescriptor(mod, func(d *registry.Descriptor) {
			if d.ChangeSubs == nil {
				d.ChangeSubs = make(map[registry.Datastore][]registry.Subscription)
			}
			d.ChangeSubs[ds] = append(d.ChangeSubs[ds], sub)
		})
	})
	return evpipe, err
}

// UnsubscribeChange removes the change subscription evpipe owns on
// module/ds, belonging to c.
func (m *Manager) UnsubscribeChange(ctx context.Context, c *Connection, module string, ds registry.Datastore, evpipe uint32) error {
	return m.withShmWrite(ctx, func() error {
		mod, err := m.reg.FindModule(module)
		if err != nil {
			return err
		}
		return m.reg.MutateDescriptor(mod, func(d *registry.Descriptor) {
			d.ChangeSubs[ds] = removeByEvpipe(d.ChangeSubs[ds], evpipe, c.CID)
		})
	})
}

// SubscribeOperational registers an operational-data provider subscription
// on module, backed by fn: whenever the composer's provider callouts
// (spec.md §4.9.D) select this subscription, fn answers the rendezvous.
func (m *Manager) SubscribeOperational(ctx context.Context, c *Connection, module, xpath string, kind registry.SubKind, opts registry.SubOpts, fn rendezvous.ProviderFunc) (uint32, error) {
	var evpipe uint32
	err := m.withShmWrite(ctx, func() error {
		mod, err := m.reg.FindModule(module)
		if err != nil {
			return err
		}
		evpipe = m.arena.NextEvpipeID()
		sub := registry.Subscription{XPath: xpath, Opts: opts, EvpipeNum: evpipe, CID: c.CID, SubKind: kind}
		if err := m.reg.MutateDescriptor(mod, func(d *registry.Descriptor) {
			d.OperSubs = append(d.OperSubs, sub)
		}); err != nil {
			return err
		}
		if fn != nil {
			m.providers.Register(evpipe, fn)
		}
		return nil
	})
	return evpipe, err
}

// UnsubscribeOperational removes the operational subscription evpipe owns
// on module, belonging to c, and unregisters its provider callback.
func (m *Manager) UnsubscribeOperational(ctx context.Context, c *Connection, module string, evpipe uint32) error {
	err := m.withShmWrite(ctx, func() error {
		mod, err := m.reg.FindModule(module)
		if err != nil {
			return err
		}
		return m.reg.MutateDescriptor(mod, func(d *registry.Descriptor) {
			d.OperSubs = removeByEvpipe(d.OperSubs, evpipe, c.CID)
		})
	})
	if err != nil {
		return err
	}
	m.providers.Unregister(evpipe)
	return nil
}

// SubscribeNotification registers a notification subscription on module,
// returning the subscription id spec.md §3 says notification subs carry
// (distinct from the evpipe_num used to reach the subscriber).
func (m *Manager) SubscribeNotification(ctx context.Context, c *Connection, module, xpath string) (subID uint32, evpipe uint32, err error) {
	err = m.withShmWrite(ctx, func() error {
		mod, ferr := m.reg.FindModule(module)
		if ferr != nil {
			return ferr
		}
		subID = m.arena.NextSubID()
		evpipe = m.arena.NextEvpipeID()
		sub := registry.Subscription{XPath: xpath, EvpipeNum: evpipe, CID: c.CID, SubID: subID}
		return m.reg.MutateDescriptor(mod, func(d *registry.Descriptor) {
			d.NotifSubs = append(d.NotifSubs, sub)
		})
	})
	return subID, evpipe, err
}

// UnsubscribeNotification removes the notification subscription named by
// subID on module, belonging to c.
func (m *Manager) UnsubscribeNotification(ctx context.Context, c *Connection, module string, subID uint32) error {
	return m.withShmWrite(ctx, func() error {
		mod, err := m.reg.FindModule(module)
		if err != nil {
			return err
		}
		return m.reg.MutateDescriptor(mod, func(d *registry.Descriptor) {
			kept := d.NotifSubs[:0:0]
			for _, s := range d.NotifSubs {
				if s.SubID == subID && s.CID == c.CID {
					continue
				}
				kept = append(kept, s)
			}
			d.NotifSubs = kept
		})
	})
}

// SubscribeRPC registers an RPC/action subscription on module at priority,
// the routing policy internal/registry.SelectRPCSubscription orders by.
func (m *Manager) SubscribeRPC(ctx context.Context, c *Connection, module, xpath string, priority int) (uint32, error) {
	var evpipe uint32
	err := m.withShmWrite(ctx, func() error {
		mod, err := m.reg.FindModule(module)
		if err != nil {
			return err
		}
		evpipe = m.arena.NextEvpipeID()
		subID := m.arena.NextSubID()
		sub := registry.Subscription{XPath: xpath, Priority: priority, EvpipeNum: evpipe, CID: c.CID, SubID: subID}
		return m.reg.MutateDescriptor(mod, func(d *registry.Descriptor) {
			d.RPCSubs = append(d.RPCSubs, sub)
		})
	})
	return evpipe, err
}

func removeByEvpipe(subs []registry.Subscription, evpipe, cid uint32) []registry.Subscription {
	kept := subs[:0:0]
	for _, s := range subs {
		if s.EvpipeNum == evpipe && s.CID == cid {
			continue
		}
		kept = append(kept, s)
	}
	return kept
}
