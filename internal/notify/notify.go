package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/sysrepod/internal/datatree"
	"github.com/cuemby/sysrepod/internal/errs"
	"github.com/cuemby/sysrepod/internal/metrics"
	"github.com/cuemby/sysrepod/internal/registry"
	"github.com/cuemby/sysrepod/internal/rendezvous"
)

// ChangedBy records who owned the connection whose commit produced a
// notification (spec.md §4.10: notifications carry the originating cid so
// a subscriber can tell its own edits apart from someone else's).
type ChangedBy struct {
	CID uint32 `json:"cid"`
}

// EditEntry is one config-change notification's edit record, a copy of
// datatree.DiffEntry flattened to the wire shape spec.md §4.10 describes
// ("operation", "path", "value" triples plus origin).
type EditEntry struct {
	Path  string `json:"path"`
	Op    string `json:"op"`
	Value string `json:"value,omitempty"`
}

// Notification is one generated module-change notification (spec.md
// §4.10): the module whose data changed, the datastore the change landed
// in, and the flattened edit list that produced it.
type Notification struct {
	Module    string      `json:"module"`
	Datastore string      `json:"datastore"`
	ChangedBy ChangedBy   `json:"changed_by"`
	Edits     []EditEntry `json:"edits"`
	Timestamp time.Time   `json:"timestamp"`
}

// Generate builds the notification for one module's committed diff
// (spec.md §4.10 step 1: "translate the merged diff into a standardized
// notification"). now is caller-supplied so the result is deterministic.
func Generate(module string, ds registry.Datastore, cid uint32, diff *datatree.Diff, now time.Time) *Notification {
	n := &Notification{
		Module:    module,
		Datastore: string(ds),
		ChangedBy: ChangedBy{CID: cid},
		Timestamp: now,
	}
	if diff == nil {
		return n
	}
	for _, e := range diff.Entries {
		// datatree.Op's string values are already spec.md §4.10's
		// standardized set ({create, replace, delete, merge}; move would
		// fold to merge if OpMove existed), so no translation is needed.
		n.Edits = append(n.Edits, EditEntry{Path: e.Path, Op: string(e.Op), Value: e.Value})
	}
	return n
}

// ReplayStore is the subset of internal/store.Store notify needs to
// persist a replay copy for modules with replay_support (spec.md §4.10
// step 3, §6 GLOSSARY "Replay").
type ReplayStore interface {
	AppendNotificationReplay(key string, payload []byte) error
}

// Deliver fans n out to mod's notification subscribers (spec.md §4.10 step
// 2: "for each notif_sub, ping its event pipe"), and — when the module
// declares replay_support — persists a replay copy keyed by module and
// timestamp (step 3) before returning.
//
// A ping failure for one subscriber does not stop delivery to the rest;
// all such failures are merged into the returned error via errs.Merge so
// the caller sees every subscriber that missed the notification.
func Deliver(mod *registry.Module, n *Notification, repoPath string, store ReplayStore) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return errs.Wrap(errs.Internal, err, "notify: marshal notification for %s", n.Module)
	}

	var delivery error
	for _, sub := range mod.Descriptor.NotifSubs {
		if sub.Suspended {
			continue
		}
		if err := rendezvous.Ping(rendezvous.EventPipePath(repoPath, sub.EvpipeNum)); err != nil {
			delivery = errs.Merge(delivery, errs.Wrap(errs.Sys, err, "notify: deliver to sub %d", sub.SubID))
			continue
		}
		metrics.NotificationsEmittedTotal.Inc()
	}

	if mod.Descriptor.Flags.ReplaySupport && store != nil {
		key := fmt.Sprintf("%s/%d", n.Module, n.Timestamp.UnixNano())
		if err := store.AppendNotificationReplay(key, payload); err != nil {
			delivery = errs.Merge(delivery, errs.Wrap(errs.Sys, err, "notify: persist replay for %s", n.Module))
		}
	}

	return delivery
}
