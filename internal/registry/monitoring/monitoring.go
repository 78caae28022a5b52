// Package monitoring generates the sysrepo-monitoring internal module's
// operational content (spec.md §4.9.C): per-module subscription tables and
// per-connection lock state, each entry carrying the owning connection id.
//
// Grounded on pkg/api/server.go's gRPC status endpoint (teacher), which
// renders pkg/manager's live state over the wire; here the same registry
// state is rendered as operational data through the composer's internal-
// module path instead, exactly the "two doors, one set of facts" idiom
// SPEC_FULL.md's supplement for this section calls out.
package monitoring

import (
	"strconv"

	"github.com/cuemby/sysrepod/internal/datatree"
	"github.com/cuemby/sysrepod/internal/registry"
)

// ModuleName is the well-known internal module name this generator backs.
const ModuleName = "sysrepo-monitoring"

// ConnectionLocks is one connection's reported per-module/per-datastore
// lock and main-lock state, the shape §4.9.C's "per-connection {main lock,
// per-module/per-datastore locks}" describes. internal/conn supplies these
// at generation time; monitoring has no dependency on it.
type ConnectionLocks struct {
	CID      uint32
	MainLock string // "read", "read_upgradeable", "write", or "" if unheld
	Modules  map[string]map[registry.Datastore]string
}

// Generate builds the sysrepo-monitoring tree: subscription tables for
// every registered module's change/operational/notification/RPC
// subscriptions, and one connection entry per conns describing the locks
// it currently holds.
func Generate(reg *registry.Registry, conns []ConnectionLocks) *datatree.Tree {
	tree := datatree.NewTree()
	root := tree.EnsureModuleRoot(ModuleName, "sysrepo-state")

	modules := reg.All()
	registry.SortBySlot(modules)

	modsNode := &datatree.Node{Name: "module", Config: false}
	root.Children = append(root.Children, modsNode)
	for _, mod := range modules {
		modsNode.Children = append(modsNode.Children, moduleSubscriptionsNode(mod))
	}

	connsNode := &datatree.Node{Name: "connection", Config: false}
	root.Children = append(root.Children, connsNode)
	for _, c := range conns {
		connsNode.Children = append(connsNode.Children, connectionNode(c))
	}

	return tree
}

func moduleSubscriptionsNode(mod *registry.Module) *datatree.Node {
	d := mod.Descriptor
	n := &datatree.Node{Name: "module", Config: false, Keys: map[string]string{"name": d.Name}}

	for ds, subs := range d.ChangeSubs {
		for _, sub := range subs {
			n.Children = append(n.Children, subscriptionNode("change-sub", sub, string(ds)))
		}
	}
	for _, sub := range d.OperSubs {
		n.Children = append(n.Children, subscriptionNode("operational-sub", sub, string(sub.SubKind)))
	}
	for _, sub := range d.NotifSubs {
		n.Children = append(n.Children, subscriptionNode("notification-sub", sub, ""))
	}
	for _, sub := range d.RPCSubs {
		n.Children = append(n.Children, subscriptionNode("rpc-sub", sub, ""))
	}
	return n
}

func subscriptionNode(kind string, sub registry.Subscription, extra string) *datatree.Node {
	n := &datatree.Node{Name: kind, Config: false}
	n.Children = append(n.Children,
		&datatree.Node{Name: "cid", Value: strconv.FormatUint(uint64(sub.CID), 10), Config: false},
		&datatree.Node{Name: "xpath", Value: sub.XPath, Config: false},
		&datatree.Node{Name: "priority", Value: strconv.Itoa(sub.Priority), Config: false},
	)
	if extra != "" {
		n.Children = append(n.Children, &datatree.Node{Name: "kind", Value: extra, Config: false})
	}
	return n
}

func connectionNode(c ConnectionLocks) *datatree.Node {
	n := &datatree.Node{Name: "connection", Config: false, Keys: map[string]string{"cid": strconv.FormatUint(uint64(c.CID), 10)}}
	if c.MainLock != "" {
		n.Children = append(n.Children, &datatree.Node{Name: "main-lock", Value: c.MainLock, Config: false})
	}
	for mod, locks := range c.Modules {
		modNode := &datatree.Node{Name: "locked-module", Config: false, Keys: map[string]string{"name": mod}}
		for ds, mode := range locks {
			modNode.Children = append(modNode.Children, &datatree.Node{
				Name: "lock", Config: false, Keys: map[string]string{"datastore": string(ds)},
				Value: mode,
			})
		}
		n.Children = append(n.Children, modNode)
	}
	return n
}
