package compose

import (
	"context"
	"time"

	"github.com/cuemby/sysrepod/internal/datatree"
	"github.com/cuemby/sysrepod/internal/metrics"
	"github.com/cuemby/sysrepod/internal/registry"
	"github.com/cuemby/sysrepod/internal/registry/monitoring"
	"github.com/cuemby/sysrepod/internal/registry/yanglibrary"
	"github.com/cuemby/sysrepod/internal/rendezvous"
)

// Opts is the composer's configuration-option bitset (spec.md §6: "NO_STATE
// ... WITH_ORIGIN").
type Opts uint32

const (
	NoState Opts = 1 << iota
	NoConfig
	NoStored
	NoSubs
	WithOrigin
)

// Has reports whether flag is set in o.
func (o Opts) Has(flag Opts) bool { return o&flag != 0 }

// ConnectionsFunc supplies the live per-connection lock snapshot the
// sysrepo-monitoring internal module reports (spec.md §4.9.C). Composer
// has no dependency on internal/conn; the caller wires this in.
type ConnectionsFunc func() []monitoring.ConnectionLocks

// Composer runs the operational composition pipeline for one registry.
type Composer struct {
	Registry    *registry.Registry
	DataTree    datatree.DataTree
	Providers   *rendezvous.Registry
	RepoPath    string
	Timeout     time.Duration
	Connections ConnectionsFunc
}

// New returns a ready-to-use Composer.
func New(reg *registry.Registry, dt datatree.DataTree, providers *rendezvous.Registry, repoPath string, timeout time.Duration) *Composer {
	return &Composer{Registry: reg, DataTree: dt, Providers: providers, RepoPath: repoPath, Timeout: timeout}
}

// Request carries the per-call inputs spec.md §4.9's sequence needs beyond
// what's already on Composer: the module being composed, its currently
// loaded config data (modinfo.data before composition), the persisted
// operational diff to overlay, the original request XPath (used by static
// pruning and passed through to providers), the owning connection/session
// ids, and the merge policy for the stored-diff overlay.
type Request struct {
	Module       *registry.Module
	Config       *datatree.Tree
	StoredDiff   *datatree.Diff
	RequestXPath string
	CID          uint32
	SID          uint32
	Policy       datatree.MergePolicy
	Opts         Opts
}

// Compose runs the full §4.9 sequence for one REQ module and returns the
// composed operational tree.
func (c *Composer) Compose(ctx context.Context, req Request) (*datatree.Tree, error) {
	name := req.Module.Descriptor.Name
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.LoadDurationSeconds, "operational-compose")

	dest := c.dupEnabledSubtrees(name, req.Config, req.Module.Descriptor, req.Opts)

	if !req.Opts.Has(NoStored) && req.StoredDiff != nil && !req.StoredDiff.Empty() {
		if err := c.applyStoredDiff(dest, req.StoredDiff, req.Policy, req.CID); err != nil {
			return nil, err
		}
	}

	if generated := c.generateInternalModule(name); generated != nil {
		dest = generated
	}

	if !req.Opts.Has(NoSubs) {
		if err := c.runProviderCallouts(ctx, dest, req); err != nil {
			return nil, err
		}
	}

	c.trim(dest, req.Opts)

	return dest, nil
}

// dupEnabledSubtrees is step A (spec.md §4.9.A).
func (c *Composer) dupEnabledSubtrees(name string, config *datatree.Tree, desc *registry.Descriptor, opts Opts) *datatree.Tree {
	dest := datatree.NewTree()
	if config == nil {
		return dest
	}
	srcRoot, ok := config.Modules[name]
	if !ok {
		return dest
	}

	subs := desc.ChangeSubs[registry.Running]
	if wholeModuleEnabled(subs) {
		dest.Modules[name] = srcRoot.Clone()
	} else {
		for _, sub := range subs {
			if sub.Opts.Has(registry.OptPassive) || sub.XPath == "" {
				continue
			}
			steps, err := datatree.ParseXPath(sub.XPath)
			if err != nil {
				continue
			}
			for _, path := range matchPaths(config, steps) {
				ensurePath(dest, path)
			}
		}
	}

	if opts.Has(WithOrigin) {
		stampOrigin(dest)
	}
	return dest
}

func wholeModuleEnabled(subs []registry.Subscription) bool {
	for _, s := range subs {
		if s.XPath == "" && !s.Opts.Has(registry.OptPassive) {
			return true
		}
	}
	return false
}

func stampOrigin(t *datatree.Tree) {
	t.Walk(func(_ string, n *datatree.Node) {
		switch {
		case n.Default:
			n.Origin = "ietf-origin:default"
		case n.Config:
			n.Origin = "config"
		default:
			n.Origin = "oper"
		}
	})
}

// applyStoredDiff is step B (spec.md §4.9.B): apply the persisted
// operational diff with an origin-aware merge callback. Manager.Get loads
// operational requests with the loader's own overlay step turned off
// (store.LoadOpts.NoStored), so this is where the overlay is applied, onto
// the (possibly smaller) duplicated subtree step A produced.
func (c *Composer) applyStoredDiff(dest *datatree.Tree, diff *datatree.Diff, policy datatree.MergePolicy, cid uint32) error {
	if policy == nil {
		policy = datatree.DefaultMergePolicy
	}
	for _, e := range diff.Entries {
		existing := ""
		if nodes, err := c.DataTree.XPathEval(dest, e.Path); err == nil && len(nodes) > 0 {
			existing = nodes[0].Origin
		}
		e.Origin = policy(e.Origin, existing, cid)
		if err := datatree.Apply(dest, &datatree.Diff{Entries: []datatree.DiffEntry{e}}); err != nil {
			return err
		}
	}
	return nil
}

// generateInternalModule is step C (spec.md §4.9.C).
func (c *Composer) generateInternalModule(name string) *datatree.Tree {
	switch name {
	case yanglibrary.ModuleName:
		return yanglibrary.Generate(c.Registry)
	case monitoring.ModuleName:
		var conns []monitoring.ConnectionLocks
		if c.Connections != nil {
			conns = c.Connections()
		}
		return monitoring.Generate(c.Registry, conns)
	default:
		return nil
	}
}

// trim is step E (spec.md §4.9.E).
func (c *Composer) trim(t *datatree.Tree, opts Opts) {
	for mod, root := range t.Modules {
		if trimmed := trimNode(root, opts); trimmed != nil {
			t.Modules[mod] = trimmed
		} else {
			delete(t.Modules, mod)
		}
	}
	if !opts.Has(WithOrigin) {
		t.Walk(func(_ string, n *datatree.Node) { n.Origin = "" })
	}
}

// trimNode depth-first frees state subtrees (NO_STATE) and config leaves
// with no children (NO_CONFIG). It returns nil when n itself must be
// dropped so the caller can splice it out of its parent's children.
func trimNode(n *datatree.Node, opts Opts) *datatree.Node {
	if n == nil {
		return nil
	}
	if opts.Has(NoState) && !n.Config && len(n.Children) == 0 {
		return nil
	}

	var kept []*datatree.Node
	for _, c := range n.Children {
		if t := trimNode(c, opts); t != nil {
			kept = append(kept, t)
		}
	}
	n.Children = kept

	if opts.Has(NoState) && !n.Config && len(n.Children) == 0 {
		return nil
	}
	if opts.Has(NoConfig) && n.Config && len(n.Children) == 0 {
		return nil
	}
	return n
}
