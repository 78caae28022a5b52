package compose

import (
	"context"
	"sort"

	"github.com/cuemby/sysrepod/internal/datatree"
	"github.com/cuemby/sysrepod/internal/metrics"
	"github.com/cuemby/sysrepod/internal/registry"
	"github.com/cuemby/sysrepod/internal/rendezvous"
)

// Disjoint implements spec.md §4.9's static predicate pruning: given
// request XPath steps and a subscription's steps, it walks both step by
// step and returns true only when the two are *provably* disjoint — a
// module or name disagreement at an equal-depth, non-wildcard step. A
// "//" step anywhere in either path is conservatively treated as always
// potentially required: disjointness is then never proven. A predicate pair is
// only a disagreement when both sides name the same key with different
// literal values; anything else (a key present on one side only, or a
// non-equality predicate already dropped during parsing) is conservatively
// treated as required.
func Disjoint(request, sub []datatree.Step) bool {
	for _, steps := range [][]datatree.Step{request, sub} {
		for _, st := range steps {
			if st.Descendant {
				return false
			}
		}
	}
	n := len(request)
	if len(sub) < n {
		n = len(sub)
	}
	for i := 0; i < n; i++ {
		r, s := request[i], sub[i]
		if r.Name != "*" && s.Name != "*" && r.Name != s.Name {
			return true
		}
		if r.Module != "" && s.Module != "" && r.Module != s.Module {
			return true
		}
		for k, rv := range r.Predicates {
			if sv, ok := s.Predicates[k]; ok && sv != rv {
				return true
			}
		}
	}
	return false
}

// runProviderCallouts is step D (spec.md §4.9.D): ordered by subscription
// XPath depth (shallowest first), statically-prunable subscriptions are
// skipped without invoking their provider; the rest are rendezvoused with
// and their output merged or spliced in per the subscription's MERGE
// option.
func (c *Composer) runProviderCallouts(ctx context.Context, dest *datatree.Tree, req Request) error {
	name := req.Module.Descriptor.Name
	subs := append([]registry.Subscription(nil), req.Module.Descriptor.OperSubs...)
	sort.SliceStable(subs, func(i, j int) bool {
		return subtreeDepth(subs[i].XPath) < subtreeDepth(subs[j].XPath)
	})

	requestSteps, err := datatree.ParseXPath(req.RequestXPath)
	if err != nil {
		requestSteps = nil
	}

	for _, sub := range subs {
		subSteps, err := datatree.ParseXPath(sub.XPath)
		if err != nil {
			continue
		}

		if requestSteps != nil && Disjoint(requestSteps, subSteps) {
			metrics.StaticPruneSkipsTotal.Inc()
			continue
		}

		if !sub.Opts.Has(registry.OptMerge) {
			removeMatches(dest, subSteps)
		}

		parentSteps := subSteps
		if len(parentSteps) > 0 {
			parentSteps = parentSteps[:len(parentSteps)-1]
		}

		var parents []*datatree.Node
		if len(parentSteps) > 0 {
			for _, path := range matchPaths(dest, parentSteps) {
				parents = append(parents, path[len(path)-1])
			}
			if len(parents) == 0 {
				continue
			}
		} else {
			root, ok := dest.Modules[name]
			if !ok {
				root = dest.EnsureModuleRoot(name, name)
			}
			parents = []*datatree.Node{root}
		}

		for _, parent := range parents {
			if err := c.callProvider(ctx, name, sub, req, parent); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Composer) callProvider(ctx context.Context, module string, sub registry.Subscription, req Request, parent *datatree.Node) error {
	result, err := c.Providers.OperNotify(ctx, c.RepoPath, rendezvous.Request{
		Module:       module,
		SubXPath:     sub.XPath,
		RequestXPath: req.RequestXPath,
		Parent:       parent,
		SID:          req.SID,
		EvpipeNum:    sub.EvpipeNum,
	}, c.Timeout)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}

	// DESTRUCT semantics (spec.md §4.9.D): the provider's tree is consumed
	// into parent's children rather than kept as a separate tree. Without
	// MERGE, runProviderCallouts has already removed the nodes the
	// subscription XPath matched, so in both modes the output is appended
	// and parent's other children are kept.
	produced, ok := result.Modules[module]
	if !ok {
		return nil
	}
	parent.Children = append(parent.Children, produced.Children...)
	return nil
}

func subtreeDepth(xpath string) int {
	steps, err := datatree.ParseXPath(xpath)
	if err != nil {
		return 0
	}
	return len(steps)
}
