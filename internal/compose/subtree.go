package compose

import "github.com/cuemby/sysrepod/internal/datatree"

// matchPaths walks t matching steps in order the same way datatree.Eval
// does, but returns the full ancestor chain (module root first, matched
// node last) for every match instead of just the leaf, since step A needs
// the chain of parent containers to recreate (spec.md §4.9.A: "duplicate
// it together with the chain of parent containers").
func matchPaths(t *datatree.Tree, steps []datatree.Step) [][]*datatree.Node {
	if len(steps) == 0 {
		return nil
	}
	first := steps[0]
	var paths [][]*datatree.Node
	for _, root := range t.Modules {
		if stepMatches(root, first) {
			paths = append(paths, []*datatree.Node{root})
		}
	}

	for _, step := range steps[1:] {
		var next [][]*datatree.Node
		for _, path := range paths {
			last := path[len(path)-1]
			next = append(next, extendPath(path, last, step)...)
		}
		paths = next
	}
	return paths
}

// extendPath appends every child of last (and, for a "//" step, every
// deeper descendant) matching step to path, one extended path per match.
func extendPath(path []*datatree.Node, last *datatree.Node, step datatree.Step) [][]*datatree.Node {
	var out [][]*datatree.Node
	for _, c := range last.Children {
		if stepMatches(c, step) {
			np := make([]*datatree.Node, len(path), len(path)+1)
			copy(np, path)
			out = append(out, append(np, c))
		}
		if step.Descendant {
			out = append(out, extendPath(path, c, step)...)
		}
	}
	return out
}

func stepMatches(n *datatree.Node, s datatree.Step) bool {
	if s.Module != "" && n.Module != "" && s.Module != n.Module {
		return false
	}
	if s.Name != "*" && n.Name != s.Name {
		return false
	}
	for k, v := range s.Predicates {
		if n.Keys[k] != v {
			return false
		}
	}
	return true
}

// ensurePath recreates path (a chain produced by matchPaths) inside dest:
// parent containers are shallow structural copies (non-presence
// containers), and the leaf is a full deep clone of the source subtree.
func ensurePath(dest *datatree.Tree, path []*datatree.Node) *datatree.Node {
	if len(path) == 0 {
		return nil
	}
	root := path[0]
	cur := dest.EnsureModuleRoot(root.Module, root.Name)
	if len(path) == 1 {
		cur.Config = root.Config
		cur.Origin = root.Origin
		return cur
	}
	for _, mid := range path[1 : len(path)-1] {
		cur = ensureChild(cur, mid)
	}
	leaf := path[len(path)-1]
	clone := leaf.Clone()
	replaceChild(cur, clone)
	return clone
}

// ensureChild finds or creates, as a structural (childless) copy, the
// child of parent matching like's name and key values.
func ensureChild(parent, like *datatree.Node) *datatree.Node {
	for _, c := range parent.Children {
		if c.Name == like.Name && sameKeys(c.Keys, like.Keys) {
			return c
		}
	}
	clone := &datatree.Node{Module: like.Module, Name: like.Name, Config: like.Config, Origin: like.Origin}
	if len(like.Keys) > 0 {
		clone.Keys = make(map[string]string, len(like.Keys))
		for k, v := range like.Keys {
			clone.Keys[k] = v
		}
	}
	parent.Children = append(parent.Children, clone)
	return clone
}

// replaceChild removes any existing child of parent matching clone's
// identity before appending clone, so re-selecting an overlapping
// subscription doesn't duplicate nodes.
func replaceChild(parent, clone *datatree.Node) {
	for i, c := range parent.Children {
		if c.Name == clone.Name && sameKeys(c.Keys, clone.Keys) {
			parent.Children[i] = clone
			return
		}
	}
	parent.Children = append(parent.Children, clone)
}

func sameKeys(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// removeMatches deletes every node matched by steps from t, splicing it
// out of its parent's children (or dropping the whole module root if
// steps addressed it directly).
func removeMatches(t *datatree.Tree, steps []datatree.Step) {
	for _, path := range matchPaths(t, steps) {
		if len(path) == 1 {
			for mod, root := range t.Modules {
				if root == path[0] {
					delete(t.Modules, mod)
				}
			}
			continue
		}
		parent := path[len(path)-2]
		target := path[len(path)-1]
		for i, c := range parent.Children {
			if c == target {
				parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
				break
			}
		}
	}
}
