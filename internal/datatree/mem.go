package datatree

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DataTree is the trait spec.md §9 calls for, abstracting away the
// concrete data-tree representation so the rest of the engine can be
// backed by any library providing the same operations.
type DataTree interface {
	Parse(data []byte) (*Tree, error)
	Print(t *Tree) ([]byte, error)
	Dup(t *Tree, full bool) *Tree
	Merge(dst, src *Tree) error
	Diff(oldTree, newTree *Tree) (*Diff, error)
	DiffApply(t *Tree, d *Diff) error
	DiffMerge(dst, src *Diff, policy MergePolicy, cid uint32) (*Diff, error)
	XPathEval(t *Tree, xpath string) ([]*Node, error)
	NewImplicit(t *Tree, defaults map[string]string) error
	FreeSubtree(t *Tree, xpath string) error
}

// Mem is the default in-memory DataTree implementation: JSON is its wire
// format, and its xpath-eval supports exactly the restricted subset
// xpath.go parses. Real deployments swap this for a schema/data library
// binding; nothing outside this package should need to change.
type Mem struct{}

// NewMem returns the default in-memory DataTree implementation.
func NewMem() *Mem { return &Mem{} }

// Parse decodes a JSON-encoded Tree.
func (Mem) Parse(data []byte) (*Tree, error) {
	if len(data) == 0 {
		return NewTree(), nil
	}
	t := NewTree()
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("datatree: parse: %w", err)
	}
	return t, nil
}

// Print encodes t as JSON.
func (Mem) Print(t *Tree) ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("datatree: print: %w", err)
	}
	return data, nil
}

// Dup duplicates t. A shallow dup shares the per-module root pointers
// (fine for read-only use and for whole-module replacement); a full dup
// deep-copies every node, required before any in-place mutation of a
// tree another caller might still be reading from the running cache.
func (Mem) Dup(t *Tree, full bool) *Tree {
	if t == nil {
		return NewTree()
	}
	out := NewTree()
	for mod, root := range t.Modules {
		if full {
			out.Modules[mod] = root.Clone()
		} else {
			out.Modules[mod] = root
		}
	}
	return out
}

// Merge merges src's module subtrees into dst, replacing same-named
// top-level nodes wholesale (a whole-module merge, the granularity the
// datastore writer and loader operate at).
func (Mem) Merge(dst, src *Tree) error {
	for mod, root := range src.Modules {
		dst.Modules[mod] = root
	}
	return nil
}

// Diff computes the diff turning oldTree into newTree.
func (Mem) Diff(oldTree, newTree *Tree) (*Diff, error) {
	return Compute(oldTree, newTree), nil
}

// DiffApply applies d onto t in place.
func (Mem) DiffApply(t *Tree, d *Diff) error {
	return Apply(t, d)
}

// DiffMerge merges src into dst under policy.
func (Mem) DiffMerge(dst, src *Diff, policy MergePolicy, cid uint32) (*Diff, error) {
	return MergeDiff(dst, src, policy, cid), nil
}

// XPathEval evaluates xpath against t.
func (Mem) XPathEval(t *Tree, xpath string) ([]*Node, error) {
	steps, err := ParseXPath(xpath)
	if err != nil {
		return nil, fmt.Errorf("datatree: xpath-eval: %w", err)
	}
	return Eval(t, steps), nil
}

// NewImplicit materializes default values for leaves missing from the
// tree, keyed by their rendered path in defaults (a stand-in for a real
// schema library's default-leaf knowledge). Idempotent: running it twice
// produces the same tree, since it only fills leaves that are still
// empty.
func (Mem) NewImplicit(t *Tree, defaults map[string]string) error {
	for path, value := range defaults {
		segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
		if len(segs) == 0 {
			continue
		}
		module, name, keys := splitModuleStep(segs[0])
		cur := t.EnsureModuleRoot(module, name)
		for _, seg := range segs[1:] {
			n, k := splitStep(seg)
			name, keys = n, k
			cur = findOrCreateChild(cur, name, keys)
		}
		if len(segs) == 1 {
			if cur.Value == "" {
				cur.Value = value
				cur.Default = true
			}
			continue
		}
		if cur.Value == "" {
			cur.Value = value
			cur.Default = true
		}
	}
	return nil
}

// FreeSubtree removes the subtree rooted at xpath's last matching node(s).
func (Mem) FreeSubtree(t *Tree, xpath string) error {
	steps, err := ParseXPath(xpath)
	if err != nil {
		return fmt.Errorf("datatree: free-tree-or-subtree: %w", err)
	}
	if len(steps) == 0 {
		return nil
	}
	if len(steps) == 1 {
		if steps[0].Module != "" {
			t.DeleteModule(steps[0].Module)
			return nil
		}
		for mod := range t.Modules {
			t.DeleteModule(mod)
		}
		return nil
	}

	parentSteps := steps[:len(steps)-1]
	last := steps[len(steps)-1]
	parents := Eval(t, parentSteps)
	for _, p := range parents {
		removeMatching(p, last)
	}
	return nil
}

func removeMatching(parent *Node, s Step) {
	kept := parent.Children[:0:0]
	for _, c := range parent.Children {
		if matchesStep(c, s, c.Module) {
			continue
		}
		kept = append(kept, c)
	}
	parent.Children = kept
}
