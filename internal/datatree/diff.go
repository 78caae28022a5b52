package datatree

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Op is a diff entry's operation, the standardized set spec.md §4.10
// notifications map onto (move folds into merge upstream of this type).
type Op string

const (
	OpCreate  Op = "create"
	OpReplace Op = "replace"
	OpDelete  Op = "delete"
	OpMerge   Op = "merge"
)

// DiffEntry is one changed node: its XPath-ish target path, the operation,
// and (for create/replace/merge) the new value.
type DiffEntry struct {
	Path   string `json:"path"`
	Op     Op     `json:"op"`
	Value  string `json:"value,omitempty"`
	Origin string `json:"origin,omitempty"`
}

// Diff is an ordered list of per-node changes between two trees.
type Diff struct {
	Entries []DiffEntry `json:"entries"`
}

// MarshalDiff encodes d as its persisted wire form (the operational
// datastore stores a diff tree, not a data tree, per spec.md §3).
func MarshalDiff(d *Diff) ([]byte, error) {
	if d == nil {
		d = &Diff{}
	}
	return json.Marshal(d)
}

// UnmarshalDiff decodes a diff previously written by MarshalDiff.
func UnmarshalDiff(data []byte) (*Diff, error) {
	d := &Diff{}
	if len(data) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Empty reports whether the diff has no effective operation (spec.md
// §4.10: "the notification is suppressed entirely if the diff has no
// effective operation").
func (d *Diff) Empty() bool { return d == nil || len(d.Entries) == 0 }

// nodePath renders a deterministic, human-readable path for n reached via
// parentPath. This is an internal bookkeeping key, not a claim of exact
// upstream XPath canonical-form compliance.
func nodePath(parentPath, module string, n *Node) string {
	name := n.Name
	if len(n.Keys) > 0 {
		keys := make([]string, 0, len(n.Keys))
		for k := range n.Keys {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var preds []string
		for _, k := range keys {
			preds = append(preds, fmt.Sprintf("%s='%s'", k, n.Keys[k]))
		}
		name = fmt.Sprintf("%s[%s]", name, strings.Join(preds, " and "))
	}
	if parentPath == "" {
		return "/" + module + ":" + name
	}
	return parentPath + "/" + name
}

func flatten(t *Tree) map[string]*Node {
	out := make(map[string]*Node)
	for mod, root := range t.Modules {
		flattenNode("", mod, root, out)
	}
	return out
}

func flattenNode(parentPath, module string, n *Node, out map[string]*Node) {
	path := nodePath(parentPath, module, n)
	out[path] = n
	for _, c := range n.Children {
		flattenNode(path, module, c, out)
	}
}

// Compute diffs old against new, the default implementation's diff()
// primitive. Only nodes without children (leaves and empty containers)
// produce entries: a container that gains or loses children is
// represented by the entries of the leaves below it, not by one of its own.
func Compute(oldTree, newTree *Tree) *Diff {
	oldFlat := flatten(oldTree)
	newFlat := flatten(newTree)

	var entries []DiffEntry

	for path, n := range newFlat {
		if len(n.Children) > 0 {
			continue
		}
		old, existed := oldFlat[path]
		switch {
		case !existed:
			entries = append(entries, DiffEntry{Path: path, Op: OpCreate, Value: n.Value, Origin: n.Origin})
		case old.Value != n.Value:
			entries = append(entries, DiffEntry{Path: path, Op: OpReplace, Value: n.Value, Origin: n.Origin})
		}
	}
	for path, n := range oldFlat {
		if len(n.Children) > 0 {
			continue
		}
		if _, ok := newFlat[path]; !ok {
			entries = append(entries, DiffEntry{Path: path, Op: OpDelete})
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return &Diff{Entries: entries}
}

// MergePolicy is the injected merge-decision function spec.md §9 calls for
// ("Origin-aware diff merge callback"): given the incoming and target
// origins (an empty string means that side has none) it decides which
// origin should win. cid is the
// owning connection id of the overlay being merged, for metadata that
// follows ownership.
type MergePolicy func(incomingOrigin, targetOrigin string, cid uint32) string

// DefaultMergePolicy implements the "incoming origin wins" rule this port
// pins as the resolution of spec.md §9's open question about simultaneous
// value+origin changes: if the incoming entry declares an origin, it
// wins; otherwise the target's origin is kept.
func DefaultMergePolicy(incomingOrigin, targetOrigin string, _ uint32) string {
	if incomingOrigin != "" {
		return incomingOrigin
	}
	return targetOrigin
}

// MergeDiff merges src into dst using policy to resolve origin conflicts
// on entries present in both (diff_merge, spec.md §4.6).
func MergeDiff(dst, src *Diff, policy MergePolicy, cid uint32) *Diff {
	if policy == nil {
		policy = DefaultMergePolicy
	}
	byPath := make(map[string]int, len(dst.Entries))
	for i, e := range dst.Entries {
		byPath[e.Path] = i
	}

	for _, e := range src.Entries {
		if idx, ok := byPath[e.Path]; ok {
			merged := dst.Entries[idx]
			merged.Op = e.Op
			merged.Value = e.Value
			merged.Origin = policy(e.Origin, merged.Origin, cid)
			dst.Entries[idx] = merged
			continue
		}
		dst.Entries = append(dst.Entries, e)
		byPath[e.Path] = len(dst.Entries) - 1
	}
	sort.Slice(dst.Entries, func(i, j int) bool { return dst.Entries[i].Path < dst.Entries[j].Path })
	return dst
}

// Apply applies d onto t in place (diff_apply).
func Apply(t *Tree, d *Diff) error {
	for _, e := range d.Entries {
		if err := applyEntry(t, e); err != nil {
			return err
		}
	}
	return nil
}

func applyEntry(t *Tree, e DiffEntry) error {
	segs := strings.Split(strings.TrimPrefix(e.Path, "/"), "/")
	if len(segs) == 0 {
		return fmt.Errorf("datatree: empty diff path")
	}
	module, name, keys := splitModuleStep(segs[0])
	if len(segs) == 1 {
		// The path addresses the module's top-level node itself.
		if e.Op == OpDelete {
			if r, ok := t.Modules[module]; ok && r.Name == name && r.matchesKeys(keys) {
				t.DeleteModule(module)
			}
			return nil
		}
		if e.Op != OpCreate && e.Op != OpReplace && e.Op != OpMerge {
			return fmt.Errorf("datatree: unknown diff op %q", e.Op)
		}
		root := t.EnsureModuleRoot(module, name)
		root.Value, root.Origin = e.Value, e.Origin
		return nil
	}

	cur := t.EnsureModuleRoot(module, name)
	for _, seg := range segs[1 : len(segs)-1] {
		name, keys := splitStep(seg)
		child := findOrCreateChild(cur, name, keys)
		cur = child
	}
	last, lastKeys := splitStep(segs[len(segs)-1])
	return applyAtNode(cur, e, last, lastKeys)
}

func splitModuleStep(seg string) (module, name string, keys map[string]string) {
	name = seg
	if idx := strings.IndexByte(seg, ':'); idx >= 0 {
		module = seg[:idx]
		name = seg[idx+1:]
	}
	n, k := splitStep(name)
	return module, n, k
}

func splitStep(seg string) (name string, keys map[string]string) {
	idx := strings.IndexByte(seg, '[')
	if idx < 0 {
		return seg, nil
	}
	name = seg[:idx]
	body := strings.TrimSuffix(seg[idx+1:], "]")
	keys = make(map[string]string)
	for _, clause := range strings.Split(body, " and ") {
		k, v, ok := parsePredicateEquality(clause)
		if ok {
			keys[k] = v
		}
	}
	return name, keys
}

func findOrCreateChild(parent *Node, name string, keys map[string]string) *Node {
	for _, c := range parent.Children {
		if c.Name == name && c.matchesKeys(keys) {
			return c
		}
	}
	child := &Node{Name: name, Keys: keys, Config: parent.Config}
	parent.Children = append(parent.Children, child)
	return child
}

func applyAtNode(parent *Node, e DiffEntry, name string, keys map[string]string) error {
	switch e.Op {
	case OpDelete:
		for i, c := range parent.Children {
			if c.Name == name && c.matchesKeys(keys) {
				parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
				return nil
			}
		}
		if parent.Name == name && parent.matchesKeys(keys) {
			parent.Value = ""
		}
		return nil
	case OpCreate, OpReplace, OpMerge:
		child := findOrCreateChild(parent, name, keys)
		child.Value = e.Value
		child.Origin = e.Origin
		return nil
	default:
		return fmt.Errorf("datatree: unknown diff op %q", e.Op)
	}
}
