package datatree

// Node is one node in a data tree: a container, list entry, leaf, or
// leaf-list entry. The representation is deliberately simple (a tagged
// tree of nodes with a value and children) since the point of this
// package is to be *a* conformant DataTree implementation, not the
// canonical one.
type Node struct {
	Module  string            `json:"module,omitempty"`
	Name    string             `json:"name"`
	Value   string             `json:"value,omitempty"`
	Keys    map[string]string  `json:"keys,omitempty"` // list-entry key leaf values
	Config  bool               `json:"config"`
	Default bool               `json:"default,omitempty"`
	Origin  string             `json:"origin,omitempty"`
	Children []*Node           `json:"children,omitempty"`
}

// Clone deep-copies n and its children.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{
		Module:  n.Module,
		Name:    n.Name,
		Value:   n.Value,
		Config:  n.Config,
		Default: n.Default,
		Origin:  n.Origin,
	}
	if n.Keys != nil {
		out.Keys = make(map[string]string, len(n.Keys))
		for k, v := range n.Keys {
			out.Keys[k] = v
		}
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, c.Clone())
	}
	return out
}

// matchesKeys reports whether n's key leaves exactly match want (used when
// locating list entries by predicate).
func (n *Node) matchesKeys(want map[string]string) bool {
	for k, v := range want {
		if n.Keys[k] != v {
			return false
		}
	}
	return true
}

// IsListEntry reports whether n carries key values, i.e. is one entry of a
// YANG list rather than a container/leaf.
func (n *Node) IsListEntry() bool { return len(n.Keys) > 0 }

// Tree is a full data tree: a virtual root holding one top-level node per
// module that has data.
type Tree struct {
	Modules map[string]*Node `json:"modules"`
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{Modules: make(map[string]*Node)}
}

// ModuleRoot returns (creating if absent) the top-level node for module,
// named after the module itself. Used where no real top-level container
// name is known.
func (t *Tree) ModuleRoot(module string) *Node {
	return t.EnsureModuleRoot(module, module)
}

// EnsureModuleRoot returns the top-level node for module, creating it with
// name if it doesn't exist yet. A module's top-level node name is usually
// its first real container (e.g. "interfaces" for module "if"), not the
// module name itself — callers parsing an XPath's first step must pass
// that step's actual Name here, not the module.
func (t *Tree) EnsureModuleRoot(module, name string) *Node {
	if t.Modules == nil {
		t.Modules = make(map[string]*Node)
	}
	root, ok := t.Modules[module]
	if !ok {
		root = &Node{Module: module, Name: name, Config: true}
		t.Modules[module] = root
	}
	return root
}

// HasModule reports whether module has any data in t.
func (t *Tree) HasModule(module string) bool {
	_, ok := t.Modules[module]
	return ok
}

// DeleteModule removes module's subtree entirely.
func (t *Tree) DeleteModule(module string) {
	delete(t.Modules, module)
}

// Walk calls fn for every node in the tree (depth-first, children before
// return), including the per-module root nodes, passing the owning module
// name alongside each node.
func (t *Tree) Walk(fn func(module string, n *Node)) {
	for mod, root := range t.Modules {
		walkNode(mod, root, fn)
	}
}

func walkNode(module string, n *Node, fn func(string, *Node)) {
	for _, c := range n.Children {
		walkNode(module, c, fn)
	}
	fn(module, n)
}
