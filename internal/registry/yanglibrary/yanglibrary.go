// Package yanglibrary generates the ietf-yang-library internal module's
// operational content from the live schema registry (spec.md §4.9.C:
// "If the module is ietf-yang-library, generate its tree from the schema
// registry").
//
// Grounded on pkg/manager's in-process inventory reporting (teacher): the
// same registered-module state the manager already holds is rendered here
// as a data tree instead of a gRPC response message.
package yanglibrary

import (
	"github.com/cuemby/sysrepod/internal/datatree"
	"github.com/cuemby/sysrepod/internal/registry"
)

// ModuleName is the well-known internal module name this generator backs.
const ModuleName = "ietf-yang-library"

// Generate builds the ietf-yang-library tree from reg's registered
// modules: one module-set entry per installed module, naming its revision
// and enabled features, plus — for modules whose descriptor carries a
// revision — the four standard datastores spec.md §4.9.C calls out.
func Generate(reg *registry.Registry) *datatree.Tree {
	tree := datatree.NewTree()
	root := tree.EnsureModuleRoot(ModuleName, "yang-library")

	modules := reg.All()
	registry.SortBySlot(modules)

	modSet := &datatree.Node{Name: "module-set", Config: false}
	modSet.Keys = map[string]string{"name": "complete"}
	root.Children = append(root.Children, modSet)

	for _, mod := range modules {
		d := mod.Descriptor
		entry := &datatree.Node{Name: "module", Config: false, Keys: map[string]string{"name": d.Name}}
		entry.Children = append(entry.Children,
			&datatree.Node{Name: "name", Value: d.Name, Config: false},
			&datatree.Node{Name: "revision", Value: d.Revision, Config: false},
		)
		for _, feat := range d.Features {
			entry.Children = append(entry.Children, &datatree.Node{Name: "feature", Value: feat, Config: false})
		}
		if d.Revision != "" {
			for _, ds := range registry.AllDatastores {
				entry.Children = append(entry.Children, &datatree.Node{
					Name: "datastore", Config: false, Keys: map[string]string{"name": string(ds)},
				})
			}
		}
		modSet.Children = append(modSet.Children, entry)
	}

	return tree
}
