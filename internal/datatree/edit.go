package datatree

import "strings"

// moduleOfPath extracts the owning module name from a rendered diff path
// (the first step's "mod:" qualifier), the partition key the edit engine
// uses to route an edit's entries to the module that owns each node
// (spec.md §4.6: "for each module that owns at least one node in the
// edit").
func moduleOfPath(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	first, _, _ := strings.Cut(trimmed, "/")
	module, _, _ := splitModuleStep(first)
	return module
}

// SplitByModule partitions edit's entries by owning module, the first step
// the edit/diff engine's edit_apply takes before touching any module's
// subtree.
func SplitByModule(edit *Diff) map[string]*Diff {
	out := make(map[string]*Diff)
	if edit == nil {
		return out
	}
	for _, e := range edit.Entries {
		mod := moduleOfPath(e.Path)
		d, ok := out[mod]
		if !ok {
			d = &Diff{}
			out[mod] = d
		}
		d.Entries = append(d.Entries, e)
	}
	return out
}

// RejectsInternalModule reports whether edit touches the internal module
// name (spec.md §4.6: "edit_apply ... rejects edits that touch the
// internal module").
func RejectsInternalModule(edit *Diff, internalModule string) bool {
	for mod := range SplitByModule(edit) {
		if mod == internalModule {
			return true
		}
	}
	return false
}
