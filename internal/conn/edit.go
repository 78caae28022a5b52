package conn

import (
	"github.com/cuemby/sysrepod/internal/datatree"
	"github.com/cuemby/sysrepod/internal/errs"
	"github.com/cuemby/sysrepod/internal/modinfo"
	"github.com/cuemby/sysrepod/internal/registry"
)

// EditApply implements edit_apply(modinfo, edit, make_diff) (spec.md
// §4.6): it rejects edits touching internalModule, then partitions edit
// by owning module and applies each partition to that module's subtree
// inside the modinfo set, accumulating a per-module diff (merged into the
// entry's running Diff) and setting BitChanged wherever that diff is
// non-empty.
func EditApply(set *modinfo.Set, dt datatree.DataTree, edit *datatree.Diff, makeDiff bool, internalModule string) error {
	if internalModule != "" && datatree.RejectsInternalModule(edit, internalModule) {
		return errs.New(errs.InvalArg, "edit touches internal module %s", internalModule)
	}

	for mod, subDiff := range datatree.SplitByModule(edit) {
		entry := set.FindByName(mod)
		if entry == nil {
			return errs.New(errs.NotFound, "module %s is not part of this operation's modinfo set", mod).WithPath(mod)
		}

		tree, ok := entry.Data.(*datatree.Tree)
		if !ok || tree == nil {
			tree = datatree.NewTree()
			entry.Data = tree
		}

		var before *datatree.Tree
		if makeDiff {
			before = dt.Dup(tree, true)
		}

		if err := dt.DiffApply(tree, subDiff); err != nil {
			return errs.Wrap(errs.Internal, err, "edit: apply to module %s", mod).WithPath(mod)
		}

		if !makeDiff {
			continue
		}
		induced, err := dt.Diff(before, tree)
		if err != nil {
			return errs.Wrap(errs.Internal, err, "edit: diff module %s", mod).WithPath(mod)
		}
		if induced.Empty() {
			continue
		}
		if existing, ok := entry.Diff.(*datatree.Diff); ok && existing != nil {
			entry.Diff = datatree.MergeDiff(existing, induced, nil, 0)
		} else {
			entry.Diff = induced
		}
		entry.State |= modinfo.BitChanged
	}
	return nil
}

// DiffMerge implements diff_merge(modinfo, new_diff) (spec.md §4.6):
// merges newDiff into the REQ subset's running diffs, using policy (an
// origin-aware callback for operational datastores, per spec.md §4.9.B)
// to resolve entries present on both sides.
func DiffMerge(set *modinfo.Set, dt datatree.DataTree, newDiff *datatree.Diff, policy datatree.MergePolicy, cid uint32) error {
	for mod, subDiff := range datatree.SplitByModule(newDiff) {
		entry := set.FindByName(mod)
		if entry == nil || !entry.State.Has(modinfo.BitReq) {
			continue
		}
		existing, _ := entry.Diff.(*datatree.Diff)
		if existing == nil {
			existing = &datatree.Diff{}
		}
		merged, err := dt.DiffMerge(existing, subDiff, policy, cid)
		if err != nil {
			return errs.Wrap(errs.Internal, err, "diff_merge: module %s", mod).WithPath(mod)
		}
		entry.Diff = merged
		if !merged.Empty() {
			entry.State |= modinfo.BitChanged
		}
	}
	return nil
}

// Replace implements replace(modinfo, src_data) (spec.md §4.6): for every
// REQ entry, the destination and source subtrees are detached and
// diffed; a non-empty diff keeps the source subtree and marks the entry
// CHANGED, otherwise the destination subtree is kept unmodified. The net
// result still contains each module exactly once.
func Replace(set *modinfo.Set, dt datatree.DataTree, src *datatree.Tree) error {
	for _, entry := range set.Entries {
		if !entry.State.Has(modinfo.BitReq) {
			continue
		}
		name := entry.Module.Descriptor.Name

		dstTree, ok := entry.Data.(*datatree.Tree)
		if !ok || dstTree == nil {
			dstTree = datatree.NewTree()
		}

		dstSnapshot := datatree.NewTree()
		if root, ok := dstTree.Modules[name]; ok {
			dstSnapshot.Modules[name] = root
		}
		srcSnapshot := datatree.NewTree()
		srcRoot, hasSrc := src.Modules[name]
		if hasSrc {
			srcSnapshot.Modules[name] = srcRoot
		}

		diff, err := dt.Diff(dstSnapshot, srcSnapshot)
		if err != nil {
			return errs.Wrap(errs.Internal, err, "replace: diff module %s", name).WithPath(name)
		}

		if !diff.Empty() {
			if hasSrc {
				dstTree.Modules[name] = srcRoot
			} else {
				dstTree.DeleteModule(name)
			}
			entry.Diff = diff
			entry.State |= modinfo.BitChanged
		}
		entry.Data = dstTree
	}
	return nil
}

// Validate implements validate(modinfo, mask, finish_diff) (spec.md §4.6):
// it runs cross-module leafref validation on every entry whose state
// overlaps mask, against a combined tree of every loaded module (so a
// leafref from module b into module a can be checked even though the edit
// only touched b). leafrefs maps a source module name to the REF
// dependencies validate_leafrefs needs to check for it (spec.md §3: "REF
// models leafref/when/must").
//
// The first unsatisfied reference fails the whole call with
// errs.ValidationFailed carrying the offending module's name as Path,
// matching spec.md §8 scenario 3 ("validation of b ... fails with
// VALIDATION_FAILED").
func Validate(set *modinfo.Set, mask modinfo.StateBits, leafrefs map[string][]datatree.LeafrefRef) error {
	combined := datatree.NewTree()
	for _, entry := range set.Entries {
		tree, ok := entry.Data.(*datatree.Tree)
		if !ok || tree == nil {
			continue
		}
		for mod, root := range tree.Modules {
			combined.Modules[mod] = root
		}
	}

	for _, entry := range set.Entries {
		if !entry.State.Has(mask) {
			continue
		}
		name := entry.Module.Descriptor.Name
		refs, ok := leafrefs[name]
		if !ok {
			continue
		}
		if err := datatree.ValidateLeafrefs(combined, refs); err != nil {
			return errs.Wrap(errs.ValidationFailed, err, "validate: module %s", name).WithPath(name)
		}
	}
	return nil
}

// AddDefaults implements add_defaults(modinfo, finish_diff) (spec.md
// §4.6): it materializes implicit defaults for every REQ entry, but only
// for conventional datastores — operational has no defaults of its own
// (it composes them from running). defaults maps a module name to the
// default-leaf path/value pairs NewImplicit should fill in, standing in
// for the real schema library's compiled default knowledge.
func AddDefaults(set *modinfo.Set, dt datatree.DataTree, defaults map[string]map[string]string) error {
	if set.PrimaryDS == registry.Operational {
		return nil
	}
	for _, entry := range set.Entries {
		if !entry.State.Has(modinfo.BitReq) {
			continue
		}
		name := entry.Module.Descriptor.Name
		d, ok := defaults[name]
		if !ok {
			continue
		}
		tree, ok := entry.Data.(*datatree.Tree)
		if !ok || tree == nil {
			tree = datatree.NewTree()
			entry.Data = tree
		}
		if err := dt.NewImplicit(tree, d); err != nil {
			return errs.Wrap(errs.Internal, err, "add_defaults: module %s", name).WithPath(name)
		}
	}
	return nil
}

// OpValidate implements op_validate(modinfo, op, is_output) (spec.md
// §4.6): it asserts that an RPC/action/notification's data-parent exists
// in the already-composed operational tree.
func OpValidate(operational *datatree.Tree, parentXPath string) error {
	if err := datatree.AssertParentExists(operational, parentXPath); err != nil {
		return errs.Wrap(errs.ValidationFailed, err, "op_validate: data-parent %s", parentXPath).WithPath(parentXPath)
	}
	return nil
}
