// Package datatree defines the DataTree trait spec.md §9 calls for — an
// abstraction over {parse, print, dup, merge, diff, diff-apply,
// diff-merge, xpath-eval, new-implicit, free-tree-or-subtree} so the
// engine never depends on one specific schema/data-tree representation —
// plus a minimal in-memory implementation good enough to exercise the
// rest of the engine without a real YANG schema library attached.
//
// Swapping in a real schema/data library means implementing DataTree
// against it; nothing above this package should change.
package datatree
