// Package conn is the per-connection orchestration layer that wires
// together every other internal package into the operations spec.md
// actually describes: Get (read/operational composition), EditCommit
// (write), and subscription management, plus the connection bookkeeping
// and crash-recovery scan spec.md §5 requires.
//
// It is the one package that imports both internal/datatree and
// internal/modinfo to do Set-aware orchestration: applying an edit across
// a modinfo.Set, merging diffs, validating, and defaulting (spec.md §4.6),
// and the one package that knows the canonical lock-acquisition order
// from §5 ("SHM RW -> remap RW -> module locks in canonical order ->
// cache RW") end to end.
//
// Grounded on the teacher's pkg/manager.Manager (the one type that held
// every subsystem handle and exposed the public operations), generalized
// from cluster-node lifecycle management to datastore-engine connection
// lifecycle management.
package conn
