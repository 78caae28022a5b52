// Package compose implements the operational composer (spec.md §4.9): for
// a module requested against the operational datastore, it duplicates the
// subset of config data an active subscription has made visible, overlays
// the persisted operational diff, injects internal modules' generated
// state, invokes provider callouts (pruned by the static-disjointness
// check), and trims the result per the caller's option flags.
//
// Grounded on pkg/manager's pipeline-of-stages shape (teacher): each
// composer step is a small function threaded through in sequence, the way
// pkg/manager.Manager chains provisioning stages, rather than one large
// function. Provider rendezvous reuses internal/rendezvous; internal
// module generation reuses internal/registry/yanglibrary and
// internal/registry/monitoring.
package compose
