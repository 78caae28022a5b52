// Package notify implements the change-notification generator (spec.md
// §4.10): after a successful commit to a conventional datastore, build a
// standardized config-change notification from the merged diff and
// deliver it to the changed modules' notification subscribers.
//
// Grounded on pkg/events/events.go's broadcast-to-many idiom (teacher),
// generalized from a single global subscriber set to the per-module
// notification-subscription tables internal/registry already models, and
// delivered through internal/rendezvous's event-pipe ping rather than an
// in-process channel.
package notify
