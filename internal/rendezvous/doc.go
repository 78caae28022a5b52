// Package rendezvous implements the shared-memory subscription slot +
// event-pipe byte notification + reply payload mechanism (spec.md §4.9.D,
// §6, GLOSSARY "Rendezvous") by which the core obtains operational-data
// and RPC provider results synchronously within a timeout.
//
// Grounded on pkg/events/events.go (teacher): a map of registered
// subscribers fanned out to under a mutex, generalized from
// broadcast-to-many (notifications, internal/notify) to a single
// request/response round trip per provider (operational/RPC callouts).
// The real engine's event-pipe file descriptor is modeled literally as a
// one-byte write to a well-known path (spec.md §6: "Writing one byte
// notifies subscribers"); the actual reply payload, which in production
// crosses process boundaries over the same shared memory the module
// registry lives in, is modeled here as a direct in-process callback
// (ProviderFunc) since providers in this exercise live in the same test
// binary as the engine.
package rendezvous
