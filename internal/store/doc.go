// Package store implements the persisted datastore layout (spec.md §3,
// §4.8, §4.11): the four per-module datastores (startup, running,
// candidate, operational) and the loader/writer operations that move
// data between them and a modinfo set.
//
// Grounded on pkg/storage/{store.go,boltdb.go} (teacher): a small Store
// interface backed by one *bbolt.DB per durability need, bucket-per-entity
// (here, fixed buckets keyed by module name), JSON-ish encoded values, Update/View
// closures. startup (durable, one file written atomically by bbolt's own
// single-writer mmap'd B+tree) and the operational diff overlay (same
// durability need) are modeled this way directly.
//
// running and candidate are NOT bbolt: spec.md §3/§4.1 is explicit that
// they are "memory-mapped, recreated on first access for running, lazily
// created for candidate" — genuinely process-shared regions, not a
// private per-process embedded database. They are backed by
// internal/shm.Region + internal/shm.Heap (shmfile.go), the same
// allocator the module registry uses for Ext SHM, generalized here to
// hold opaque per-module data blobs instead of descriptors.
package store
