// Package lock implements the datastore engine's RW lock primitive
// (spec.md §4.2): READ, READ-UPGRADEABLE, and WRITE modes with a
// per-acquisition absolute deadline, plus the file-based locks used for
// one-time SHM creation and per-connection liveness (§5, §8 scenario 6).
//
// In the real engine these locks are process-shared (a mutex+condvar pair
// living in Main SHM, so any attached process can wait on them). This is a
// single-process port, so the RW lock below is built on sync.Mutex and
// sync.Cond the way the teacher's pkg/events.Broker coordinates goroutines
// around a mutex-guarded map — the cross-process requirement is kept only
// for the file locks, which genuinely cross process boundaries via flock(2).
package lock
