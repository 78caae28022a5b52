package conn

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/sysrepod/internal/cache"
	"github.com/cuemby/sysrepod/internal/compose"
	"github.com/cuemby/sysrepod/internal/config"
	"github.com/cuemby/sysrepod/internal/datatree"
	"github.com/cuemby/sysrepod/internal/lock"
	"github.com/cuemby/sysrepod/internal/logging"
	"github.com/cuemby/sysrepod/internal/modinfo"
	"github.com/cuemby/sysrepod/internal/registry"
	"github.com/cuemby/sysrepod/internal/registry/monitoring"
	"github.com/cuemby/sysrepod/internal/rendezvous"
	"github.com/cuemby/sysrepod/internal/shm"
	"github.com/cuemby/sysrepod/internal/store"
)

// defaultModuleCapacity bounds the Main SHM module slot table (spec.md
// §4.1). It is generous for the n ≈ 10²-10³ modules spec.md §4.3 expects.
const defaultModuleCapacity = 1024

// Manager is the datastore engine's process-wide handle: every subsystem
// (SHM arena, registry, store, cache, composer, provider rendezvous) plus
// the two global locks spec.md §5's ordering rule names first (SHM RW,
// remap RW) and the live connection table the crash-recovery scan walks.
type Manager struct {
	cfg *config.Config

	arena     *shm.Arena
	reg       *registry.Registry
	resolver  *modinfo.Resolver
	rc        *cache.Cache
	dt        datatree.DataTree
	st        *store.Store
	providers *rendezvous.Registry
	composer  *compose.Composer

	// shmLock is taken in WRITE mode for subscription add/remove
	// (withShmWrite) and for the dead-connection scan (reclaimDead); module
	// registration does not take it. remapLock stands in for the real
	// engine's process-local mmap-pointer stability guard; this port's
	// arena never remaps, so remapLock is created but never acquired.
	shmLock   *lock.RWLock
	remapLock *lock.RWLock

	mu    sync.Mutex
	conns map[uint32]*Connection
}

// Open wires up every subsystem for a fresh Manager, following the
// storage/SHM path layout spec.md §6 describes.
func Open(cfg *config.Config) (*Manager, error) {
	logging.Init(logging.Config{Level: logging.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

	if err := os.MkdirAll(cfg.ShmPath, 0700); err != nil {
		return nil, fmt.Errorf("conn: create shm dir: %w", err)
	}
	if err := os.MkdirAll(connLockDir(cfg), 0700); err != nil {
		return nil, fmt.Errorf("conn: create connection lock dir: %w", err)
	}

	arena, err := shm.OpenArena(
		filepath.Join(cfg.ShmPath, cfg.ShmPrefix+"_main"),
		filepath.Join(cfg.ShmPath, cfg.ShmPrefix+"_ext"),
		defaultModuleCapacity,
	)
	if err != nil {
		return nil, fmt.Errorf("conn: open shm arena: %w", err)
	}

	reg := registry.New(arena)
	dt := datatree.NewMem()

	st, err := store.Open(cfg, dt)
	if err != nil {
		arena.Close()
		return nil, err
	}

	cacheSize := cfg.RunningCacheSize
	if cacheSize <= 0 {
		cacheSize = int(defaultModuleCapacity)
	}
	rc, err := cache.New(cacheSize)
	if err != nil {
		st.Close()
		arena.Close()
		return nil, fmt.Errorf("conn: init running cache: %w", err)
	}

	providers := rendezvous.NewRegistry()
	timeout := time.Duration(cfg.DefaultTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 2500 * time.Millisecond
	}
	composer := compose.New(reg, dt, providers, cfg.RepoPath, timeout)

	m := &Manager{
		cfg:       cfg,
		arena:     arena,
		reg:       reg,
		resolver:  modinfo.NewResolver(reg),
		rc:        rc,
		dt:        dt,
		st:        st,
		providers: providers,
		composer:  composer,
		shmLock:   lock.New(),
		remapLock: lock.New(),
		conns:     make(map[uint32]*Connection),
	}
	composer.Connections = m.connectionLocksSnapshot
	return m, nil
}

// Registry exposes the module registry, mainly for callers (cmd/sdctl,
// internal/introspect) that only need read-only introspection.
func (m *Manager) Registry() *registry.Registry { return m.reg }

// Store exposes the datastore layer for callers that need direct
// startup-file access (module installation is out of scope, §1, but the
// CLI's seed/dump commands need a path in).
func (m *Manager) Store() *store.Store { return m.st }

// Providers exposes the provider rendezvous registry so an in-process
// operational-data provider can Register itself against an evpipe number
// handed out by SubscribeOperational.
func (m *Manager) Providers() *rendezvous.Registry { return m.providers }

// ConnectionSnapshots renders every live connection's CID, SID, and
// currently-held locks, the same feed the sysrepo-monitoring internal
// module composes into operational data (spec.md §4.9.C). Exported for
// internal/introspect and cmd/sdctl, which need the same facts reachable
// from outside a session.
func (m *Manager) ConnectionSnapshots() []monitoring.ConnectionLocks {
	return m.connectionLocksSnapshot()
}

// ShmStats reports the two SHM regions' defragmentation-relevant state
// (spec.md §4.1's `wasted` counter) for introspection/CLI callers.
func (m *Manager) ShmStats() (extWastedRatio float64, modCount, capacity uint32) {
	return m.arena.Ext().WastedRatio(), m.arena.ModCount(), m.arena.Capacity()
}

// CompactShm forces an Ext SHM defragmentation pass (spec.md §4.1: normally
// "triggered on WRITE unlock when wasted exceeds a threshold"). Exposed for
// cmd/sdctl's admin "force-compact" command, outside the normal unlock
// path.
func (m *Manager) CompactShm() {
	m.arena.Ext().Defrag()
}

// Close releases every open connection and backing resource.
func (m *Manager) Close() error {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}

	var firstErr error
	if err := m.st.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := m.arena.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func connLockDir(cfg *config.Config) string {
	return filepath.Join(cfg.ShmPath, cfg.ShmPrefix+"sr_conn_locks")
}

// Connection is one client connection's state: its id, its default
// session id, the liveness lock file held open for its entire lifetime
// (spec.md §5/§6), its effective options, and the module locks and
// subscriptions it currently owns (used by both the recovery scan and the
// sysrepo-monitoring internal module, §4.9.C).
type Connection struct {
	mgr *Manager

	CID uint32
	SID uint32

	CacheEnabled bool
	Strict       bool

	lockFile *lock.FileLock

	mu     sync.Mutex
	locks  []HeldLock
	closed bool
}

// HeldLock is one module data_lock a connection currently holds, tracked
// so LockSet/UnlockSet can roll back cleanly and so monitoring.Generate
// can render it (spec.md §3, §4.9.C).
type HeldLock struct {
	Module string
	DS     registry.Datastore
	Mode   lock.Mode

	lk *lock.RWLock
}

// Connect registers a new connection: it claims the next connection id
// from the Main SHM header and takes an exclusive flock on its liveness
// file for the rest of its lifetime (spec.md §5/§6).
func (m *Manager) Connect(ctx context.Context) (*Connection, error) {
	if err := m.reclaimDead(ctx); err != nil {
		logging.Warn(fmt.Sprintf("conn: reclaim scan on connect failed: %v", err))
	}

	cid := m.arena.NextConnID()
	sid := m.arena.NextSessionID()

	path := filepath.Join(connLockDir(m.cfg), fmt.Sprintf("conn_%d.lock", cid))
	fl, err := lock.OpenFileLock(path)
	if err != nil {
		return nil, fmt.Errorf("conn: open liveness lock for connection %d: %w", cid, err)
	}
	if err := fl.Lock(); err != nil {
		fl.Close()
		return nil, fmt.Errorf("conn: acquire liveness lock for connection %d: %w", cid, err)
	}

	c := &Connection{
		mgr:          m,
		CID:          cid,
		SID:          sid,
		CacheEnabled: m.cfg.RunningCacheEnabled,
		Strict:       m.cfg.StrictPermissions,
		lockFile:     fl,
	}

	m.mu.Lock()
	m.conns[cid] = c
	m.mu.Unlock()

	logging.WithConn(cid).Info().Msg("conn: connection established")
	return c, nil
}

// Close releases every module lock and subscription the connection still
// owns, then drops its liveness lock — the graceful-shutdown counterpart
// to the crash path in recovery.go.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	held := c.locks
	c.locks = nil
	c.mu.Unlock()

	for i := len(held) - 1; i >= 0; i-- {
		held[i].lk.Release(held[i].Mode)
	}

	c.mgr.dropConnectionState(c.CID)

	c.mgr.mu.Lock()
	delete(c.mgr.conns, c.CID)
	c.mgr.mu.Unlock()

	return c.lockFile.Close()
}

// recordLocks appends newly-acquired locks to the connection's held set.
func (c *Connection) recordLocks(newLocks []HeldLock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locks = append(c.locks, newLocks...)
}

// releaseLocksFor removes and returns every held lock matching set's
// primary (and, if set, secondary) datastore for the modules set names,
// so UnlockSet can release exactly the locks one operation acquired.
func (c *Connection) releaseLocksFor(moduleNames map[string]bool, primary, secondary registry.Datastore) []HeldLock {
	c.mu.Lock()
	defer c.mu.Unlock()

	var released, kept []HeldLock
	for _, hl := range c.locks {
		if moduleNames[hl.Module] && (hl.DS == primary || (secondary != "" && hl.DS == secondary)) {
			released = append(released, hl)
			continue
		}
		kept = append(kept, hl)
	}
	c.locks = kept
	return released
}

// connectionLocksSnapshot renders every live connection's currently-held
// locks as monitoring.ConnectionLocks, the feed the sysrepo-monitoring
// internal module's composer step consumes (spec.md §4.9.C). Composer has
// no import of this package; this closure is handed to it at Open time.
func (m *Manager) connectionLocksSnapshot() []monitoring.ConnectionLocks {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	out := make([]monitoring.ConnectionLocks, 0, len(conns))
	for _, c := range conns {
		c.mu.Lock()
		modules := make(map[string]map[registry.Datastore]string)
		for _, hl := range c.locks {
			dsLocks, ok := modules[hl.Module]
			if !ok {
				dsLocks = make(map[registry.Datastore]string)
				modules[hl.Module] = dsLocks
			}
			dsLocks[hl.DS] = string(hl.Mode)
		}
		c.mu.Unlock()
		out = append(out, monitoring.ConnectionLocks{CID: c.CID, Modules: modules})
	}
	return out
}
