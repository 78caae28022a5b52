package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/sysrepod/internal/config"
	"github.com/cuemby/sysrepod/internal/datatree"
	"github.com/cuemby/sysrepod/internal/registry"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketStartup     = []byte("startup")
	bucketOperDiff    = []byte("operational_diff")
	bucketNotifyReply = []byte("notifications")
)

// Store is the persisted datastore layer for all four datastores (spec.md
// §3). startup and the operational diff overlay are durable bbolt files;
// running and candidate are SHM-backed (shmfile.go).
type Store struct {
	dt datatree.DataTree

	startupDB *bolt.DB // <repo>/data/<prefix>.startup.db, one fixed bucket keyed by module name
	operDB    *bolt.DB // <repo>/data/<prefix>.operational.db, fixed buckets keyed by module name

	running   *shmFile
	candidate *shmFile
}

// Open creates/opens every backing file for the given config and shm
// prefix, following the path layout in spec.md §6.
func Open(cfg *config.Config, dt datatree.DataTree) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(cfg.RepoPath, "data"), 0700); err != nil {
		return nil, fmt.Errorf("store: create repo data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.ShmPath, 0700); err != nil {
		return nil, fmt.Errorf("store: create shm dir: %w", err)
	}

	startupDB, err := bolt.Open(filepath.Join(cfg.RepoPath, "data", cfg.ShmPrefix+".startup.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open startup db: %w", err)
	}
	if err := startupDB.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketStartup)
		return err
	}); err != nil {
		startupDB.Close()
		return nil, fmt.Errorf("store: init startup bucket: %w", err)
	}

	operDB, err := bolt.Open(filepath.Join(cfg.RepoPath, "data", cfg.ShmPrefix+".operational.db"), 0600, nil)
	if err != nil {
		startupDB.Close()
		return nil, fmt.Errorf("store: open operational db: %w", err)
	}
	if err := operDB.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketOperDiff); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketNotifyReply)
		return err
	}); err != nil {
		startupDB.Close()
		operDB.Close()
		return nil, fmt.Errorf("store: init operational buckets: %w", err)
	}

	running, err := openShmFile(
		filepath.Join(cfg.ShmPath, cfg.ShmPrefix+"_running.dir"),
		filepath.Join(cfg.ShmPath, cfg.ShmPrefix+"_running.heap"),
	)
	if err != nil {
		startupDB.Close()
		operDB.Close()
		return nil, err
	}
	candidate, err := openShmFile(
		filepath.Join(cfg.ShmPath, cfg.ShmPrefix+"_candidate.dir"),
		filepath.Join(cfg.ShmPath, cfg.ShmPrefix+"_candidate.heap"),
	)
	if err != nil {
		startupDB.Close()
		operDB.Close()
		running.Close()
		return nil, err
	}

	return &Store{dt: dt, startupDB: startupDB, operDB: operDB, running: running, candidate: candidate}, nil
}

// Close releases every backing file.
func (s *Store) Close() error {
	var firstErr error
	for _, c := range []func() error{s.startupDB.Close, s.operDB.Close, s.running.Close, s.candidate.Close} {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LoadStartup reads module's durable startup data tree.
func (s *Store) LoadStartup(module string) (*datatree.Tree, error) {
	var payload []byte
	err := s.startupDB.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketStartup).Get([]byte(module)); v != nil {
			payload = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: read startup %s: %w", module, err)
	}
	return s.dt.Parse(payload)
}

// WriteStartup atomically replaces module's startup data (bbolt's own
// single-writer transaction commit is the "create-temp + rename" atomicity
// spec.md §5 requires).
func (s *Store) WriteStartup(module string, tree *datatree.Tree) error {
	payload, err := s.dt.Print(tree)
	if err != nil {
		return fmt.Errorf("store: encode startup %s: %w", module, err)
	}
	return s.startupDB.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStartup).Put([]byte(module), payload)
	})
}

// LoadRunning reads module's running data tree, or an empty tree if the
// running datastore hasn't been created for it yet (spec.md §3:
// "recreated on first access for running").
func (s *Store) LoadRunning(module string) (*datatree.Tree, error) {
	return s.loadShm(s.running, module)
}

// WriteRunning persists module's running data tree.
func (s *Store) WriteRunning(module string, tree *datatree.Tree) error {
	return s.writeShm(s.running, module, tree)
}

// LoadCandidate reads module's candidate data tree, or an empty tree if
// not yet created ("lazily created for candidate").
func (s *Store) LoadCandidate(module string) (*datatree.Tree, error) {
	return s.loadShm(s.candidate, module)
}

// WriteCandidate persists module's candidate data tree.
func (s *Store) WriteCandidate(module string, tree *datatree.Tree) error {
	return s.writeShm(s.candidate, module, tree)
}

// ResetCandidate drops every module's candidate data. Per spec.md §9's
// open question, this only ever touches the current shm_prefix's files —
// a stale differently-prefixed candidate file is left untouched and
// undiscovered, matching the documented unspecified behavior.
func (s *Store) ResetCandidate() error {
	return s.candidate.Reset()
}

func (s *Store) loadShm(f *shmFile, module string) (*datatree.Tree, error) {
	payload, ok, err := f.Load(module)
	if err != nil {
		return nil, err
	}
	if !ok {
		return datatree.NewTree(), nil
	}
	return s.dt.Parse(payload)
}

func (s *Store) writeShm(f *shmFile, module string, tree *datatree.Tree) error {
	payload, err := s.dt.Print(tree)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", module, err)
	}
	return f.Store(module, payload)
}

// LoadOperationalDiff reads module's persisted operational diff overlay.
func (s *Store) LoadOperationalDiff(module string) (*datatree.Diff, error) {
	var payload []byte
	err := s.operDB.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketOperDiff).Get([]byte(module)); v != nil {
			payload = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: read operational diff %s: %w", module, err)
	}
	if payload == nil {
		return &datatree.Diff{}, nil
	}
	diff, err := datatree.UnmarshalDiff(payload)
	if err != nil {
		return nil, fmt.Errorf("store: decode operational diff %s: %w", module, err)
	}
	return diff, nil
}

// WriteOperationalDiff atomically replaces module's persisted operational
// diff overlay (spec.md §4.11: "merge ... then write atomically").
func (s *Store) WriteOperationalDiff(module string, diff *datatree.Diff) error {
	payload, err := datatree.MarshalDiff(diff)
	if err != nil {
		return fmt.Errorf("store: encode operational diff %s: %w", module, err)
	}
	return s.operDB.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOperDiff).Put([]byte(module), payload)
	})
}

// AppendNotificationReplay persists a replay copy of a change-notification
// under key, standing in for the out-of-scope replay-log store (spec.md
// §4.10: "the core only needs rendezvous ... persist a replay copy").
func (s *Store) AppendNotificationReplay(key string, payload []byte) error {
	return s.operDB.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNotifyReply).Put([]byte(key), payload)
	})
}

// loadByDatastore resolves which Store accessor covers ds, used by generic
// loader/writer code (loader.go/writer.go) that iterates datastores.
func (s *Store) loadByDatastore(ds registry.Datastore, module string) (*datatree.Tree, error) {
	switch ds {
	case registry.Startup:
		return s.LoadStartup(module)
	case registry.Running:
		return s.LoadRunning(module)
	case registry.Candidate:
		return s.LoadCandidate(module)
	default:
		return nil, fmt.Errorf("store: %s has no direct data tree (use operational diff accessors)", ds)
	}
}
