package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/enkf/pkg/types"
	bolt "go.etcd.io/bbolt"
)

const (
	// LayoutVersion is written into every new mount point. Opening a mount
	// point with a different version fails with ErrIncompatibleVersion.
	LayoutVersion = "106"

	dbFileName = "enkf.db"
)

var (
	// Bucket names
	bucketMeta     = []byte("meta")
	bucketForecast = []byte("forecast")
	bucketAnalyzed = []byte("analyzed")

	keyVersion = []byte("version")
)

// MountOptions controls how a mount point is opened
type MountOptions struct {
	// Create initializes the mount point when it does not exist
	Create bool

	// ReadOnly opens the database without write access
	ReadOnly bool
}

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db         *bolt.DB
	mountPoint string
	readOnly   bool
}

// Exists reports whether path holds an initialized mount point
func Exists(path string) bool {
	_, err := os.Stat(filepath.Join(path, dbFileName))
	return err == nil
}

// Mount opens the store rooted at path
func Mount(path string, opts MountOptions) (*BoltStore, error) {
	dbPath := filepath.Join(path, dbFileName)

	exists := Exists(path)
	if !exists {
		if !opts.Create {
			return nil, fmt.Errorf("%w: %s", ErrNotMounted, path)
		}
		if opts.ReadOnly {
			return nil, fmt.Errorf("cannot create read-only mount point %s", path)
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create mount point: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{
		Timeout:  5 * time.Second,
		ReadOnly: opts.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if exists {
		err = checkVersion(db, path)
	} else {
		err = initLayout(db)
	}
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, mountPoint: path, readOnly: opts.ReadOnly}, nil
}

func initLayout(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketMeta, bucketForecast, bucketAnalyzed} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return tx.Bucket(bucketMeta).Put(keyVersion, []byte(LayoutVersion))
	})
}

func checkVersion(db *bolt.DB, path string) error {
	return db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return fmt.Errorf("%w: %s has no version information and must be upgraded", ErrIncompatibleVersion, path)
		}
		version := string(meta.Get(keyVersion))
		if version != LayoutVersion {
			return fmt.Errorf("%w: %s has version %q, this build reads %q; the filesystem must be upgraded",
				ErrIncompatibleVersion, path, version, LayoutVersion)
		}
		return nil
	})
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// MountPoint returns the directory the store is rooted at
func (s *BoltStore) MountPoint() string {
	return s.mountPoint
}

// Sync forces an fsync of the database file
func (s *BoltStore) Sync() error {
	if s.readOnly {
		return nil
	}
	return s.db.Sync()
}

func phaseBucket(phase types.StatePhase) ([]byte, error) {
	switch phase {
	case types.PhaseForecast:
		return bucketForecast, nil
	case types.PhaseAnalyzed:
		return bucketAnalyzed, nil
	default:
		return nil, fmt.Errorf("invalid state phase: %q", phase)
	}
}

// Save writes one cell. Concurrent saves from the member fan-outs are
// coalesced by bolt's Batch into shared transactions.
func (s *BoltStore) Save(node *types.Node, id types.NodeID) error {
	name, err := phaseBucket(id.Phase)
	if err != nil {
		return err
	}
	key := cellKey(node.Key, id)
	data := encodeNode(node)
	return s.db.Batch(func(tx *bolt.Tx) error {
		return tx.Bucket(name).Put(key, data)
	})
}

func (s *BoltStore) Load(key string, id types.NodeID) (*types.Node, error) {
	name, err := phaseBucket(id.Phase)
	if err != nil {
		return nil, err
	}
	var node *types.Node
	err = s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(name).Get(cellKey(key, id))
		if data == nil {
			return fmt.Errorf("%w: %s %s", ErrNodeNotFound, key, id)
		}
		var err error
		if node, err = decodeNode(data); err != nil {
			return fmt.Errorf("failed to decode %s %s: %w", key, id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

func (s *BoltStore) Has(key string, id types.NodeID) (bool, error) {
	name, err := phaseBucket(id.Phase)
	if err != nil {
		return false, err
	}
	var found bool
	err = s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(name).Get(cellKey(key, id)) != nil
		return nil
	})
	return found, err
}

// CountNodes returns the number of stored cells per phase
func (s *BoltStore) CountNodes() (map[types.StatePhase]int, error) {
	counts := make(map[types.StatePhase]int)
	err := s.db.View(func(tx *bolt.Tx) error {
		for phase, name := range map[types.StatePhase][]byte{
			types.PhaseForecast: bucketForecast,
			types.PhaseAnalyzed: bucketAnalyzed,
		} {
			counts[phase] = tx.Bucket(name).Stats().KeyN
		}
		return nil
	})
	return counts, err
}
