package storage

import (
	"errors"
	"fmt"

	"github.com/cuemby/enkf/pkg/types"
)

var (
	// ErrNodeNotFound is returned when a (key, step, iens, phase) cell is empty
	ErrNodeNotFound = errors.New("node not found")

	// ErrNotMounted is returned when a mount point does not exist and
	// creation was not requested
	ErrNotMounted = errors.New("mount point does not exist")

	// ErrIncompatibleVersion is returned when the on-disk layout was written
	// by a different storage version
	ErrIncompatibleVersion = errors.New("incompatible storage version")
)

// Store defines the interface for ensemble state storage
// This is implemented by BoltDB-backed and in-memory storage
type Store interface {
	// Load returns the node stored for key at id
	Load(key string, id types.NodeID) (*types.Node, error)

	// Save writes node under its key at id, replacing any previous value
	Save(node *types.Node, id types.NodeID) error

	// Has reports whether a node exists for key at id
	Has(key string, id types.NodeID) (bool, error)

	// MountPoint identifies the store, e.g. the case directory
	MountPoint() string

	// Sync flushes pending writes to stable storage
	Sync() error

	// Close releases the store
	Close() error
}

// CopySpec selects the source and target cells of a Copy
type CopySpec struct {
	FromStep  int
	FromPhase types.StatePhase
	ToStep    int
	ToPhase   types.StatePhase

	// Members lists the source member indices to copy
	Members []int

	// Mapping maps a source member index to its target index; nil copies
	// each member onto itself. Used for ranked ensemble subsetting.
	Mapping []int
}

// Copy copies the node of key for every selected member from src to dst,
// re-ranking members through cs.Mapping
func Copy(src, dst Store, key string, cs CopySpec) error {
	for _, srcIens := range cs.Members {
		targetIens := srcIens
		if cs.Mapping != nil {
			if srcIens < 0 || srcIens >= len(cs.Mapping) {
				return fmt.Errorf("member %d outside ranking of size %d", srcIens, len(cs.Mapping))
			}
			targetIens = cs.Mapping[srcIens]
		}

		from := types.NodeID{ReportStep: cs.FromStep, Iens: srcIens, Phase: cs.FromPhase}
		to := types.NodeID{ReportStep: cs.ToStep, Iens: targetIens, Phase: cs.ToPhase}

		node, err := src.Load(key, from)
		if err != nil {
			return fmt.Errorf("failed to load %s %s: %w", key, from, err)
		}
		if err := dst.Save(node, to); err != nil {
			return fmt.Errorf("failed to store %s %s: %w", key, to, err)
		}
	}
	return nil
}

func cellKey(key string, id types.NodeID) []byte {
	return []byte(fmt.Sprintf("%s/%d/%d", key, id.ReportStep, id.Iens))
}
