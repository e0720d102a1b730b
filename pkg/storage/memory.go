package storage

import (
	"fmt"
	"sync"

	"github.com/cuemby/enkf/pkg/types"
)

// MemoryStore is a Store kept entirely in memory. Nodes are copied on the
// way in and out so callers never share backing arrays with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	name  string
	cells map[types.StatePhase]map[string]*types.Node
}

// NewMemoryStore creates an empty in-memory store identified by name
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{
		name: name,
		cells: map[types.StatePhase]map[string]*types.Node{
			types.PhaseForecast: {},
			types.PhaseAnalyzed: {},
		},
	}
}

func (s *MemoryStore) Save(node *types.Node, id types.NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cells, ok := s.cells[id.Phase]
	if !ok {
		return fmt.Errorf("invalid state phase: %q", id.Phase)
	}
	cells[string(cellKey(node.Key, id))] = node.Clone()
	return nil
}

func (s *MemoryStore) Load(key string, id types.NodeID) (*types.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cells, ok := s.cells[id.Phase]
	if !ok {
		return nil, fmt.Errorf("invalid state phase: %q", id.Phase)
	}
	node, ok := cells[string(cellKey(key, id))]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNodeNotFound, key, id)
	}
	return node.Clone(), nil
}

func (s *MemoryStore) Has(key string, id types.NodeID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cells[id.Phase][string(cellKey(key, id))]
	return ok, nil
}

func (s *MemoryStore) MountPoint() string {
	return s.name
}

func (s *MemoryStore) Sync() error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
