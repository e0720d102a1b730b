package update

import (
	"context"
	"fmt"

	"github.com/cuemby/enkf/pkg/ensemble"
	"github.com/cuemby/enkf/pkg/localconfig"
	"github.com/cuemby/enkf/pkg/parallel"
	"github.com/cuemby/enkf/pkg/storage"
	"github.com/cuemby/enkf/pkg/types"
)

// Serializer moves variable nodes between the stores and the state matrix
type Serializer struct {
	Pool *parallel.Pool
	Vars *ensemble.Catalogue

	// Source holds the forecast; Target receives the analyzed state
	Source storage.Store
	Target storage.Store

	// LoadStep is the report step forecasts are read at; TargetStep is where
	// analyzed nodes are written (and re-read on later use in the same run)
	LoadStep   int
	TargetStep int

	// Members are the matrix columns, in order
	Members []int

	// ParametersOnly skips every non-parameter variable (smoother updates)
	ParametersOnly bool
}

// activeIndices resolves the node elements of key the dataset updates. A
// runtime-sized variable is sized from the first member's forecast.
func (s *Serializer) activeIndices(key string, active *localconfig.ActiveList) ([]int, error) {
	v, ok := s.Vars.Get(key)
	if !ok {
		return nil, fmt.Errorf("variable %s not in catalogue", key)
	}
	if s.ParametersOnly && v.VarType != types.VarParameter {
		return nil, nil
	}
	if _, fixed := v.DataSize(); !fixed {
		if len(s.Members) == 0 {
			return nil, nil
		}
		id := types.NodeID{ReportStep: s.LoadStep, Iens: s.Members[0], Phase: types.PhaseForecast}
		node, err := s.Source.Load(key, id)
		if err != nil {
			return nil, fmt.Errorf("failed to size %s: %w", key, err)
		}
		if err := v.ObserveSize(len(node.Data)); err != nil {
			return nil, err
		}
	}
	return active.Select(v.ActiveIndices()), nil
}

func (s *Serializer) loadNode(e RowEntry, iens int) (*types.Node, error) {
	store := s.Source
	if e.FromTarget {
		store = s.Target
	}
	id := types.NodeID{ReportStep: e.Step, Iens: iens, Phase: e.Phase}
	node, err := store.Load(e.Key, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %s: %w", e.Key, id, err)
	}
	return node, nil
}

// SerializeDataset fills buf with the active elements of every variable in
// ds. Keys are laid out in dataset order, with all row offsets fixed before
// any member is loaded; each key's rows are filled in parallel over member
// partitions. Keys with no active elements get an empty entry.
func (s *Serializer) SerializeDataset(ctx context.Context, uc *Context, ds *localconfig.Dataset, buf *Buffer) (*RowTable, error) {
	if buf.Cols() != len(s.Members) {
		return nil, fmt.Errorf("matrix has %d columns for %d members", buf.Cols(), len(s.Members))
	}
	table := &RowTable{Dataset: ds.Name}
	buf.Shrink(0)

	offset := 0
	for _, key := range ds.Keys() {
		active, err := s.activeIndices(key, ds.ActiveList(key))
		if err != nil {
			return nil, err
		}
		entry := RowEntry{Key: key, RowOffset: offset, Active: active}
		if len(active) > 0 {
			entry.Phase = uc.Phase(key)
			entry.Step = s.LoadStep
			if entry.Phase == types.PhaseAnalyzed {
				entry.Step = s.TargetStep
				entry.FromTarget = true
			}
			buf.Reserve(offset, len(active))
			offset += len(active)
		}
		table.Entries = append(table.Entries, entry)
	}

	for _, e := range table.Entries {
		if e.Rows() == 0 {
			continue
		}
		err := s.Pool.ForEach(ctx, len(s.Members), func(ctx context.Context, col int) error {
			node, err := s.loadNode(e, s.Members[col])
			if err != nil {
				return err
			}
			if v, ok := s.Vars.Get(e.Key); ok {
				if err := v.ObserveSize(len(node.Data)); err != nil {
					return err
				}
			}
			for r, idx := range e.Active {
				buf.Set(e.RowOffset+r, col, node.Data[idx])
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to serialize %s: %w", e.Key, err)
		}
		uc.MarkSerialized(e.Key)
	}

	buf.Shrink(offset)
	return table, nil
}

// DeserializeDataset writes the rows of buf back into the variables of the
// table. Each member's node is re-read from where it was serialized so the
// inactive elements are kept, then stored as ANALYZED at TargetStep in the
// target store.
func (s *Serializer) DeserializeDataset(ctx context.Context, table *RowTable, buf *Buffer) error {
	if table.Rows() != buf.Rows() {
		return fmt.Errorf("row table of %s has %d rows, matrix has %d", table.Dataset, table.Rows(), buf.Rows())
	}
	for _, e := range table.Entries {
		if e.Rows() == 0 {
			continue
		}
		err := s.Pool.ForEach(ctx, len(s.Members), func(ctx context.Context, col int) error {
			iens := s.Members[col]
			node, err := s.loadNode(e, iens)
			if err != nil {
				return err
			}
			for r, idx := range e.Active {
				node.Data[idx] = buf.At(e.RowOffset+r, col)
			}
			id := types.NodeID{ReportStep: s.TargetStep, Iens: iens, Phase: types.PhaseAnalyzed}
			if err := s.Target.Save(node, id); err != nil {
				return fmt.Errorf("failed to store %s %s: %w", e.Key, id, err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to deserialize %s: %w", e.Key, err)
		}
	}
	return nil
}
