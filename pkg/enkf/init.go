package enkf

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/cuemby/enkf/pkg/log"
	"github.com/cuemby/enkf/pkg/parallel"
	"github.com/cuemby/enkf/pkg/storage"
	"github.com/cuemby/enkf/pkg/types"
)

// InitStep is the report step parameters are initialized at
const InitStep = 0

// InitializeFromScratch draws every parameter in keys from its prior for
// members iens1..iens2 (inclusive). Members that already hold a node are
// left alone unless force is set. Each member draws from its own generator
// seeded by the experiment seed and its index, so the result does not depend
// on how members are partitioned.
func (m *Main) InitializeFromScratch(ctx context.Context, keys []string, iens1, iens2 int, force bool) error {
	if iens2 < iens1 {
		return nil
	}
	store := m.Store()
	if store == nil {
		return fmt.Errorf("no case selected")
	}
	logger := log.WithComponent("enkf")

	for _, key := range keys {
		v, ok := m.Vars.Get(key)
		if !ok {
			return fmt.Errorf("unknown variable %s", key)
		}
		if v.VarType != types.VarParameter {
			return fmt.Errorf("variable %s is not a parameter", key)
		}
		if v.Prior == nil {
			return fmt.Errorf("parameter %s has no prior", key)
		}
		if _, fixed := v.DataSize(); !fixed {
			return fmt.Errorf("parameter %s has no size", key)
		}
	}

	count := iens2 - iens1 + 1
	err := m.Pool.ForEachRange(ctx, count, func(ctx context.Context, r parallel.Range) error {
		for i := r.Start; i < r.End; i++ {
			iens := iens1 + i
			rng := rand.New(rand.NewPCG(m.seed, uint64(iens)))
			id := types.NodeID{ReportStep: InitStep, Iens: iens, Phase: types.PhaseForecast}
			for _, key := range keys {
				v, _ := m.Vars.Get(key)
				size, _ := v.DataSize()
				data := make([]float64, size)
				for j := range data {
					data[j] = v.Prior.Mean + v.Prior.Std*rng.NormFloat64()
				}
				if !force {
					has, err := store.Has(key, id)
					if err != nil {
						return err
					}
					if has {
						continue
					}
				}
				if err := store.Save(&types.Node{Key: key, Data: data}, id); err != nil {
					return fmt.Errorf("failed to initialize %s for member %d: %w", key, iens, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := store.Sync(); err != nil {
		return fmt.Errorf("failed to sync store: %w", err)
	}
	logger.Info().
		Strs("keys", keys).
		Int("iens1", iens1).
		Int("iens2", iens2).
		Bool("force", force).
		Msg("Initialized parameters from prior")
	return nil
}

// Ranking orders members by one element of a stored node
type Ranking struct {
	Key   string
	Step  int
	Phase types.StatePhase
	Index int
}

// RankBy returns a mapping from member index to target index: the member
// holding the k-th smallest value is mapped onto the k-th smallest index of
// members. Indices outside members map onto themselves.
func RankBy(store storage.Store, r Ranking, members []int) ([]int, error) {
	size := 0
	for _, iens := range members {
		if iens+1 > size {
			size = iens + 1
		}
	}
	mapping := make([]int, size)
	for i := range mapping {
		mapping[i] = i
	}

	type ranked struct {
		iens  int
		value float64
	}
	values := make([]ranked, 0, len(members))
	for _, iens := range members {
		node, err := store.Load(r.Key, types.NodeID{ReportStep: r.Step, Iens: iens, Phase: r.Phase})
		if err != nil {
			return nil, fmt.Errorf("failed to rank member %d: %w", iens, err)
		}
		if r.Index < 0 || r.Index >= len(node.Data) {
			return nil, fmt.Errorf("ranking index %d outside %s of size %d", r.Index, r.Key, len(node.Data))
		}
		values = append(values, ranked{iens: iens, value: node.Data[r.Index]})
	}
	sort.SliceStable(values, func(i, j int) bool { return values[i].value < values[j].value })

	slots := append([]int(nil), members...)
	sort.Ints(slots)
	for k, v := range values {
		mapping[v.iens] = slots[k]
	}
	return mapping, nil
}

// CopyRequest describes an ensemble copy between cases
type CopyRequest struct {
	SourceCase  string
	SourceStep  int
	SourcePhase types.StatePhase

	// TargetCase empty means the current case
	TargetCase  string
	TargetStep  int
	TargetPhase types.StatePhase

	Members []int
	Keys    []string

	// Ranking optionally re-orders members on the way
	Ranking *Ranking
}

// CopyEnsemble copies nodes between cases, optionally re-ranking members
func (m *Main) CopyEnsemble(ctx context.Context, req CopyRequest) error {
	src, err := m.Registry.Open(req.SourceCase, false)
	if err != nil {
		return err
	}
	defer m.Registry.Release(src)

	dst := m.Store()
	if req.TargetCase != "" {
		if dst, err = m.Registry.Open(req.TargetCase, true); err != nil {
			return err
		}
		defer m.Registry.Release(dst)
	}

	cs := storage.CopySpec{
		FromStep:  req.SourceStep,
		FromPhase: req.SourcePhase,
		ToStep:    req.TargetStep,
		ToPhase:   req.TargetPhase,
		Members:   req.Members,
	}
	if req.Ranking != nil {
		if cs.Mapping, err = RankBy(src, *req.Ranking, req.Members); err != nil {
			return err
		}
	}

	for _, key := range req.Keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := storage.Copy(src, dst, key, cs); err != nil {
			return err
		}
	}
	if err := dst.Sync(); err != nil {
		return fmt.Errorf("failed to sync target case: %w", err)
	}

	logger := log.WithComponent("enkf")
	logger.Info().
		Str("source", req.SourceCase).
		Str("target", dst.MountPoint()).
		Strs("keys", req.Keys).
		Int("members", len(req.Members)).
		Bool("ranked", req.Ranking != nil).
		Msg("Copied ensemble")
	return nil
}

// InitializeFromExisting copies the parameters of members from sourceCase
// into the current case as ANALYZED at the init step
func (m *Main) InitializeFromExisting(ctx context.Context, sourceCase string, sourceStep int, sourcePhase types.StatePhase, members []int, ranking *Ranking) error {
	return m.CopyEnsemble(ctx, CopyRequest{
		SourceCase:  sourceCase,
		SourceStep:  sourceStep,
		SourcePhase: sourcePhase,
		TargetStep:  InitStep,
		TargetPhase: types.PhaseAnalyzed,
		Members:     members,
		Keys:        m.Parameters(),
		Ranking:     ranking,
	})
}
