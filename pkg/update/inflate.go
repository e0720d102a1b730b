package update

import (
	"context"
	"fmt"

	"github.com/cuemby/enkf/pkg/types"
	"gonum.org/v1/gonum/stat"
)

// Inflate widens the analyzed ensemble of every key whose variable has a
// MinStd floor. For each element the deviations from the ensemble mean are
// scaled by max(1, MinStd/std). It returns the keys that were inflated.
func (s *Serializer) Inflate(ctx context.Context, keys []string) ([]string, error) {
	var inflated []string
	for _, key := range keys {
		v, ok := s.Vars.Get(key)
		if !ok || v.MinStd <= 0 {
			continue
		}
		if s.ParametersOnly && v.VarType != types.VarParameter {
			continue
		}
		if err := s.inflateKey(ctx, key, v.MinStd); err != nil {
			return inflated, fmt.Errorf("failed to inflate %s: %w", key, err)
		}
		inflated = append(inflated, key)
	}
	return inflated, nil
}

func (s *Serializer) inflateKey(ctx context.Context, key string, minStd float64) error {
	nodes := make([]*types.Node, len(s.Members))
	err := s.Pool.ForEach(ctx, len(s.Members), func(ctx context.Context, col int) error {
		id := types.NodeID{ReportStep: s.TargetStep, Iens: s.Members[col], Phase: types.PhaseAnalyzed}
		node, err := s.Target.Load(key, id)
		if err != nil {
			return err
		}
		nodes[col] = node
		return nil
	})
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return nil
	}

	size := len(nodes[0].Data)
	for _, n := range nodes {
		if len(n.Data) != size {
			return fmt.Errorf("members disagree on node size")
		}
	}

	column := make([]float64, len(nodes))
	for i := 0; i < size; i++ {
		for j, n := range nodes {
			column[j] = n.Data[i]
		}
		mean, std := stat.PopMeanStdDev(column, nil)
		if std == 0 || std >= minStd {
			continue
		}
		factor := minStd / std
		for _, n := range nodes {
			n.Data[i] = mean + factor*(n.Data[i]-mean)
		}
	}

	return s.Pool.ForEach(ctx, len(s.Members), func(ctx context.Context, col int) error {
		id := types.NodeID{ReportStep: s.TargetStep, Iens: s.Members[col], Phase: types.PhaseAnalyzed}
		return s.Target.Save(nodes[col], id)
	})
}
