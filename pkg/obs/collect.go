package obs

import (
	"context"
	"fmt"

	"github.com/cuemby/enkf/pkg/localconfig"
	"github.com/cuemby/enkf/pkg/parallel"
	"github.com/cuemby/enkf/pkg/storage"
	"github.com/cuemby/enkf/pkg/types"
	"gonum.org/v1/gonum/mat"
)

// Deactivation reasons
const (
	ReasonNoVariation = "no ensemble variation"
	ReasonOutlier     = "outlier"
)

// Observation is one point selected for a ministep, together with the
// ensemble statistics of its simulated counterpart
type Observation struct {
	Key   string
	Step  int
	Index int
	Value float64
	Std   float64

	EnsMean float64
	EnsStd  float64

	Active bool
	Reason string // why the point was deactivated
}

// Data is the observation side of one ministep: the selected points and the
// simulated value of every point for every member
type Data struct {
	Obs []Observation

	// Members holds the member index of every column of the simulated values
	Members []int

	// simulated is len(Obs) x len(Members)
	simulated *mat.Dense
}

// CollectRequest selects what Collect measures
type CollectRequest struct {
	Catalogue *Catalogue
	ObsSet    *localconfig.ObsSet
	Steps     []int
	Members   []int
	Store     storage.Store
}

// Collect gathers the observation points of the obs set falling on the
// requested steps and loads the matching FORECAST values of every member.
// Members are processed in parallel over the pool.
func Collect(ctx context.Context, pool *parallel.Pool, req CollectRequest) (*Data, error) {
	steps := make(map[int]struct{}, len(req.Steps))
	for _, s := range req.Steps {
		steps[s] = struct{}{}
	}

	var selected []Observation
	var dataKeys []string
	for _, key := range req.ObsSet.Keys() {
		vec, ok := req.Catalogue.Get(key)
		if !ok {
			return nil, fmt.Errorf("observation %s not in catalogue", key)
		}
		var candidates []int
		for i, p := range vec.Points {
			if _, ok := steps[p.Step]; ok {
				candidates = append(candidates, i)
			}
		}
		for _, i := range req.ObsSet.ActiveList(key).Select(candidates) {
			p := vec.Points[i]
			selected = append(selected, Observation{
				Key: key, Step: p.Step, Index: p.Index,
				Value: p.Value, Std: p.Std, Active: true,
			})
			dataKeys = append(dataKeys, vec.DataKey)
		}
	}

	d := &Data{Obs: selected, Members: append([]int(nil), req.Members...)}
	if len(selected) == 0 || len(req.Members) == 0 {
		return d, nil
	}
	d.simulated = mat.NewDense(len(selected), len(req.Members), nil)

	err := pool.ForEach(ctx, len(req.Members), func(ctx context.Context, col int) error {
		iens := req.Members[col]
		cache := make(map[string]*types.Node)
		for row, o := range selected {
			id := types.NodeID{ReportStep: o.Step, Iens: iens, Phase: types.PhaseForecast}
			cacheKey := fmt.Sprintf("%s/%d", dataKeys[row], o.Step)
			node, ok := cache[cacheKey]
			if !ok {
				var err error
				node, err = req.Store.Load(dataKeys[row], id)
				if err != nil {
					return fmt.Errorf("failed to measure %s: %w", o.Key, err)
				}
				cache[cacheKey] = node
			}
			if o.Index >= len(node.Data) {
				return fmt.Errorf("observation %s index %d outside %s of size %d", o.Key, o.Index, dataKeys[row], len(node.Data))
			}
			// Columns are disjoint across tasks
			d.simulated.Set(row, col, node.Data[o.Index])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.computeStats()
	return d, nil
}

// EnsembleSize returns the number of member columns
func (d *Data) EnsembleSize() int {
	return len(d.Members)
}

// ActiveSize returns the number of active observation points
func (d *Data) ActiveSize() int {
	n := 0
	for _, o := range d.Obs {
		if o.Active {
			n++
		}
	}
	return n
}

// Simulated returns the simulated values of observation i
func (d *Data) Simulated(i int) []float64 {
	if d.simulated == nil {
		return nil
	}
	return mat.Row(nil, i, d.simulated)
}

func (d *Data) computeStats() {
	for i := range d.Obs {
		d.Obs[i].EnsMean, d.Obs[i].EnsStd = meanStd(d.Simulated(i))
	}
}
