package obs

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DeactivateOutliers switches off points the ensemble cannot inform. A point
// whose ensemble spread is below stdCutoff has no variation to correlate
// with; a point farther than alpha*(ensStd+obsStd) from the ensemble mean is
// an outlier. It returns the number of points deactivated by this call.
func (d *Data) DeactivateOutliers(stdCutoff, alpha float64) int {
	n := 0
	for i := range d.Obs {
		o := &d.Obs[i]
		if !o.Active {
			continue
		}
		switch {
		case o.EnsStd < stdCutoff:
			o.Active = false
			o.Reason = ReasonNoVariation
		case math.Abs(o.Value-o.EnsMean) > alpha*(o.EnsStd+o.Std):
			o.Active = false
			o.Reason = ReasonOutlier
		default:
			continue
		}
		n++
	}
	return n
}

// MatrixOptions selects how the ministep matrices are built
type MatrixOptions struct {
	// Perturb draws observation perturbations E; without it E is zero
	Perturb bool

	// Scale divides every row by the observation std so R becomes identity
	Scale bool

	Rand *rand.Rand
}

// Matrices holds the observation-side matrices of one ministep, restricted
// to the active points. Rows are active observations, columns are members.
type Matrices struct {
	S    *mat.Dense // simulated values, row mean removed
	R    *mat.Dense // observation error covariance
	DObs *mat.Dense // [value std] per active observation
	E    *mat.Dense // observation perturbations, row mean removed
	D    *mat.Dense // innovations dObs + E - S, taken before S is centered
}

// Matrices builds S, R, dObs, E and D for the active points
func (d *Data) Matrices(opts MatrixOptions) (*Matrices, error) {
	active := make([]int, 0, len(d.Obs))
	for i, o := range d.Obs {
		if o.Active {
			active = append(active, i)
		}
	}
	nObs, nEns := len(active), d.EnsembleSize()
	if nObs == 0 {
		return nil, fmt.Errorf("no active observations")
	}
	if nEns == 0 {
		return nil, fmt.Errorf("no ensemble members")
	}

	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	m := &Matrices{
		S:    mat.NewDense(nObs, nEns, nil),
		R:    mat.NewDense(nObs, nObs, nil),
		DObs: mat.NewDense(nObs, 2, nil),
		E:    mat.NewDense(nObs, nEns, nil),
		D:    mat.NewDense(nObs, nEns, nil),
	}

	for row, i := range active {
		o := d.Obs[i]
		m.S.SetRow(row, d.Simulated(i))
		m.R.Set(row, row, o.Std*o.Std)
		m.DObs.Set(row, 0, o.Value)
		m.DObs.Set(row, 1, o.Std)

		if opts.Perturb {
			e := make([]float64, nEns)
			for j := range e {
				e[j] = o.Std * rng.NormFloat64()
			}
			floats.AddConst(-stat.Mean(e, nil), e)
			m.E.SetRow(row, e)
		}

		sim := m.S.RawRowView(row)
		pert := m.E.RawRowView(row)
		innov := m.D.RawRowView(row)
		for j := range innov {
			innov[j] = o.Value + pert[j] - sim[j]
		}

		floats.AddConst(-stat.Mean(sim, nil), sim)

		if opts.Scale {
			inv := 1 / o.Std
			floats.Scale(inv, sim)
			floats.Scale(inv, pert)
			floats.Scale(inv, innov)
			m.R.Set(row, row, 1)
		}
	}
	return m, nil
}

// meanStd returns the mean and the population standard deviation of x
func meanStd(x []float64) (mean, std float64) {
	if len(x) == 0 {
		return 0, 0
	}
	return stat.PopMeanStdDev(x, nil)
}
