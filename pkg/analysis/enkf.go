package analysis

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// StdEnKF is the standard perturbed-observation EnKF. It computes
//
//	X = I + Sᵀ (S Sᵀ + E Eᵀ)⁺ D
//
// once per ministep; the caller applies A·X to every dataset.
type StdEnKF struct {
	opts Options
	x    *mat.Dense
}

// NewStdEnKF creates the module
func NewStdEnKF(opts Options) *StdEnKF {
	return &StdEnKF{opts: opts}
}

func (m *StdEnKF) Descriptor() Descriptor {
	return Descriptor{
		Name:               "std_enkf",
		Mode:               ComputeTransform,
		NeedsPerturbations: true,
		ScaleData:          m.opts.ScaleData,
	}
}

func (m *StdEnKF) InitUpdate(in *Input) error {
	_, nens := in.S.Dims()

	var c, ee mat.Dense
	c.Mul(in.S, in.S.T())
	ee.Mul(in.E, in.E.T())
	c.Add(&c, &ee)

	cinv, err := pinv(&c, m.opts.Truncation)
	if err != nil {
		return fmt.Errorf("std_enkf: %w", err)
	}

	x := identity(nens)
	x.Add(x, gain(in.S, cinv, in.D))
	m.x = x
	return nil
}

func (m *StdEnKF) InitX(*mat.Dense) (*mat.Dense, error) {
	if m.x == nil {
		return nil, fmt.Errorf("std_enkf: InitX called before InitUpdate")
	}
	return m.x, nil
}

func (m *StdEnKF) UpdateA(*mat.Dense) error {
	return fmt.Errorf("std_enkf computes a transform and does not update in place")
}

func (m *StdEnKF) CompleteUpdate() error {
	m.x = nil
	return nil
}

// DirectEnKF applies the Kalman gain to the state matrix directly:
//
//	A ← A + A' Sᵀ (S Sᵀ + (N-1) R)⁺ D
//
// where A' is A with its row means removed.
type DirectEnKF struct {
	opts Options
	in   *Input
	w    *mat.Dense // (S Sᵀ + (N-1) R)⁺ D
}

// NewDirectEnKF creates the module
func NewDirectEnKF(opts Options) *DirectEnKF {
	return &DirectEnKF{opts: opts}
}

func (m *DirectEnKF) Descriptor() Descriptor {
	return Descriptor{
		Name:               "direct_enkf",
		Mode:               UpdateInPlace,
		NeedsPerturbations: true,
		ScaleData:          m.opts.ScaleData,
		UsesA:              true,
	}
}

func (m *DirectEnKF) InitUpdate(in *Input) error {
	_, nens := in.S.Dims()
	if nens < 2 {
		return fmt.Errorf("direct_enkf: need at least two members, got %d", nens)
	}

	var c, r mat.Dense
	c.Mul(in.S, in.S.T())
	r.Scale(float64(nens-1), in.R)
	c.Add(&c, &r)

	cinv, err := pinv(&c, m.opts.Truncation)
	if err != nil {
		return fmt.Errorf("direct_enkf: %w", err)
	}
	var w mat.Dense
	w.Mul(cinv, in.D)
	m.in = in
	m.w = &w
	return nil
}

func (m *DirectEnKF) InitX(*mat.Dense) (*mat.Dense, error) {
	return nil, fmt.Errorf("direct_enkf updates in place and has no transform")
}

func (m *DirectEnKF) UpdateA(A *mat.Dense) error {
	if m.w == nil {
		return fmt.Errorf("direct_enkf: UpdateA called before InitUpdate")
	}
	rows, nens := A.Dims()
	anom := mat.NewDense(rows, nens, nil)
	anom.Copy(A)
	for i := 0; i < rows; i++ {
		row := anom.RawRowView(i)
		floats.AddConst(-stat.Mean(row, nil), row)
	}

	var k, delta mat.Dense
	k.Mul(anom, m.in.S.T())
	delta.Mul(&k, m.w)
	A.Add(A, &delta)
	return nil
}

func (m *DirectEnKF) CompleteUpdate() error {
	m.in, m.w = nil, nil
	return nil
}

// Identity leaves the ensemble unchanged. It is used to check the
// serialize/update/deserialize round trip.
type Identity struct {
	nens int
}

func (m *Identity) Descriptor() Descriptor {
	return Descriptor{Name: "identity", Mode: ComputeTransform}
}

func (m *Identity) InitUpdate(in *Input) error {
	_, m.nens = in.S.Dims()
	return nil
}

func (m *Identity) InitX(*mat.Dense) (*mat.Dense, error) {
	return identity(m.nens), nil
}

func (m *Identity) UpdateA(*mat.Dense) error {
	return nil
}

func (m *Identity) CompleteUpdate() error {
	return nil
}
