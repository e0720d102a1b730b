package analysis

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// scalarCase is one observation of the first state row, perfect correlation
func scalarCase() (*Input, *mat.Dense) {
	// state: one row, 4 members; observation measures the state directly
	A := mat.NewDense(1, 4, []float64{1, 2, 3, 4})
	S := mat.NewDense(1, 4, []float64{-1.5, -0.5, 0.5, 1.5})
	R := mat.NewDense(1, 1, []float64{0.25})
	DObs := mat.NewDense(1, 2, []float64{2.5, 0.5})
	E := mat.NewDense(1, 4, nil)
	D := mat.NewDense(1, 4, []float64{1.5, 0.5, -0.5, -1.5})
	return &Input{S: S, R: R, DObs: DObs, E: E, D: D}, A
}

func TestNew(t *testing.T) {
	for _, name := range []string{"std_enkf", "direct_enkf", "identity"} {
		m, err := New(name, Options{})
		require.NoError(t, err)
		assert.Equal(t, name, m.Descriptor().Name)
	}
	_, err := New("cv_enkf", Options{})
	assert.Error(t, err)
	assert.Equal(t, []string{"direct_enkf", "identity", "std_enkf"}, Names())
}

func TestIdentityTransform(t *testing.T) {
	in, _ := scalarCase()
	m := &Identity{}
	require.NoError(t, m.InitUpdate(in))
	x, err := m.InitX(nil)
	require.NoError(t, err)
	assert.True(t, mat.Equal(x, identity(4)))
	assert.Equal(t, ComputeTransform, m.Descriptor().Mode)
	assert.False(t, m.Descriptor().NeedsPerturbations)
}

func TestStdEnKFPullsTowardObservation(t *testing.T) {
	in, A := scalarCase()
	m := NewStdEnKF(Options{})
	require.NoError(t, m.InitUpdate(in))

	x, err := m.InitX(nil)
	require.NoError(t, err)

	var post mat.Dense
	post.Mul(A, x)

	// Without perturbations and with zero E, the gain is SSᵀ/SSᵀ = 1: every
	// member lands on the observed value
	for j := 0; j < 4; j++ {
		assert.InDelta(t, 2.5, post.At(0, j), 1e-9)
	}

	// columns of X sum to one so the ensemble mean is a convex update
	for j := 0; j < 4; j++ {
		assert.InDelta(t, 1.0, mat.Sum(x.ColView(j)), 1e-9)
	}

	require.NoError(t, m.CompleteUpdate())
	_, err = m.InitX(nil)
	assert.Error(t, err)
}

func TestDirectEnKFMatchesKalmanGain(t *testing.T) {
	in, A := scalarCase()
	m := NewDirectEnKF(Options{})
	require.Equal(t, UpdateInPlace, m.Descriptor().Mode)
	require.NoError(t, m.InitUpdate(in))
	require.NoError(t, m.UpdateA(A))

	// gain = SSᵀ / (SSᵀ + 3R) = 5 / 5.75
	k := 5.0 / 5.75
	prior := []float64{1, 2, 3, 4}
	for j, p := range prior {
		want := p + k*in.D.At(0, j)
		assert.InDelta(t, want, A.At(0, j), 1e-9)
	}
	require.NoError(t, m.CompleteUpdate())
}

func TestPinvTruncation(t *testing.T) {
	c := mat.NewDense(3, 3, []float64{
		100, 0, 0,
		0, 1, 0,
		0, 0, 0.01,
	})

	full, err := pinv(c, 1)
	require.NoError(t, err)
	assert.InDelta(t, 100, full.At(2, 2), 1e-6)

	truncated, err := pinv(c, 0.99)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, truncated.At(0, 0), 1e-9)
	assert.InDelta(t, 0, truncated.At(1, 1), 1e-9)
	assert.InDelta(t, 0, truncated.At(2, 2), 1e-9)

	_, err = pinv(mat.NewDense(2, 2, nil), 1)
	assert.Error(t, err)
}

func TestStdEnKFWithPerturbations(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	const nens = 50
	A := mat.NewDense(2, nens, nil)
	S := mat.NewDense(1, nens, nil)
	E := mat.NewDense(1, nens, nil)
	D := mat.NewDense(1, nens, nil)
	for j := 0; j < nens; j++ {
		v := rng.NormFloat64()
		A.Set(0, j, v)
		A.Set(1, j, rng.NormFloat64()) // uncorrelated with the observation
		S.Set(0, j, v)
		E.Set(0, j, 0.1*rng.NormFloat64())
		D.Set(0, j, 1+E.At(0, j)-v)
	}
	centre := func(m *mat.Dense) {
		row := m.RawRowView(0)
		var mean float64
		for _, v := range row {
			mean += v
		}
		mean /= float64(len(row))
		for j := range row {
			row[j] -= mean
		}
	}
	centre(S)
	centre(E)

	m := NewStdEnKF(Options{Truncation: 0.98})
	require.NoError(t, m.InitUpdate(&Input{S: S, E: E, D: D, R: mat.NewDense(1, 1, []float64{0.01}), DObs: mat.NewDense(1, 2, []float64{1, 0.1})}))
	x, err := m.InitX(nil)
	require.NoError(t, err)

	var post mat.Dense
	post.Mul(A, x)
	var mean float64
	for j := 0; j < nens; j++ {
		mean += post.At(0, j)
	}
	mean /= nens
	assert.InDelta(t, 1.0, mean, 0.1, "observed state moves to the observation")
}
