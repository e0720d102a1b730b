package analysis

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

const singularEps = 1e-12

// pinv returns the truncated pseudo-inverse V Σ⁺ Uᵀ of c. Singular values
// are kept in descending order until their squared sum reaches truncation of
// the total.
func pinv(c mat.Matrix, truncation float64) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(c, mat.SVDThin); !ok {
		return nil, fmt.Errorf("singular value decomposition failed")
	}
	sv := svd.Values(nil)
	if len(sv) == 0 || sv[0] <= 0 {
		return nil, fmt.Errorf("matrix has no non-zero singular values")
	}

	var total float64
	for _, s := range sv {
		total += s * s
	}

	inv := mat.NewDiagDense(len(sv), nil)
	var running float64
	for i, s := range sv {
		if s <= singularEps*sv[0] {
			break
		}
		if truncation > 0 && truncation < 1 && i > 0 && running/total >= truncation {
			break
		}
		inv.SetDiag(i, 1/s)
		running += s * s
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var tmp, out mat.Dense
	tmp.Mul(&v, inv)
	out.Mul(&tmp, u.T())
	return &out, nil
}

// gain returns Sᵀ C⁺ D, the correction part of the ensemble transform
func gain(s, cinv, d *mat.Dense) *mat.Dense {
	var w, out mat.Dense
	w.Mul(cinv, d)
	out.Mul(s.T(), &w)
	return &out
}

// identity returns the n x n identity matrix as a Dense
func identity(n int) *mat.Dense {
	x := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		x.Set(i, i, 1)
	}
	return x
}
