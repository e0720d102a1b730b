package update

import (
	"context"
	"fmt"

	"github.com/cuemby/enkf/pkg/parallel"
	"gonum.org/v1/gonum/mat"
)

// MultiplyX replaces A with A·X. Row blocks of A are multiplied in parallel;
// each task owns a disjoint block so no synchronization is needed.
func MultiplyX(ctx context.Context, pool *parallel.Pool, A, X *mat.Dense) error {
	rows, cols := A.Dims()
	xr, xc := X.Dims()
	if xr != cols || xc != cols {
		return fmt.Errorf("transform is %dx%d, state matrix has %d columns", xr, xc, cols)
	}
	return pool.ForEachRange(ctx, rows, func(ctx context.Context, r parallel.Range) error {
		block := A.Slice(r.Start, r.End, 0, cols).(*mat.Dense)
		var out mat.Dense
		out.Mul(block, X)
		block.Copy(&out)
		return nil
	})
}
