package update

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Buffer is the row-major state matrix A. Columns are ensemble members and
// rows are the active elements of the serialized variables. Capacity grows
// ahead of need and the logical size is trimmed to the exact row count once a
// dataset is serialized.
type Buffer struct {
	data []float64
	rows int
	cols int
}

// NewBuffer allocates a buffer with room for rows rows of cols members
func NewBuffer(rows, cols int) *Buffer {
	if rows < 0 {
		rows = 0
	}
	return &Buffer{data: make([]float64, rows*cols), rows: rows, cols: cols}
}

// Rows returns the logical row count
func (b *Buffer) Rows() int {
	return b.rows
}

// Cols returns the member count
func (b *Buffer) Cols() int {
	return b.cols
}

// Capacity returns the number of rows that fit without reallocation
func (b *Buffer) Capacity() int {
	if b.cols == 0 {
		return 0
	}
	return cap(b.data) / b.cols
}

// Reserve makes room for rowOffset+activeSize rows. When growing it reserves
// rowOffset+2*activeSize so the next variable of similar size fits too.
func (b *Buffer) Reserve(rowOffset, activeSize int) {
	need := rowOffset + activeSize
	if need > b.Capacity() {
		grown := make([]float64, (rowOffset+2*activeSize)*b.cols)
		copy(grown, b.data[:b.rows*b.cols])
		b.data = grown
	}
	if need > b.rows {
		b.rows = need
		b.data = b.data[:need*b.cols]
	}
}

// Shrink sets the logical row count to rows without releasing capacity
func (b *Buffer) Shrink(rows int) {
	if rows < 0 || rows > b.Capacity() {
		panic(fmt.Sprintf("update: shrink to %d rows outside capacity %d", rows, b.Capacity()))
	}
	b.rows = rows
	b.data = b.data[:rows*b.cols]
}

// Set writes element (row, col)
func (b *Buffer) Set(row, col int, v float64) {
	b.data[row*b.cols+col] = v
}

// At reads element (row, col)
func (b *Buffer) At(row, col int) float64 {
	return b.data[row*b.cols+col]
}

// Dense returns a matrix view sharing the buffer's storage, or nil when the
// buffer has no rows
func (b *Buffer) Dense() *mat.Dense {
	if b.rows == 0 || b.cols == 0 {
		return nil
	}
	return mat.NewDense(b.rows, b.cols, b.data[:b.rows*b.cols])
}
