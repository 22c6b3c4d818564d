package tree

import (
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/crashforest/pkg/errors"
)

// ColumnMajor is a read-only mat.Matrix stored column by column.
// Split search reads one feature at a time, so forests convert their
// design once and share it across every tree.
type ColumnMajor struct {
	cols [][]float64
	rows int

	once    sync.Once
	missing map[string]int
}

var _ mat.Matrix = (*ColumnMajor)(nil)

// NewColumnMajor copies X into column-major storage.
// If X is already a *ColumnMajor it is returned unchanged.
func NewColumnMajor(X mat.Matrix) *ColumnMajor {
	if cm, ok := X.(*ColumnMajor); ok {
		return cm
	}
	r, c := X.Dims()
	cols := make([][]float64, c)
	for j := range cols {
		cols[j] = mat.Col(nil, j, X)
	}
	return &ColumnMajor{cols: cols, rows: r}
}

// Dims implements mat.Matrix.
func (c *ColumnMajor) Dims() (r, cols int) { return c.rows, len(c.cols) }

// At implements mat.Matrix.
func (c *ColumnMajor) At(i, j int) float64 { return c.cols[j][i] }

// T implements mat.Matrix.
func (c *ColumnMajor) T() mat.Matrix { return mat.Transpose{Matrix: c} }

// Col returns column j without copying. Callers must not modify it.
func (c *ColumnMajor) Col(j int) []float64 { return c.cols[j] }

// Row copies row i into dst, allocating when dst is too short.
func (c *ColumnMajor) Row(dst []float64, i int) []float64 {
	if len(dst) < len(c.cols) {
		dst = make([]float64, len(c.cols))
	}
	for j, col := range c.cols {
		dst[j] = col[i]
	}
	return dst[:len(c.cols)]
}

// CheckMissing returns a MissingValueError when any cell is NaN.
// The scan runs once; later calls return the cached result.
func (c *ColumnMajor) CheckMissing(op string, names []string) error {
	c.once.Do(func() { c.missing = errors.MissingByColumn(c, names) })
	if len(c.missing) == 0 {
		return nil
	}
	return errors.NewMissingValueError(op, c.missing)
}
