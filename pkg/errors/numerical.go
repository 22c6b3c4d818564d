package errors

import (
	"fmt"
	"math"
)

// MissingByColumn counts NaN cells per column of a matrix.
// Columns without missing cells are omitted. names may be nil, in which case
// columns are reported as "x0", "x1", ...
func MissingByColumn(matrix interface {
	At(int, int) float64
	Dims() (int, int)
}, names []string) map[string]int {
	rows, cols := matrix.Dims()
	counts := make(map[string]int)
	for j := 0; j < cols; j++ {
		n := 0
		for i := 0; i < rows; i++ {
			if math.IsNaN(matrix.At(i, j)) {
				n++
			}
		}
		if n == 0 {
			continue
		}
		name := fmt.Sprintf("x%d", j)
		if j < len(names) {
			name = names[j]
		}
		counts[name] = n
	}
	return counts
}

// CheckNoMissing returns a MissingValueError when the matrix holds any NaN.
func CheckNoMissing(op string, matrix interface {
	At(int, int) float64
	Dims() (int, int)
}, names []string) error {
	counts := MissingByColumn(matrix, names)
	if len(counts) == 0 {
		return nil
	}
	return NewMissingValueError(op, counts)
}

// CheckNoMissingValues is the slice form of CheckNoMissing for a single named column.
func CheckNoMissingValues(op, name string, values []float64) error {
	n := 0
	for _, v := range values {
		if math.IsNaN(v) {
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return NewMissingValueError(op, map[string]int{name: n})
}
