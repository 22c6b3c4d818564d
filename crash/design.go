package crash

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/crashforest/pkg/errors"
	"github.com/YuminosukeSato/crashforest/pkg/log"
)

// Design is the numeric predictor matrix and response vector of one
// modeling block.
type Design struct {
	X        *mat.Dense
	Y        *mat.VecDense
	Features []string
	Target   string
}

// Rows returns the number of observations.
func (d *Design) Rows() int { return d.Y.Len() }

// FeatureIndex returns the column of name in X, or -1.
func (d *Design) FeatureIndex(name string) int {
	for j, f := range d.Features {
		if f == name {
			return j
		}
	}
	return -1
}

// Design builds the predictor matrix for target from every numeric column
// except target and exclude. String columns are skipped. A missing cell in
// X or y returns a MissingValueError naming the columns.
func (d *Dataset) Design(target string, exclude []string) (*Design, error) {
	if err := d.MissingColumns("crash.Design", []string{target}); err != nil {
		return nil, err
	}
	y, err := d.Float(target)
	if err != nil {
		return nil, errors.Wrap(err, "crash.Design: response")
	}

	skip := make(map[string]bool, len(exclude)+1)
	for _, c := range exclude {
		skip[c] = true
	}
	skip[target] = true

	var features []string
	for _, name := range d.Names() {
		if skip[name] {
			continue
		}
		if !d.IsNumeric(name) {
			logger().Debug("non-numeric column dropped from design", log.ColumnKey, name, log.ResponseKey, target)
			continue
		}
		features = append(features, name)
	}
	if len(features) == 0 {
		return nil, errors.NewValueError("crash.Design", "no numeric predictor columns for "+target)
	}

	n := d.Nrow()
	X := mat.NewDense(n, len(features), nil)
	missing := make(map[string]int)
	for j, name := range features {
		col, err := d.Float(name)
		if err != nil {
			return nil, err
		}
		for i, v := range col {
			if math.IsNaN(v) {
				missing[name]++
			}
			X.Set(i, j, v)
		}
	}
	for _, v := range y {
		if math.IsNaN(v) {
			missing[target]++
		}
	}
	if len(missing) > 0 {
		return nil, errors.NewMissingValueError("crash.Design", missing)
	}

	return &Design{
		X:        X,
		Y:        mat.NewVecDense(n, y),
		Features: features,
		Target:   target,
	}, nil
}
