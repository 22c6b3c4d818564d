// Package inspection computes model-agnostic explanations of fitted
// regressors: partial dependence curves and importance rankings.
package inspection

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/crashforest/core/model"
	"github.com/YuminosukeSato/crashforest/core/parallel"
	"github.com/YuminosukeSato/crashforest/performance"
	"github.com/YuminosukeSato/crashforest/pkg/errors"
)

// DefaultGridResolution is the largest grid taken from observed values.
// Features with more distinct values get this many evenly spaced points.
const DefaultGridResolution = 51

// PDResult holds one partial dependence curve.
type PDResult struct {
	Feature int       `yaml:"-"`
	Name    string    `yaml:"feature"`
	Grid    []float64 `yaml:"grid"`
	Average []float64 `yaml:"average"`
}

// Range returns the smallest and largest averaged prediction.
func (r *PDResult) Range() (lo, hi float64) {
	return floats.Min(r.Average), floats.Max(r.Average)
}

// IsFlat reports whether the curve varies by no more than tol.
func (r *PDResult) IsFlat(tol float64) bool {
	lo, hi := r.Range()
	return hi-lo <= tol
}

type pdConfig struct {
	resolution int
	name       string
	workers    int
}

// PDOption configures PartialDependence.
type PDOption func(*pdConfig)

// WithGridResolution sets the grid size cap.
func WithGridResolution(n int) PDOption { return func(c *pdConfig) { c.resolution = n } }

// WithFeatureName labels the result.
func WithFeatureName(name string) PDOption { return func(c *pdConfig) { c.name = name } }

// WithWorkers sets the number of goroutines evaluating grid points. 0 means one per CPU.
func WithWorkers(n int) PDOption { return func(c *pdConfig) { c.workers = n } }

// Grid returns the evaluation points for a feature column: its sorted
// distinct values when there are at most resolution of them, otherwise
// resolution evenly spaced points from the minimum to the maximum.
func Grid(values []float64, resolution int) []float64 {
	uniq := append([]float64(nil), values...)
	sort.Float64s(uniq)
	k := 0
	for i, v := range uniq {
		if i == 0 || v != uniq[k-1] {
			uniq[k] = v
			k++
		}
	}
	uniq = uniq[:k]
	if len(uniq) <= resolution {
		return uniq
	}
	return floats.Span(make([]float64, resolution), uniq[0], uniq[len(uniq)-1])
}

// PartialDependence sets column feature of every row of X to each grid value
// in turn, predicts, and averages. X is not modified.
func PartialDependence(est model.Predictor, X mat.Matrix, feature int, opts ...PDOption) (*PDResult, error) {
	cfg := pdConfig{resolution: DefaultGridResolution}
	for _, o := range opts {
		o(&cfg)
	}

	rows, cols := X.Dims()
	if rows == 0 {
		return nil, errors.NewModelError("PartialDependence", "empty data", errors.ErrEmptyData)
	}
	if feature < 0 || feature >= cols {
		return nil, errors.NewValueError("PartialDependence", fmt.Sprintf("feature index %d out of range [0,%d)", feature, cols))
	}
	if cfg.resolution < 2 {
		return nil, errors.NewValidationError("grid_resolution", "must be at least 2", cfg.resolution)
	}
	if cfg.name == "" {
		cfg.name = fmt.Sprintf("x%d", feature)
	}

	column := mat.Col(nil, feature, X)
	if err := errors.CheckNoMissingValues("PartialDependence", cfg.name, column); err != nil {
		return nil, err
	}

	// surfaces not-fitted and shape errors before fanning out
	if _, err := est.Predict(mat.NewDense(1, cols, mat.Row(nil, 0, X))); err != nil {
		return nil, err
	}

	grid := Grid(column, cfg.resolution)
	avg := make([]float64, len(grid))

	var (
		mu       sync.Mutex
		firstErr error
	)
	rp, rowWise := est.(model.RowPredictor)
	parallel.ParallelizeN(len(grid), cfg.workers, func(from, to int) {
		if rowWise {
			row := make([]float64, cols)
			for g := from; g < to; g++ {
				sum := 0.0
				for i := 0; i < rows; i++ {
					mat.Row(row, i, X)
					row[feature] = grid[g]
					sum += rp.PredictRow(row)
				}
				avg[g] = sum / float64(rows)
			}
			return
		}

		work := performance.Shared.Copy(X)
		defer performance.Shared.Put(work)
		for g := from; g < to; g++ {
			for i := 0; i < rows; i++ {
				work.Set(i, feature, grid[g])
			}
			pred, err := est.Predict(work)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			avg[g] = mat.Sum(pred) / float64(rows)
		}
	})
	if firstErr != nil {
		return nil, firstErr
	}

	for _, v := range avg {
		if math.IsNaN(v) {
			return nil, errors.NewModelError("PartialDependence", "prediction is NaN", nil)
		}
	}
	return &PDResult{Feature: feature, Name: cfg.name, Grid: grid, Average: avg}, nil
}
