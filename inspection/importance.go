package inspection

import (
	"math/rand/v2"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/crashforest/core/model"
	"github.com/YuminosukeSato/crashforest/core/parallel"
	"github.com/YuminosukeSato/crashforest/metrics"
	"github.com/YuminosukeSato/crashforest/performance"
	"github.com/YuminosukeSato/crashforest/pkg/errors"
)

// Importance is one ranked feature.
type Importance struct {
	Rank  int     `yaml:"rank"`
	Name  string  `yaml:"feature"`
	Value float64 `yaml:"value"`
}

// RankImportances sorts features by value, largest first. Ties keep column order.
func RankImportances(names []string, values []float64) ([]Importance, error) {
	if len(names) != len(values) {
		return nil, errors.NewDimensionError("RankImportances", len(names), len(values), 0)
	}
	out := make([]Importance, len(names))
	for i := range names {
		out[i] = Importance{Name: names[i], Value: values[i]}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Value > out[b].Value })
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

// PermutationResult holds the increase in mean squared error when each
// column is shuffled.
type PermutationResult struct {
	Baseline float64
	Mean     []float64
	Std      []float64
}

// PermutationImportance shuffles each column of X nRepeats times and records
// how much the mean squared error of est on (X, y) grows. Column shuffles
// are seeded from seed before any work starts.
func PermutationImportance(est model.Predictor, X, y mat.Matrix, nRepeats int, seed uint64, workers int) (*PermutationResult, error) {
	rows, cols := X.Dims()
	if rows == 0 {
		return nil, errors.NewModelError("PermutationImportance", "empty data", errors.ErrEmptyData)
	}
	if yRows, _ := y.Dims(); yRows != rows {
		return nil, errors.NewDimensionError("PermutationImportance", rows, yRows, 0)
	}
	if nRepeats < 1 {
		return nil, errors.NewValidationError("n_repeats", "must be at least 1", nRepeats)
	}
	if err := errors.CheckNoMissing("PermutationImportance", X, nil); err != nil {
		return nil, err
	}

	yv := mat.NewVecDense(rows, mat.Col(nil, 0, y))
	score := func(m mat.Matrix) (float64, error) {
		pred, err := est.Predict(m)
		if err != nil {
			return 0, err
		}
		return metrics.MSE(yv, mat.NewVecDense(rows, mat.Col(nil, 0, pred)))
	}

	baseline, err := score(X)
	if err != nil {
		return nil, err
	}

	master := rand.New(rand.NewPCG(seed, seed^0xda3e39cb94b95bdb))
	seeds := make([]uint64, cols)
	for j := range seeds {
		seeds[j] = master.Uint64()
	}

	res := &PermutationResult{
		Baseline: baseline,
		Mean:     make([]float64, cols),
		Std:      make([]float64, cols),
	}
	var (
		mu       sync.Mutex
		firstErr error
	)
	parallel.ParallelizeN(cols, workers, func(from, to int) {
		work := performance.Shared.Copy(X)
		defer performance.Shared.Put(work)
		deltas := make([]float64, nRepeats)
		for j := from; j < to; j++ {
			rng := rand.New(rand.NewPCG(seeds[j], uint64(j)))
			col := mat.Col(nil, j, X)
			for r := 0; r < nRepeats; r++ {
				rng.Shuffle(len(col), func(a, b int) { col[a], col[b] = col[b], col[a] })
				work.SetCol(j, col)
				s, err := score(work)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
				deltas[r] = s - baseline
			}
			work.SetCol(j, mat.Col(nil, j, X))
			if nRepeats == 1 {
				res.Mean[j] = deltas[0]
				continue
			}
			res.Mean[j], res.Std[j] = stat.MeanStdDev(deltas, nil)
		}
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return res, nil
}
