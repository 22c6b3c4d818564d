// Package ensemble provides the random forest regressor used by the
// per-response modeling blocks.
package ensemble

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/crashforest/core/model"
	"github.com/YuminosukeSato/crashforest/core/parallel"
	"github.com/YuminosukeSato/crashforest/metrics"
	"github.com/YuminosukeSato/crashforest/pkg/errors"
	"github.com/YuminosukeSato/crashforest/pkg/log"
	"github.com/YuminosukeSato/crashforest/sklearn/tree"
)

// DefaultNEstimators is the number of trees grown when none is configured.
const DefaultNEstimators = 500

// DefaultNodeSize is the largest node that is never split.
const DefaultNodeSize = 5

// MtryFor returns the default number of variables tried at each split for
// nFeatures predictors: floor(nFeatures/3), at least 1.
func MtryFor(nFeatures int) int {
	if m := nFeatures / 3; m > 1 {
		return m
	}
	return 1
}

// RandomForestRegressor averages bootstrapped regression trees and tracks
// out-of-bag error and node purity importance.
type RandomForestRegressor struct {
	state *model.StateManager

	nEstimators  int
	maxFeatures  int // 0 means MtryFor(nFeatures)
	nodeSize     int
	maxDepth     int
	bootstrap    bool
	randomState  uint64
	seeded       bool
	nJobs        int
	featureNames []string
	logger       log.Logger

	trees        []*tree.DecisionTreeRegressor
	mtry         int
	importances  []float64
	oobPred      []float64
	oobMSE       float64
	varExplained float64
}

// Option configures a RandomForestRegressor.
type Option func(*RandomForestRegressor)

// WithNEstimators sets the number of trees.
func WithNEstimators(n int) Option { return func(f *RandomForestRegressor) { f.nEstimators = n } }

// WithMaxFeatures sets the number of variables tried at each split.
func WithMaxFeatures(k int) Option { return func(f *RandomForestRegressor) { f.maxFeatures = k } }

// WithNodeSize sets the node size at or below which nodes are terminal.
func WithNodeSize(n int) Option { return func(f *RandomForestRegressor) { f.nodeSize = n } }

// WithMaxDepth limits tree depth. 0 means unlimited.
func WithMaxDepth(d int) Option { return func(f *RandomForestRegressor) { f.maxDepth = d } }

// WithBootstrap toggles bootstrap sampling. Without it there is no out-of-bag estimate.
func WithBootstrap(b bool) Option { return func(f *RandomForestRegressor) { f.bootstrap = b } }

// WithRandomState fixes the master seed.
func WithRandomState(seed uint64) Option {
	return func(f *RandomForestRegressor) {
		f.randomState = seed
		f.seeded = true
	}
}

// WithNJobs sets the number of goroutines fitting trees. 0 means one per CPU.
func WithNJobs(n int) Option { return func(f *RandomForestRegressor) { f.nJobs = n } }

// WithFeatureNames names the columns of X for error messages and reports.
func WithFeatureNames(names []string) Option {
	return func(f *RandomForestRegressor) { f.featureNames = append([]string(nil), names...) }
}

// WithLogger sets the logger. The default is the "ensemble" component logger.
func WithLogger(l log.Logger) Option { return func(f *RandomForestRegressor) { f.logger = l } }

// NewRandomForestRegressor creates a forest with 500 trees and node size 5.
func NewRandomForestRegressor(opts ...Option) *RandomForestRegressor {
	f := &RandomForestRegressor{
		state:       model.NewStateManager(),
		nEstimators: DefaultNEstimators,
		nodeSize:    DefaultNodeSize,
		bootstrap:   true,
	}
	for _, o := range opts {
		o(f)
	}
	if f.logger == nil {
		f.logger = log.GetLoggerWithName("ensemble")
	}
	return f
}

func (f *RandomForestRegressor) validate(nFeatures int) error {
	switch {
	case f.nEstimators < 1:
		return errors.NewValidationError("n_estimators", "must be at least 1", f.nEstimators)
	case f.nodeSize < 1:
		return errors.NewValidationError("node_size", "must be at least 1", f.nodeSize)
	case f.maxFeatures < 0 || f.maxFeatures > nFeatures:
		return errors.NewValidationError("max_features", "must be in [0, n_features]", f.maxFeatures)
	case f.maxDepth < 0:
		return errors.NewValidationError("max_depth", "must be non-negative", f.maxDepth)
	case f.featureNames != nil && len(f.featureNames) != nFeatures:
		return errors.NewDimensionError("RandomForestRegressor.Fit", len(f.featureNames), nFeatures, 1)
	}
	return nil
}

// Fit grows the forest on X and y.
func (f *RandomForestRegressor) Fit(X, y mat.Matrix) error {
	return f.FitContext(context.Background(), X, y)
}

// FitContext is Fit with cancellation. Trees not yet started when ctx is
// done are skipped and ctx.Err() is returned.
func (f *RandomForestRegressor) FitContext(ctx context.Context, X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "RandomForestRegressor.Fit")

	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewModelError("RandomForestRegressor.Fit", "empty data", errors.ErrEmptyData)
	}
	yRows, yCols := y.Dims()
	if yCols != 1 {
		return errors.NewDimensionError("RandomForestRegressor.Fit", 1, yCols, 1)
	}
	if yRows != rows {
		return errors.NewDimensionError("RandomForestRegressor.Fit", rows, yRows, 0)
	}
	if err := f.validate(cols); err != nil {
		return err
	}

	cm := tree.NewColumnMajor(X)
	if err := cm.CheckMissing("RandomForestRegressor.Fit", f.featureNames); err != nil {
		return err
	}
	yv := mat.Col(nil, 0, y)
	if err := errors.CheckNoMissingValues("RandomForestRegressor.Fit", "y", yv); err != nil {
		return err
	}

	mtry := f.maxFeatures
	if mtry == 0 {
		mtry = MtryFor(cols)
	}

	// all per-tree seeds come from the master stream before any tree is fitted
	master := f.randomState
	if !f.seeded {
		master = rand.Uint64()
	}
	mrng := rand.New(rand.NewPCG(master, master^0x5851f42d4c957f2d))
	seeds := make([]uint64, f.nEstimators)
	for i := range seeds {
		seeds[i] = mrng.Uint64()
	}

	// 学習結果はローカルに作り, 成功したときだけレシーバへ入れる
	start := time.Now()
	trees := make([]*tree.DecisionTreeRegressor, f.nEstimators)
	inBag := make([][]bool, f.nEstimators)

	var (
		mu       sync.Mutex
		firstErr error
	)
	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}
	parallel.ParallelizeN(f.nEstimators, f.nJobs, func(from, to int) {
		defer func() {
			if r := recover(); r != nil {
				setErr(errors.NewPanicError("RandomForestRegressor.Fit", r))
			}
		}()

		for ti := from; ti < to; ti++ {
			if ctx.Err() != nil {
				return
			}
			rng := rand.New(rand.NewPCG(seeds[ti], uint64(ti)))
			sample := make([]int, rows)
			bag := make([]bool, rows)
			for i := range sample {
				if f.bootstrap {
					sample[i] = rng.IntN(rows)
				} else {
					sample[i] = i
				}
				bag[sample[i]] = true
			}

			t := tree.NewDecisionTreeRegressor(
				tree.WithMinSamplesSplit(f.nodeSize+1),
				tree.WithMaxFeatures(mtry),
				tree.WithMaxDepth(f.maxDepth),
			)
			if err := t.FitSample(cm, yv, sample, rng); err != nil {
				setErr(err)
				return
			}
			trees[ti], inBag[ti] = t, bag
		}
	})

	if firstErr != nil {
		return firstErr
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "RandomForestRegressor.Fit")
	}

	importances := make([]float64, cols)
	for _, t := range trees {
		for j, v := range t.RSSDecrease() {
			importances[j] += v
		}
	}
	for j := range importances {
		importances[j] /= float64(f.nEstimators)
	}

	// OOB は行ごとに木の順で足すので nJobs に依らず同じ値になる
	oobPred := make([]float64, rows)
	parallel.ParallelizeN(rows, f.nJobs, func(from, to int) {
		row := make([]float64, cols)
		for i := from; i < to; i++ {
			sum, n := 0.0, 0
			cm.Row(row, i)
			for ti, t := range trees {
				if inBag[ti][i] {
					continue
				}
				sum += t.PredictRow(row)
				n++
			}
			oobPred[i] = math.NaN()
			if n > 0 {
				oobPred[i] = sum / float64(n)
			}
		}
	})

	var sq float64
	scored := 0
	for i, p := range oobPred {
		if math.IsNaN(p) {
			continue
		}
		d := yv[i] - p
		sq += d * d
		scored++
	}
	oobMSE, varExplained := math.NaN(), math.NaN()
	if scored > 0 {
		oobMSE = sq / float64(scored)
		if v := metrics.PopVariance(yv); v > 0 {
			varExplained = 1 - oobMSE/v
		}
	}

	f.trees = trees
	f.mtry = mtry
	f.importances = importances
	f.oobPred = oobPred
	f.oobMSE = oobMSE
	f.varExplained = varExplained
	f.state.SetDimensions(cols, rows)
	f.state.SetFitted()

	f.logger.Info("forest fitted",
		log.ModelNameKey, "RandomForestRegressor",
		log.SamplesKey, rows,
		log.FeaturesKey, cols,
		log.TreesKey, f.nEstimators,
		log.MtryKey, f.mtry,
		log.OOBMSEKey, f.oobMSE,
		log.VarExplainedKey, 100*f.varExplained,
		log.DurationMsKey, log.Since(start),
	)
	return nil
}

// PredictRow averages the tree predictions for one feature vector.
func (f *RandomForestRegressor) PredictRow(row []float64) float64 {
	s := 0.0
	for _, t := range f.trees {
		s += t.PredictRow(row)
	}
	return s / float64(len(f.trees))
}

// Predict returns an n×1 matrix of averaged tree predictions.
func (f *RandomForestRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := f.state.RequireFitted("RandomForestRegressor", "Predict"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := f.state.RequireFeatures("RandomForestRegressor.Predict", cols); err != nil {
		return nil, err
	}

	out := make([]float64, rows)
	parallel.ParallelizeN(rows, f.nJobs, func(from, to int) {
		row := make([]float64, cols)
		for i := from; i < to; i++ {
			mat.Row(row, i, X)
			out[i] = f.PredictRow(row)
		}
	})
	return mat.NewDense(rows, 1, out), nil
}

// Score returns R² of the forest predictions on (X, y).
func (f *RandomForestRegressor) Score(X, y mat.Matrix) (float64, error) {
	pred, err := f.Predict(X)
	if err != nil {
		return 0, err
	}
	yRows, _ := y.Dims()
	return metrics.R2Score(
		mat.NewVecDense(yRows, mat.Col(nil, 0, y)),
		mat.NewVecDense(yRows, mat.Col(nil, 0, pred)),
	)
}

// OOBMSE returns the mean of squared out-of-bag residuals over rows that were
// out of bag at least once. NaN when no row was.
func (f *RandomForestRegressor) OOBMSE() float64 { return f.oobMSE }

// VarianceExplained returns 1 − OOBMSE/Var(y) using the population variance.
// Multiply by 100 for the percentage reported by the summary.
func (f *RandomForestRegressor) VarianceExplained() float64 { return f.varExplained }

// OOBPredictions returns the out-of-bag prediction per training row; NaN for
// rows that were in every bag.
func (f *RandomForestRegressor) OOBPredictions() []float64 {
	return append([]float64(nil), f.oobPred...)
}

// FeatureImportances returns IncNodePurity: the total decrease in residual
// sum of squares from splits on each feature, averaged over all trees.
func (f *RandomForestRegressor) FeatureImportances() []float64 {
	return append([]float64(nil), f.importances...)
}

// FeatureNames returns the configured column names, if any.
func (f *RandomForestRegressor) FeatureNames() []string {
	return append([]string(nil), f.featureNames...)
}

// NEstimators returns the number of trees.
func (f *RandomForestRegressor) NEstimators() int { return f.nEstimators }

// MaxFeatures returns the number of variables tried at each split. Before
// Fit it returns the configured value, which may be 0 for the default rule.
func (f *RandomForestRegressor) MaxFeatures() int {
	if f.state.IsFitted() {
		return f.mtry
	}
	return f.maxFeatures
}

// IsFitted reports whether Fit has completed.
func (f *RandomForestRegressor) IsFitted() bool { return f.state.IsFitted() }

// GetParams returns the forest hyperparameters.
func (f *RandomForestRegressor) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators": f.nEstimators,
		"max_features": f.maxFeatures,
		"node_size":    f.nodeSize,
		"max_depth":    f.maxDepth,
		"bootstrap":    f.bootstrap,
		"random_state": f.randomState,
		"n_jobs":       f.nJobs,
	}
}

// SetParams updates hyperparameters by name. Refit to apply them.
func (f *RandomForestRegressor) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		switch k {
		case "n_estimators", "max_features", "node_size", "max_depth", "n_jobs":
			n, ok := v.(int)
			if !ok {
				return errors.NewValidationError(k, "must be an int", v)
			}
			switch k {
			case "n_estimators":
				f.nEstimators = n
			case "max_features":
				f.maxFeatures = n
			case "node_size":
				f.nodeSize = n
			case "max_depth":
				f.maxDepth = n
			default:
				f.nJobs = n
			}
		case "bootstrap":
			b, ok := v.(bool)
			if !ok {
				return errors.NewValidationError(k, "must be a bool", v)
			}
			f.bootstrap = b
		case "random_state":
			seed, ok := v.(uint64)
			if !ok {
				return errors.NewValidationError(k, "must be a uint64", v)
			}
			WithRandomState(seed)(f)
		default:
			return errors.NewValidationError(k, "unknown parameter", v)
		}
	}
	f.state.Reset()
	return nil
}

var (
	_ model.Regressor          = (*RandomForestRegressor)(nil)
	_ model.RowPredictor       = (*RandomForestRegressor)(nil)
	_ model.ImportanceReporter = (*RandomForestRegressor)(nil)
	_ model.ParameterGetter    = (*RandomForestRegressor)(nil)
	_ model.ParameterSetter    = (*RandomForestRegressor)(nil)
)
