package analysis

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/crashforest/crash"
	"github.com/YuminosukeSato/crashforest/inspection"
	"github.com/YuminosukeSato/crashforest/metrics"
	"github.com/YuminosukeSato/crashforest/model_selection"
	"github.com/YuminosukeSato/crashforest/pkg/errors"
	"github.com/YuminosukeSato/crashforest/pkg/log"
	"github.com/YuminosukeSato/crashforest/plotting"
	"github.com/YuminosukeSato/crashforest/sklearn/ensemble"
)

// Options configures a run.
type Options struct {
	// Trees per forest. 0 means ensemble.DefaultNEstimators.
	Trees int
	// Mtry is the number of variables tried at each split. 0 means
	// ensemble.MtryFor(number of predictors).
	Mtry int
	// NodeSize is the largest node never split. 0 means ensemble.DefaultNodeSize.
	NodeSize int
	MaxDepth int

	// Seed drives the split and every forest.
	Seed          uint64
	TrainFraction float64

	// Parallelism is the number of blocks run at once. Values below 2 run
	// the blocks one after another.
	Parallelism int
	// TreeJobs is the number of goroutines per forest. 0 means one per CPU.
	TreeJobs int

	GridResolution     int
	PDPredictors       []string
	PermutationRepeats int

	// OutputDir receives the plots. Empty disables plotting.
	OutputDir  string
	PlotFormat string
	Plot       plotting.Options

	// Factors are label-encoded before the split. Nil means crash.FactorColumns.
	Factors []string
	// Responses are the blocks to run. Nil means DefaultResponses().
	Responses []Response
}

// DefaultOptions returns 500 trees, an 80/20 split and the nine reported
// partial dependence predictors.
func DefaultOptions() Options {
	return Options{
		Trees:          ensemble.DefaultNEstimators,
		NodeSize:       ensemble.DefaultNodeSize,
		Seed:           1,
		TrainFraction:  0.8,
		Parallelism:    1,
		GridResolution: inspection.DefaultGridResolution,
		PDPredictors:   append([]string(nil), PDPredictors...),
		PlotFormat:     "png",
		Plot:           plotting.DefaultOptions(),
	}
}

// Runner executes the modeling blocks.
type Runner struct {
	opts   Options
	logger log.Logger
	// render は OutputDir が設定されたときにブロックごとに呼ばれる
	render func(*Summary) error
}

// NewRunner creates a Runner. A nil logger uses the "analysis" component logger.
func NewRunner(opts Options, logger log.Logger) *Runner {
	if opts.Trees == 0 {
		opts.Trees = ensemble.DefaultNEstimators
	}
	if opts.NodeSize == 0 {
		opts.NodeSize = ensemble.DefaultNodeSize
	}
	if opts.TrainFraction == 0 {
		opts.TrainFraction = 0.8
	}
	if opts.GridResolution == 0 {
		opts.GridResolution = inspection.DefaultGridResolution
	}
	if opts.PDPredictors == nil {
		opts.PDPredictors = append([]string(nil), PDPredictors...)
	}
	if opts.PlotFormat == "" {
		opts.PlotFormat = "png"
	}
	if opts.Factors == nil {
		opts.Factors = crash.FactorColumns
	}
	if opts.Responses == nil {
		opts.Responses = DefaultResponses()
	}
	if logger == nil {
		logger = log.GetLoggerWithName("analysis")
	}
	r := &Runner{opts: opts, logger: logger}
	r.render = r.plot
	return r
}

// Options returns the effective options.
func (r *Runner) Options() Options { return r.opts }

// Prepare cleans raw and appends the derived aggregates.
func Prepare(raw *crash.Dataset, policy crash.CleanPolicy) (*crash.Dataset, error) {
	ds, err := raw.Clean(policy)
	if err != nil {
		return nil, err
	}
	return ds.Derive()
}

// Run encodes factor columns of a cleaned dataset, splits it once and runs
// every block on that split. The first failing block cancels the others.
func (r *Runner) Run(ctx context.Context, ds *crash.Dataset) (*Report, error) {
	started := time.Now()

	encoded, _, err := ds.EncodeFactors(r.opts.Factors)
	if err != nil {
		return nil, err
	}

	split, err := model_selection.TrainTestSplit(encoded.Nrow(), r.opts.TrainFraction, r.opts.Seed)
	if err != nil {
		return nil, errors.Wrap(err, "analysis.Run: split")
	}
	train, err := encoded.Subset(split.Train)
	if err != nil {
		return nil, errors.Wrap(err, "analysis.Run: train rows")
	}
	test, err := encoded.Subset(split.Test)
	if err != nil {
		return nil, errors.Wrap(err, "analysis.Run: test rows")
	}
	r.logger.Info("data split",
		log.PhaseKey, log.PhaseTraining,
		log.SamplesKey, encoded.Nrow(),
		"train", len(split.Train),
		"test", len(split.Test),
		log.RandomSeedKey, r.opts.Seed,
	)

	// ブロックごとのシードは並列化の前にまとめて引く
	rng := rand.New(rand.NewPCG(r.opts.Seed, r.opts.Seed^0xda3e39cb94b95bdb))
	seeds := make([]uint64, len(r.opts.Responses))
	for i := range seeds {
		seeds[i] = rng.Uint64()
	}

	summaries := make([]*Summary, len(r.opts.Responses))
	g, gctx := errgroup.WithContext(ctx)
	limit := r.opts.Parallelism
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, resp := range r.opts.Responses {
		g.Go(func() error {
			s, err := r.runBlock(gctx, resp, train, test, seeds[i])
			if err != nil {
				return errors.Wrapf(err, "analysis: block %s", resp.Name)
			}
			summaries[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.logger.Info("run finished",
		log.PhaseKey, log.PhaseReporting,
		"blocks", len(summaries),
		log.DurationMsKey, log.Since(started),
	)
	return &Report{
		StartedAt: started,
		Seed:      r.opts.Seed,
		Rows:      encoded.Nrow(),
		TrainRows: len(split.Train),
		TestRows:  len(split.Test),
		Blocks:    summaries,
	}, nil
}

func (r *Runner) runBlock(ctx context.Context, resp Response, train, test *crash.Dataset, seed uint64) (*Summary, error) {
	start := time.Now()
	logger := r.logger.With(log.ResponseKey, resp.Name)

	trainD, err := train.Design(resp.Name, resp.Exclude)
	if err != nil {
		return nil, err
	}
	testD, err := test.Design(resp.Name, resp.Exclude)
	if err != nil {
		return nil, err
	}

	forest := ensemble.NewRandomForestRegressor(
		ensemble.WithNEstimators(r.opts.Trees),
		ensemble.WithMaxFeatures(r.opts.Mtry),
		ensemble.WithNodeSize(r.opts.NodeSize),
		ensemble.WithMaxDepth(r.opts.MaxDepth),
		ensemble.WithRandomState(seed),
		ensemble.WithNJobs(r.opts.TreeJobs),
		ensemble.WithFeatureNames(trainD.Features),
		ensemble.WithLogger(logger),
	)
	if err := forest.FitContext(ctx, trainD.X, trainD.Y); err != nil {
		return nil, err
	}

	s := &Summary{
		Response:     resp.Name,
		Trees:        forest.NEstimators(),
		Mtry:         forest.MaxFeatures(),
		Features:     len(trainD.Features),
		TrainRows:    trainD.Rows(),
		TestRows:     testD.Rows(),
		OOBMSE:       forest.OOBMSE(),
		VarExplained: 100 * forest.VarianceExplained(),
	}

	if s.Importances, err = inspection.RankImportances(trainD.Features, forest.FeatureImportances()); err != nil {
		return nil, err
	}

	pred, err := forest.Predict(testD.X)
	if err != nil {
		return nil, err
	}
	if s.TestMSE, err = metrics.MSEMatrix(testD.Y, pred); err != nil {
		return nil, err
	}
	predVec := mat.NewVecDense(testD.Rows(), mat.Col(nil, 0, pred))
	if s.TestRMSE, err = metrics.RMSE(testD.Y, predVec); err != nil {
		return nil, err
	}
	if s.TestMAE, err = metrics.MAE(testD.Y, predVec); err != nil {
		return nil, err
	}
	if s.TestR2, err = metrics.R2Score(testD.Y, predVec); err != nil {
		return nil, err
	}

	if r.opts.PermutationRepeats > 0 {
		perm, err := inspection.PermutationImportance(forest, testD.X, testD.Y, r.opts.PermutationRepeats, seed, r.opts.TreeJobs)
		if err != nil {
			return nil, err
		}
		if s.Permutation, err = inspection.RankImportances(testD.Features, perm.Mean); err != nil {
			return nil, err
		}
	}

	for _, name := range r.opts.PDPredictors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		j := testD.FeatureIndex(name)
		if j < 0 {
			logger.Warn("partial dependence predictor not in design", log.ColumnKey, name)
			continue
		}
		pd, err := inspection.PartialDependence(forest, testD.X, j,
			inspection.WithFeatureName(name),
			inspection.WithGridResolution(r.opts.GridResolution),
			inspection.WithWorkers(r.opts.TreeJobs),
		)
		if err != nil {
			return nil, err
		}
		logger.Debug("partial dependence computed", log.ColumnKey, name, log.GridPointsKey, len(pd.Grid))
		s.Partial = append(s.Partial, pd)
	}

	if r.opts.OutputDir != "" {
		// gonum/plot は不正な値で panic することがある
		if err := errors.SafeExecute("analysis.plot "+resp.Name, func() error { return r.render(s) }); err != nil {
			return nil, err
		}
	}

	s.Duration = time.Since(start)
	logger.Info("block finished",
		log.TreesKey, s.Trees,
		log.MtryKey, s.Mtry,
		log.OOBMSEKey, s.OOBMSE,
		log.VarExplainedKey, s.VarExplained,
		log.MSEKey, s.TestMSE,
		log.R2ScoreKey, s.TestR2,
		log.DurationMsKey, s.Duration.Milliseconds(),
	)
	return s, nil
}

func (r *Runner) plot(s *Summary) error {
	imp := filepath.Join(r.opts.OutputDir, fmt.Sprintf("importance_%s.%s", s.Response, r.opts.PlotFormat))
	if err := plotting.ImportancePlot(s.Response, s.Importances, imp, r.opts.Plot); err != nil {
		return err
	}
	s.Plots = append(s.Plots, imp)

	if len(s.Partial) == 0 {
		return nil
	}
	pd := filepath.Join(r.opts.OutputDir, fmt.Sprintf("partial_%s.%s", s.Response, r.opts.PlotFormat))
	if err := plotting.PartialDependencePanel(s.Response, s.Partial, pd, r.opts.Plot); err != nil {
		return err
	}
	s.Plots = append(s.Plots, pd)
	return nil
}
