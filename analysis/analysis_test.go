package analysis

import (
	"context"
	"math"
	"math/rand/v2"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/crashforest/crash"
	"github.com/YuminosukeSato/crashforest/pkg/errors"
)

func TestDefaultResponses(t *testing.T) {
	responses := DefaultResponses()
	require.Len(t, responses, 8)

	names := make([]string, len(responses))
	for i, r := range responses {
		names[i] = r.Name
		assert.NotContains(t, r.Exclude, r.Name, "block %s keeps its target", r.Name)
		for _, other := range ResponseNames {
			if other != r.Name {
				assert.Contains(t, r.Exclude, other)
			}
		}
		assert.Contains(t, r.Exclude, crash.CrashSeverity)
		assert.Contains(t, r.Exclude, crash.CrashLocation1)
		for _, p := range PDPredictors {
			assert.NotContains(t, r.Exclude, p, "partial dependence predictor %s is a predictor", p)
		}
	}
	assert.Equal(t, ResponseNames, names)

	outcomes := OutcomeColumns()
	assert.Contains(t, outcomes, "truck")
	assert.Contains(t, outcomes, "guardRail")
	assert.Contains(t, outcomes, "otherObject")
	assert.IsIncreasing(t, outcomes)

	r, ok := Lookup(crash.FatalCount)
	assert.True(t, ok)
	assert.Equal(t, crash.FatalCount, r.Name)
	_, ok = Lookup("nope")
	assert.False(t, ok)
}

// syntheticDataset has two targets driven by "a" and a constant column.
func syntheticDataset(t *testing.T, n int) *crash.Dataset {
	t.Helper()
	rng := rand.New(rand.NewPCG(7, 11))
	a := make([]float64, n)
	b := make([]float64, n)
	c := make([]float64, n)
	y1 := make([]float64, n)
	y2 := make([]float64, n)
	light := make([]string, n)
	for i := range a {
		a[i] = float64(rng.IntN(5))
		b[i] = rng.Float64()
		c[i] = 3
		y1[i] = 2*a[i] + 0.1*rng.Float64()
		y2[i] = b[i]
		light[i] = []string{"Bright", "Dark"}[i%2]
	}
	ds, err := crash.FromColumns(
		[]string{"a", "b", "c", "light", "note", "y1", "y2"},
		map[string]interface{}{
			"a": a, "b": b, "c": c, "light": light,
			"note": make([]string, n), "y1": y1, "y2": y2,
		})
	require.NoError(t, err)
	return ds
}

func testOptions() Options {
	return Options{
		Trees:        30,
		Mtry:         3,
		Seed:         42,
		TreeJobs:     2,
		PDPredictors: []string{"a", "c", "missing"},
		Responses: []Response{
			{Name: "y1", Exclude: []string{"y2", "note"}},
			{Name: "y2", Exclude: []string{"y1", "note"}},
		},
	}
}

func TestRunnerRun(t *testing.T) {
	ds := syntheticDataset(t, 100)
	opts := testOptions()
	opts.OutputDir = t.TempDir()
	opts.PermutationRepeats = 2

	report, err := NewRunner(opts, nil).Run(context.Background(), ds)
	require.NoError(t, err)

	assert.Equal(t, 100, report.Rows)
	assert.Equal(t, 80, report.TrainRows)
	assert.Equal(t, 20, report.TestRows)
	require.Len(t, report.Blocks, 2)

	s := report.Block("y1")
	require.NotNil(t, s)
	assert.Equal(t, 30, s.Trees)
	assert.Equal(t, 3, s.Mtry)
	assert.Equal(t, 4, s.Features, "a, b, c and the encoded light column")
	assert.Equal(t, 80, s.TrainRows)
	assert.Equal(t, 20, s.TestRows)
	assert.Equal(t, "a", s.Importances[0].Name)
	assert.Equal(t, 1, s.Importances[0].Rank)
	assert.Len(t, s.Permutation, 4)
	assert.False(t, math.IsNaN(s.OOBMSE))
	assert.Greater(t, s.VarExplained, 50.0)
	assert.Greater(t, s.TestR2, 0.5)
	assert.InDelta(t, math.Sqrt(s.TestMSE), s.TestRMSE, 1e-12)
	assert.Greater(t, s.TestMAE, 0.0)
	assert.LessOrEqual(t, s.TestMAE, s.TestRMSE)

	require.Len(t, s.Partial, 2, "unknown predictor is skipped")
	assert.Equal(t, "a", s.Partial[0].Name)
	assert.False(t, s.Partial[0].IsFlat(1e-9))
	assert.Equal(t, "c", s.Partial[1].Name)
	assert.True(t, s.Partial[1].IsFlat(1e-12), "constant input gives a flat curve")

	require.Len(t, s.Plots, 2)
	for _, p := range s.Plots {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}
	assert.Nil(t, report.Block("y3"))
}

func TestRunnerParallelMatchesSequential(t *testing.T) {
	ds := syntheticDataset(t, 60)

	seq := testOptions()
	seq.Parallelism = 1
	par := testOptions()
	par.Parallelism = 2

	a, err := NewRunner(seq, nil).Run(context.Background(), ds)
	require.NoError(t, err)
	b, err := NewRunner(par, nil).Run(context.Background(), ds)
	require.NoError(t, err)

	for i := range a.Blocks {
		assert.Equal(t, a.Blocks[i].Response, b.Blocks[i].Response)
		assert.Equal(t, a.Blocks[i].Importances, b.Blocks[i].Importances)
		assert.InDelta(t, a.Blocks[i].OOBMSE, b.Blocks[i].OOBMSE, 1e-9)
		assert.InDelta(t, a.Blocks[i].TestMSE, b.Blocks[i].TestMSE, 1e-9)
	}
}

func TestRunnerMissingValuesAbort(t *testing.T) {
	ds := syntheticDataset(t, 40)
	b, err := ds.Float("b")
	require.NoError(t, err)
	b[3] = math.NaN()
	ds, err = crash.FromColumns([]string{"a", "b", "y1", "y2"}, map[string]interface{}{
		"a":  mustFloat(t, ds, "a"),
		"b":  b,
		"y1": mustFloat(t, ds, "y1"),
		"y2": mustFloat(t, ds, "y2"),
	})
	require.NoError(t, err)

	opts := testOptions()
	opts.Parallelism = 2
	_, err = NewRunner(opts, nil).Run(context.Background(), ds)
	require.Error(t, err)

	var mv *errors.MissingValueError
	require.True(t, errors.As(err, &mv))
	assert.Contains(t, mv.Columns, "b")
}

func TestRunnerCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(testOptions(), nil).Run(ctx, syntheticDataset(t, 40))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunnerPlotPanicBecomesError(t *testing.T) {
	opts := testOptions()
	opts.OutputDir = t.TempDir()
	opts.Responses = opts.Responses[:1]

	r := NewRunner(opts, nil)
	r.render = func(*Summary) error {
		panic("plotter: NaN in axis range")
	}

	var rep *Report
	var err error
	require.NotPanics(t, func() {
		rep, err = r.Run(context.Background(), syntheticDataset(t, 40))
	})
	require.Error(t, err)
	assert.Nil(t, rep)

	var pe *errors.PanicError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "analysis.plot y1", pe.Operation)
	assert.Equal(t, "plotter: NaN in axis range", pe.PanicValue)
	assert.Contains(t, pe.StackTrace, "(*Runner).runBlock")
}

func mustFloat(t *testing.T, ds *crash.Dataset, name string) []float64 {
	t.Helper()
	v, err := ds.Float(name)
	require.NoError(t, err)
	return v
}
