package tree

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/crashforest/pkg/errors"
)

// stepData returns y = 0 for x < 5 and y = 10 otherwise, plus a constant column.
func stepData() (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(10, 2, nil)
	y := mat.NewDense(10, 1, nil)
	for i := 0; i < 10; i++ {
		X.Set(i, 0, float64(i))
		X.Set(i, 1, 1)
		if i >= 5 {
			y.Set(i, 0, 10)
		}
	}
	return X, y
}

// TestDecisionTreeRegressor_FitPredict tests a single clean split
func TestDecisionTreeRegressor_FitPredict(t *testing.T) {
	X, y := stepData()

	dt := NewDecisionTreeRegressor(WithRandomState(1))
	require.NoError(t, dt.Fit(X, y))

	pred, err := dt.Predict(X)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		assert.Equal(t, y.At(i, 0), pred.At(i, 0), "row %d", i)
	}

	assert.Equal(t, 1, dt.GetDepth())
	assert.Equal(t, 2, dt.GetNLeaves())
	assert.Equal(t, 4.5, dt.nodes[0].threshold)

	score, err := dt.Score(X, y)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-12)

	assert.Equal(t, 0.0, dt.PredictRow([]float64{-3, 1}))
	assert.Equal(t, 10.0, dt.PredictRow([]float64{4.6, 1}))
}

// TestDecisionTreeRegressor_FeatureImportance tests that the informative feature dominates
func TestDecisionTreeRegressor_FeatureImportance(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	X := mat.NewDense(60, 3, nil)
	y := mat.NewDense(60, 1, nil)
	for i := 0; i < 60; i++ {
		X.Set(i, 0, float64(i%6))
		X.Set(i, 1, rng.Float64())
		X.Set(i, 2, rng.Float64())
		y.Set(i, 0, 3*float64(i%6)+0.01*rng.Float64())
	}

	dt := NewDecisionTreeRegressor(WithRandomState(9))
	require.NoError(t, dt.Fit(X, y))

	imp := dt.GetFeatureImportances()
	require.Len(t, imp, 3)
	assert.Greater(t, imp[0], imp[1])
	assert.Greater(t, imp[0], imp[2])

	sum := 0.0
	for _, v := range imp {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	raw := dt.RSSDecrease()
	assert.Greater(t, raw[0], 0.0)
}

// TestDecisionTreeRegressor_RSSDecreaseMatchesVariance tests that a full split
// credits exactly the total sum of squares
func TestDecisionTreeRegressor_RSSDecreaseMatchesVariance(t *testing.T) {
	X, y := stepData()
	dt := NewDecisionTreeRegressor()
	require.NoError(t, dt.Fit(X, y))

	// TSS of five 0s and five 10s around mean 5
	assert.InDelta(t, 250.0, dt.RSSDecrease()[0], 1e-9)
	assert.Equal(t, 0.0, dt.RSSDecrease()[1])
}

// TestDecisionTreeRegressor_MaxDepth tests max depth constraint
func TestDecisionTreeRegressor_MaxDepth(t *testing.T) {
	X := mat.NewDense(16, 1, nil)
	y := mat.NewDense(16, 1, nil)
	for i := 0; i < 16; i++ {
		X.Set(i, 0, float64(i))
		y.Set(i, 0, float64(i*i))
	}

	dt := NewDecisionTreeRegressor(WithMaxDepth(2))
	require.NoError(t, dt.Fit(X, y))
	assert.LessOrEqual(t, dt.GetDepth(), 2)
	assert.LessOrEqual(t, dt.GetNLeaves(), 4)
}

// TestDecisionTreeRegressor_NodeSize tests that nodes at or below the node size stay terminal
func TestDecisionTreeRegressor_NodeSize(t *testing.T) {
	X := mat.NewDense(40, 1, nil)
	y := mat.NewDense(40, 1, nil)
	for i := 0; i < 40; i++ {
		X.Set(i, 0, float64(i))
		y.Set(i, 0, math.Sin(float64(i)))
	}

	dt := NewDecisionTreeRegressor(WithMinSamplesSplit(6))
	require.NoError(t, dt.Fit(X, y))

	for _, nd := range dt.nodes {
		if nd.feature != leafFeature {
			assert.GreaterOrEqual(t, nd.nSamples, 6)
		}
	}
}

// TestDecisionTreeRegressor_FitSampleBootstrap tests repeated rows
func TestDecisionTreeRegressor_FitSampleBootstrap(t *testing.T) {
	X, y := stepData()
	dt := NewDecisionTreeRegressor()

	sample := []int{0, 0, 0, 9, 9, 9}
	err := dt.FitSample(X, mat.Col(nil, 0, y), sample, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)

	assert.Equal(t, 0.0, dt.PredictRow([]float64{2, 1}))
	assert.Equal(t, 10.0, dt.PredictRow([]float64{7, 1}))
	_, n := dt.state.GetDimensions()
	assert.Equal(t, 6, n)

	err = dt.FitSample(X, mat.Col(nil, 0, y), []int{10}, rand.New(rand.NewPCG(1, 2)))
	var ve *errors.ValueError
	assert.True(t, errors.As(err, &ve))
}

// TestDecisionTreeRegressor_ConstantTarget tests that a pure node is never split
func TestDecisionTreeRegressor_ConstantTarget(t *testing.T) {
	X, _ := stepData()
	y := mat.NewDense(10, 1, nil)
	for i := 0; i < 10; i++ {
		y.Set(i, 0, 2)
	}

	dt := NewDecisionTreeRegressor()
	require.NoError(t, dt.Fit(X, y))
	assert.Equal(t, 1, dt.GetNLeaves())
	assert.Equal(t, []float64{0, 0}, dt.GetFeatureImportances())
}

// TestDecisionTreeRegressor_Reproducible tests seeded feature sampling
func TestDecisionTreeRegressor_Reproducible(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 12))
	X := mat.NewDense(50, 5, nil)
	y := mat.NewDense(50, 1, nil)
	for i := 0; i < 50; i++ {
		for j := 0; j < 5; j++ {
			X.Set(i, j, rng.Float64())
		}
		y.Set(i, 0, X.At(i, 0)+X.At(i, 3))
	}

	a := NewDecisionTreeRegressor(WithMaxFeatures(2), WithRandomState(5))
	b := NewDecisionTreeRegressor(WithMaxFeatures(2), WithRandomState(5))
	require.NoError(t, a.Fit(X, y))
	require.NoError(t, b.Fit(X, y))
	assert.Equal(t, a.nodes, b.nodes)
}

// TestDecisionTreeRegressor_MissingValues tests NaN rejection
func TestDecisionTreeRegressor_MissingValues(t *testing.T) {
	X, y := stepData()
	X.Set(3, 1, math.NaN())

	err := NewDecisionTreeRegressor().Fit(X, y)
	var mv *errors.MissingValueError
	require.True(t, errors.As(err, &mv))
	assert.Equal(t, 1, mv.Columns["x1"])

	X, y = stepData()
	y.Set(0, 0, math.NaN())
	err = NewDecisionTreeRegressor().Fit(X, y)
	require.True(t, errors.As(err, &mv))
	assert.Equal(t, 1, mv.Columns["y"])
}

// TestDecisionTreeRegressor_GetSetParams tests parameter management
func TestDecisionTreeRegressor_GetSetParams(t *testing.T) {
	dt := NewDecisionTreeRegressor()

	params := dt.GetParams()
	assert.Equal(t, "squared_error", params["criterion"])
	assert.Equal(t, 2, params["min_samples_split"])

	err := dt.SetParams(map[string]interface{}{
		"max_depth":         5,
		"min_samples_split": 6,
		"min_samples_leaf":  2,
		"max_features":      3,
		"random_state":      uint64(7),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, dt.maxDepth)
	assert.Equal(t, 6, dt.minSamplesSplit)
	assert.Equal(t, 2, dt.minSamplesLeaf)
	assert.Equal(t, 3, dt.maxFeatures)
	assert.True(t, dt.seeded)

	assert.Error(t, dt.SetParams(map[string]interface{}{"criterion": "gini"}))
	assert.Error(t, dt.SetParams(map[string]interface{}{"min_samples_split": 1}))
	assert.Error(t, dt.SetParams(map[string]interface{}{"bogus": 1}))
}

// TestDecisionTreeRegressor_NotFitted tests error when predicting without fitting
func TestDecisionTreeRegressor_NotFitted(t *testing.T) {
	dt := NewDecisionTreeRegressor()
	_, err := dt.Predict(mat.NewDense(2, 2, []float64{1, 2, 3, 4}))
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))
}

func TestDecisionTreeRegressor_PredictDimensionMismatch(t *testing.T) {
	X, y := stepData()
	dt := NewDecisionTreeRegressor()
	require.NoError(t, dt.Fit(X, y))

	_, err := dt.Predict(mat.NewDense(1, 3, nil))
	var dim *errors.DimensionError
	assert.True(t, errors.As(err, &dim))
}
