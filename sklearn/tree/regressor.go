package tree

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/crashforest/core/model"
	"github.com/YuminosukeSato/crashforest/metrics"
	"github.com/YuminosukeSato/crashforest/pkg/errors"
)

const leafFeature = -1

// node is one entry of the flattened tree. Leaves have feature == leafFeature.
type node struct {
	feature   int
	threshold float64
	left      int
	right     int
	value     float64
	nSamples  int
	depth     int
}

// DecisionTreeRegressor is a CART regression tree grown by residual sum of
// squares reduction.
type DecisionTreeRegressor struct {
	state *model.StateManager

	maxDepth        int // 0 means unlimited
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int // 0 means all features
	randomState     uint64
	seeded          bool

	nodes       []node
	rssDecrease []float64
}

// Option configures a DecisionTreeRegressor.
type Option func(*DecisionTreeRegressor)

// WithMaxDepth limits the depth of the tree. 0 means unlimited.
func WithMaxDepth(d int) Option { return func(t *DecisionTreeRegressor) { t.maxDepth = d } }

// WithMinSamplesSplit sets the minimum node size that may be split.
func WithMinSamplesSplit(n int) Option {
	return func(t *DecisionTreeRegressor) { t.minSamplesSplit = n }
}

// WithMinSamplesLeaf sets the minimum number of rows in each child.
func WithMinSamplesLeaf(n int) Option {
	return func(t *DecisionTreeRegressor) { t.minSamplesLeaf = n }
}

// WithMaxFeatures sets how many features are drawn at each node. 0 means all.
func WithMaxFeatures(k int) Option { return func(t *DecisionTreeRegressor) { t.maxFeatures = k } }

// WithRandomState fixes the seed used by Fit for feature sampling.
func WithRandomState(seed uint64) Option {
	return func(t *DecisionTreeRegressor) {
		t.randomState = seed
		t.seeded = true
	}
}

// NewDecisionTreeRegressor creates a regression tree.
//
// Example:
//
//	dt := tree.NewDecisionTreeRegressor(tree.WithMinSamplesSplit(6), tree.WithRandomState(1))
//	err := dt.Fit(X, y)
func NewDecisionTreeRegressor(opts ...Option) *DecisionTreeRegressor {
	t := &DecisionTreeRegressor{
		state:           model.NewStateManager(),
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Fit grows the tree on every row of X.
func (t *DecisionTreeRegressor) Fit(X, y mat.Matrix) error {
	rows, _ := X.Dims()
	yRows, yCols := y.Dims()
	if yCols != 1 {
		return errors.NewDimensionError("DecisionTreeRegressor.Fit", 1, yCols, 1)
	}
	if yRows != rows {
		return errors.NewDimensionError("DecisionTreeRegressor.Fit", rows, yRows, 0)
	}

	seed := t.randomState
	if !t.seeded {
		seed = rand.Uint64()
	}
	sample := make([]int, rows)
	for i := range sample {
		sample[i] = i
	}
	return t.FitSample(X, mat.Col(nil, 0, y), sample, rand.New(rand.NewPCG(seed, seed+1)))
}

// FitSample grows the tree on the rows listed in sample, which may repeat
// (bootstrap draws). rng drives feature sampling at each node.
func (t *DecisionTreeRegressor) FitSample(X mat.Matrix, y []float64, sample []int, rng *rand.Rand) error {
	rows, cols := X.Dims()
	if rows == 0 || cols == 0 || len(sample) == 0 {
		return errors.NewModelError("DecisionTreeRegressor.Fit", "empty data", errors.ErrEmptyData)
	}
	if len(y) != rows {
		return errors.NewDimensionError("DecisionTreeRegressor.Fit", rows, len(y), 0)
	}
	if err := t.validate(); err != nil {
		return err
	}

	cm := NewColumnMajor(X)
	for _, i := range sample {
		if i < 0 || i >= rows {
			return errors.NewValueError("DecisionTreeRegressor.Fit", fmt.Sprintf("sample index %d out of range [0,%d)", i, rows))
		}
	}
	if err := cm.CheckMissing("DecisionTreeRegressor.Fit", nil); err != nil {
		return err
	}
	if err := errors.CheckNoMissingValues("DecisionTreeRegressor.Fit", "y", y); err != nil {
		return err
	}

	b := &builder{
		tree:     t,
		X:        cm,
		y:        y,
		rng:      rng,
		features: make([]int, cols),
	}
	for j := range b.features {
		b.features[j] = j
	}

	t.nodes = t.nodes[:0]
	t.rssDecrease = make([]float64, cols)
	b.grow(append([]int(nil), sample...), 0)

	t.state.SetDimensions(cols, len(sample))
	t.state.SetFitted()
	return nil
}

func (t *DecisionTreeRegressor) validate() error {
	switch {
	case t.minSamplesSplit < 2:
		return errors.NewValidationError("min_samples_split", "must be at least 2", t.minSamplesSplit)
	case t.minSamplesLeaf < 1:
		return errors.NewValidationError("min_samples_leaf", "must be at least 1", t.minSamplesLeaf)
	case t.maxDepth < 0:
		return errors.NewValidationError("max_depth", "must be non-negative", t.maxDepth)
	case t.maxFeatures < 0:
		return errors.NewValidationError("max_features", "must be non-negative", t.maxFeatures)
	}
	return nil
}

type builder struct {
	tree     *DecisionTreeRegressor
	X        *ColumnMajor
	y        []float64
	rng      *rand.Rand
	features []int
	order    []int
}

type split struct {
	feature   int
	threshold float64
	decrease  float64
}

// grow appends the subtree for rows and returns its node index.
func (b *builder) grow(rows []int, depth int) int {
	t := b.tree
	sum := 0.0
	for _, i := range rows {
		sum += b.y[i]
	}
	n := len(rows)
	idx := len(t.nodes)
	t.nodes = append(t.nodes, node{
		feature:  leafFeature,
		value:    sum / float64(n),
		nSamples: n,
		depth:    depth,
	})

	if n < t.minSamplesSplit || n < 2*t.minSamplesLeaf || (t.maxDepth > 0 && depth >= t.maxDepth) {
		return idx
	}

	best, ok := b.bestSplit(rows, sum)
	if !ok {
		return idx
	}

	left := make([]int, 0, n)
	right := make([]int, 0, n)
	col := b.X.Col(best.feature)
	for _, i := range rows {
		if col[i] <= best.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	t.rssDecrease[best.feature] += best.decrease
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	t.nodes[idx].feature = best.feature
	t.nodes[idx].threshold = best.threshold
	t.nodes[idx].left = l
	t.nodes[idx].right = r
	return idx
}

// bestSplit searches maxFeatures randomly drawn features for the split with
// the largest decrease in residual sum of squares. A node where none of the
// drawn features improves the fit stays a leaf.
func (b *builder) bestSplit(rows []int, total float64) (split, bool) {
	t := b.tree
	n := len(rows)
	k := t.maxFeatures
	if k <= 0 || k > len(b.features) {
		k = len(b.features)
	}

	// partial Fisher-Yates: the first k entries are a sample without replacement
	for i := 0; i < k; i++ {
		j := i + b.rng.IntN(len(b.features)-i)
		b.features[i], b.features[j] = b.features[j], b.features[i]
	}

	if cap(b.order) < n {
		b.order = make([]int, n)
	}
	order := b.order[:n]

	parent := total * total / float64(n)
	best := split{feature: leafFeature}
	for _, f := range b.features[:k] {
		col := b.X.Col(f)
		copy(order, rows)
		sort.Slice(order, func(a, c int) bool { return col[order[a]] < col[order[c]] })
		if col[order[0]] == col[order[n-1]] {
			continue
		}

		leftSum := 0.0
		for i := 0; i < n-1; i++ {
			leftSum += b.y[order[i]]
			nl := i + 1
			nr := n - nl
			if nl < t.minSamplesLeaf || nr < t.minSamplesLeaf {
				continue
			}
			cur, next := col[order[i]], col[order[i+1]]
			if cur == next {
				continue
			}
			rightSum := total - leftSum
			decrease := leftSum*leftSum/float64(nl) + rightSum*rightSum/float64(nr) - parent
			if decrease > best.decrease {
				best = split{feature: f, threshold: (cur + next) / 2.0, decrease: decrease}
			}
		}
	}

	// guard against splits that only reflect floating point noise
	if best.feature == leafFeature || best.decrease <= 1e-12*math.Max(1, math.Abs(parent)) {
		return split{}, false
	}
	return best, true
}

// PredictRow returns the prediction for a single feature vector.
func (t *DecisionTreeRegressor) PredictRow(row []float64) float64 {
	i := 0
	for {
		nd := &t.nodes[i]
		if nd.feature == leafFeature {
			return nd.value
		}
		if row[nd.feature] <= nd.threshold {
			i = nd.left
		} else {
			i = nd.right
		}
	}
}

// Predict returns an n×1 matrix of predictions.
func (t *DecisionTreeRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := t.state.RequireFitted("DecisionTreeRegressor", "Predict"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := t.state.RequireFeatures("DecisionTreeRegressor.Predict", cols); err != nil {
		return nil, err
	}

	out := mat.NewDense(rows, 1, nil)
	row := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat.Row(row, i, X)
		out.Set(i, 0, t.PredictRow(row))
	}
	return out, nil
}

// Score returns the coefficient of determination R² on (X, y).
func (t *DecisionTreeRegressor) Score(X, y mat.Matrix) (float64, error) {
	pred, err := t.Predict(X)
	if err != nil {
		return 0, err
	}
	return metrics.R2Score(columnVec(y), columnVec(pred))
}

func columnVec(m mat.Matrix) *mat.VecDense {
	col := mat.Col(nil, 0, m)
	return mat.NewVecDense(len(col), col)
}

// RSSDecrease returns the total decrease in residual sum of squares credited
// to each feature. A random forest averages these into IncNodePurity.
func (t *DecisionTreeRegressor) RSSDecrease() []float64 {
	return append([]float64(nil), t.rssDecrease...)
}

// GetFeatureImportances returns RSSDecrease normalized to sum to 1.
// A tree with no splits reports all zeros.
func (t *DecisionTreeRegressor) GetFeatureImportances() []float64 {
	out := t.RSSDecrease()
	total := 0.0
	for _, v := range out {
		total += v
	}
	if total == 0 {
		return out
	}
	for i := range out {
		out[i] /= total
	}
	return out
}

// GetDepth returns the depth of the deepest leaf. A single leaf has depth 0.
func (t *DecisionTreeRegressor) GetDepth() int {
	d := 0
	for _, nd := range t.nodes {
		if nd.depth > d {
			d = nd.depth
		}
	}
	return d
}

// GetNLeaves returns the number of leaves.
func (t *DecisionTreeRegressor) GetNLeaves() int {
	n := 0
	for _, nd := range t.nodes {
		if nd.feature == leafFeature {
			n++
		}
	}
	return n
}

// IsFitted reports whether Fit has completed.
func (t *DecisionTreeRegressor) IsFitted() bool {
	return t.state.IsFitted()
}

// GetParams returns the tree hyperparameters.
func (t *DecisionTreeRegressor) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":         "squared_error",
		"max_depth":         t.maxDepth,
		"min_samples_split": t.minSamplesSplit,
		"min_samples_leaf":  t.minSamplesLeaf,
		"max_features":      t.maxFeatures,
		"random_state":      t.randomState,
	}
}

// SetParams updates hyperparameters by name.
func (t *DecisionTreeRegressor) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		switch k {
		case "max_depth", "min_samples_split", "min_samples_leaf", "max_features":
			n, ok := v.(int)
			if !ok {
				return errors.NewValidationError(k, "must be an int", v)
			}
			switch k {
			case "max_depth":
				t.maxDepth = n
			case "min_samples_split":
				t.minSamplesSplit = n
			case "min_samples_leaf":
				t.minSamplesLeaf = n
			default:
				t.maxFeatures = n
			}
		case "random_state":
			seed, ok := v.(uint64)
			if !ok {
				return errors.NewValidationError(k, "must be a uint64", v)
			}
			WithRandomState(seed)(t)
		case "criterion":
			if v != "squared_error" {
				return errors.NewValidationError(k, "only squared_error is supported", v)
			}
		default:
			return errors.NewValidationError(k, "unknown parameter", v)
		}
	}
	return t.validate()
}

var (
	_ model.Regressor       = (*DecisionTreeRegressor)(nil)
	_ model.RowPredictor    = (*DecisionTreeRegressor)(nil)
	_ model.ParameterGetter = (*DecisionTreeRegressor)(nil)
	_ model.ParameterSetter = (*DecisionTreeRegressor)(nil)
)
