package preprocessing

import (
	"fmt"
	"math"
	"sort"

	"github.com/YuminosukeSato/crashforest/core/model"
	"github.com/YuminosukeSato/crashforest/pkg/errors"
)

// LabelEncoder はカテゴリ文字列を 0..k-1 の整数コードへ変換する。
// クラスは辞書順に並べられるため、同じ値の集合からは常に同じ対応表が得られる。
type LabelEncoder struct {
	state *model.StateManager

	// Classes は学習したカテゴリ（辞書順）
	Classes []string

	index map[string]int
}

var _ model.CategoricalEncoder = (*LabelEncoder)(nil)

// NewLabelEncoder は新しいLabelEncoderを作成する
//
// 使用例:
//
//	enc := preprocessing.NewLabelEncoder()
//	codes, err := enc.FitTransform([]string{"Urban", "Open", "Urban"})
//	// codes == []float64{1, 0, 1}
func NewLabelEncoder() *LabelEncoder {
	return &LabelEncoder{state: model.NewStateManager()}
}

// Fit は出現するカテゴリを学習する
func (e *LabelEncoder) Fit(values []string) error {
	if len(values) == 0 {
		return errors.NewModelError("LabelEncoder.Fit", "empty data", errors.ErrEmptyData)
	}

	seen := make(map[string]struct{}, 16)
	for _, v := range values {
		seen[v] = struct{}{}
	}
	e.Classes = make([]string, 0, len(seen))
	for v := range seen {
		e.Classes = append(e.Classes, v)
	}
	sort.Strings(e.Classes)

	e.index = make(map[string]int, len(e.Classes))
	for i, c := range e.Classes {
		e.index[c] = i
	}

	e.state.SetDimensions(1, len(values))
	e.state.SetFitted()
	return nil
}

// Transform は学習済みの対応表でカテゴリをコードへ変換する
func (e *LabelEncoder) Transform(values []string) ([]float64, error) {
	if err := e.state.RequireFitted("LabelEncoder", "Transform"); err != nil {
		return nil, err
	}

	codes := make([]float64, len(values))
	for i, v := range values {
		code, ok := e.index[v]
		if !ok {
			return nil, errors.NewValueError("LabelEncoder.Transform", fmt.Sprintf("unseen label %q", v))
		}
		codes[i] = float64(code)
	}
	return codes, nil
}

// FitTransform はFitとTransformを同時に実行する
func (e *LabelEncoder) FitTransform(values []string) ([]float64, error) {
	if err := e.Fit(values); err != nil {
		return nil, err
	}
	return e.Transform(values)
}

// InverseTransform はコードを元のカテゴリへ戻す
func (e *LabelEncoder) InverseTransform(codes []float64) ([]string, error) {
	if err := e.state.RequireFitted("LabelEncoder", "InverseTransform"); err != nil {
		return nil, err
	}

	out := make([]string, len(codes))
	for i, c := range codes {
		k := int(c)
		if math.IsNaN(c) || float64(k) != c || k < 0 || k >= len(e.Classes) {
			return nil, errors.NewValueError("LabelEncoder.InverseTransform", fmt.Sprintf("invalid code %v", c))
		}
		out[i] = e.Classes[k]
	}
	return out, nil
}

// IsFitted はエンコーダが学習済みかどうかを返す
func (e *LabelEncoder) IsFitted() bool {
	return e.state.IsFitted()
}
