// Package model_selection provides the train/test partition used by every
// modeling block of a run.
package model_selection

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/YuminosukeSato/crashforest/pkg/errors"
)

// Split は行インデックスの訓練/テスト分割
type Split struct {
	// Train は訓練行のインデックス（昇順）
	Train []int
	// Test はテスト行のインデックス（昇順）
	Test []int
	// Seed は分割に使った乱数シード
	Seed uint64
}

// TrainTestSplit は 0..n-1 を一様に非復元抽出し、round(trainFraction·n) 行を訓練に、
// 残りをテストに割り当てる。同じ n, trainFraction, seed からは常に同じ分割が得られる。
func TrainTestSplit(n int, trainFraction float64, seed uint64) (Split, error) {
	if n <= 0 {
		return Split{}, errors.NewValidationError("n", "must be positive", n)
	}
	if !(trainFraction > 0 && trainFraction < 1) {
		return Split{}, errors.NewValidationError("trainFraction", "must be in (0, 1)", trainFraction)
	}

	nTrain := int(math.Round(trainFraction * float64(n)))
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	perm := rng.Perm(n)

	train := append([]int(nil), perm[:nTrain]...)
	test := append([]int(nil), perm[nTrain:]...)
	sort.Ints(train)
	sort.Ints(test)

	return Split{Train: train, Test: test, Seed: seed}, nil
}

// String は分割サイズの要約を返す
func (s Split) String() string {
	return fmt.Sprintf("Split{train=%d, test=%d, seed=%d}", len(s.Train), len(s.Test), s.Seed)
}
