package analysis

import (
	"time"

	"github.com/YuminosukeSato/crashforest/inspection"
)

// Summary is the outcome of one modeling block.
type Summary struct {
	Response  string `yaml:"response"`
	Trees     int    `yaml:"trees"`
	Mtry      int    `yaml:"mtry"`
	Features  int    `yaml:"features"`
	TrainRows int    `yaml:"train_rows"`
	TestRows  int    `yaml:"test_rows"`

	// OOBMSE is the out-of-bag mean of squared residuals.
	OOBMSE float64 `yaml:"oob_mse"`
	// VarExplained is the out-of-bag variance explained in percent.
	VarExplained float64 `yaml:"var_explained_pct"`
	TestMSE      float64 `yaml:"test_mse"`
	TestRMSE     float64 `yaml:"test_rmse"`
	TestMAE      float64 `yaml:"test_mae"`
	// TestR2 is NaN when the test target is constant.
	TestR2 float64 `yaml:"test_r2"`

	Importances []inspection.Importance `yaml:"importance"`
	Permutation []inspection.Importance `yaml:"permutation_importance,omitempty"`
	Partial     []*inspection.PDResult  `yaml:"partial_dependence"`
	Plots       []string                `yaml:"plots,omitempty"`

	Duration time.Duration `yaml:"duration"`
}

// Report collects every block of one run.
type Report struct {
	Input     string    `yaml:"input"`
	StartedAt time.Time `yaml:"started_at"`
	Seed      uint64    `yaml:"seed"`
	Rows      int       `yaml:"rows"`
	TrainRows int       `yaml:"train_rows"`
	TestRows  int       `yaml:"test_rows"`

	Blocks []*Summary `yaml:"blocks"`
}

// Block returns the summary for response, or nil.
func (r *Report) Block(response string) *Summary {
	for _, b := range r.Blocks {
		if b.Response == response {
			return b
		}
	}
	return nil
}
