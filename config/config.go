// Package config loads the run configuration in three layers: built-in
// defaults, an optional YAML file, then CRASHFOREST_* environment variables.
package config

import (
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/crashforest/analysis"
	"github.com/YuminosukeSato/crashforest/crash"
	"github.com/YuminosukeSato/crashforest/inspection"
	"github.com/YuminosukeSato/crashforest/pkg/errors"
	"github.com/YuminosukeSato/crashforest/pkg/log"
	"github.com/YuminosukeSato/crashforest/plotting"
	"github.com/YuminosukeSato/crashforest/sklearn/ensemble"
)

// EnvPrefix starts every environment override. Sections and keys are
// separated by a double underscore: CRASHFOREST_FOREST__TREES=200.
const EnvPrefix = "CRASHFOREST_"

// PathEnvVar names a config file when --config is not given.
const PathEnvVar = "CRASHFOREST_CONFIG"

// Config is the full run configuration.
type Config struct {
	Input     string `koanf:"input" yaml:"input" validate:"required"`
	OutputDir string `koanf:"output_dir" yaml:"output_dir"`

	Log     log.Config    `koanf:"log" yaml:"log"`
	Data    DataConfig    `koanf:"data" yaml:"data"`
	Split   SplitConfig   `koanf:"split" yaml:"split"`
	Forest  ForestConfig  `koanf:"forest" yaml:"forest"`
	Partial PartialConfig `koanf:"partial" yaml:"partial"`
	Plot    PlotConfig    `koanf:"plot" yaml:"plot"`
	Run     RunConfig     `koanf:"run" yaml:"run"`
	Store   StoreConfig   `koanf:"store" yaml:"store"`
}

// DataConfig controls parsing and cleaning.
type DataConfig struct {
	NAValues  []string          `koanf:"na_values" yaml:"na_values"`
	Delimiter string            `koanf:"delimiter" yaml:"delimiter" validate:"len=1"`
	Clean     crash.CleanPolicy `koanf:"clean" yaml:"clean"`
}

// SplitConfig controls the shared train/test split.
type SplitConfig struct {
	TrainFraction float64 `koanf:"train_fraction" yaml:"train_fraction" validate:"gt=0,lt=1"`
	Seed          uint64  `koanf:"seed" yaml:"seed"`
}

// ForestConfig controls every forest of the run.
type ForestConfig struct {
	Trees    int `koanf:"trees" yaml:"trees" validate:"gte=1"`
	Mtry     int `koanf:"mtry" yaml:"mtry" validate:"gte=0"`
	NodeSize int `koanf:"node_size" yaml:"node_size" validate:"gte=1"`
	MaxDepth int `koanf:"max_depth" yaml:"max_depth" validate:"gte=0"`
	Jobs     int `koanf:"jobs" yaml:"jobs" validate:"gte=0"`
}

// PartialConfig controls partial dependence and permutation importance.
type PartialConfig struct {
	Predictors         []string `koanf:"predictors" yaml:"predictors" validate:"dive,required"`
	GridResolution     int      `koanf:"grid_resolution" yaml:"grid_resolution" validate:"gte=2"`
	PermutationRepeats int      `koanf:"permutation_repeats" yaml:"permutation_repeats" validate:"gte=0"`
}

// PlotConfig sets the plot format and canvas size in inches.
type PlotConfig struct {
	Enabled bool    `koanf:"enabled" yaml:"enabled"`
	Format  string  `koanf:"format" yaml:"format" validate:"oneof=png svg pdf eps jpg jpeg tif tiff"`
	Width   float64 `koanf:"width" yaml:"width" validate:"gt=0"`
	Height  float64 `koanf:"height" yaml:"height" validate:"gt=0"`
	Columns int     `koanf:"columns" yaml:"columns" validate:"gte=1"`
}

// RunConfig selects blocks and outputs.
type RunConfig struct {
	// Responses restricts the run to these blocks. Empty runs all eight.
	Responses    []string `koanf:"responses" yaml:"responses" validate:"unique"`
	Parallelism  int      `koanf:"parallelism" yaml:"parallelism" validate:"gte=1"`
	YAML         string   `koanf:"yaml" yaml:"yaml"`
	TopN         int      `koanf:"top_n" yaml:"top_n" validate:"gte=0"`
	PrintPartial bool     `koanf:"print_partial" yaml:"print_partial"`
}

// StoreConfig names the optional SQLite results file.
type StoreConfig struct {
	Path string `koanf:"path" yaml:"path"`
}

// Default returns the configuration of the reference analysis.
func Default() *Config {
	lc := log.DefaultConfig()
	lc.Output = nil
	return &Config{
		OutputDir: "out",
		Log:       lc,
		Data: DataConfig{
			NAValues:  append([]string(nil), crash.DefaultNAValues...),
			Delimiter: ",",
			Clean:     crash.DefaultCleanPolicy(),
		},
		Split: SplitConfig{TrainFraction: 0.8, Seed: 1},
		Forest: ForestConfig{
			Trees:    ensemble.DefaultNEstimators,
			NodeSize: ensemble.DefaultNodeSize,
		},
		Partial: PartialConfig{
			Predictors:     append([]string(nil), analysis.PDPredictors...),
			GridResolution: inspection.DefaultGridResolution,
		},
		Plot: PlotConfig{Enabled: true, Format: "png", Width: 10, Height: 8, Columns: 3},
		Run:  RunConfig{Parallelism: 1, TopN: 20},
	}
}

// Load layers defaults, the YAML file at path (or $CRASHFOREST_CONFIG when
// path is empty; no file is fine) and environment overrides. Callers apply
// their own overrides and then call Validate.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, errors.Wrap(err, "config: defaults")
	}

	if path == "" {
		path = os.Getenv(PathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "config: load %s", path)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.Wrap(err, "config: environment")
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Wrap(err, "config: unmarshal")
	}
	return cfg, nil
}

// envKey maps CRASHFOREST_FOREST__NODE_SIZE to forest.node_size.
func envKey(s string) string {
	if s == PathEnvVar {
		return ""
	}
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

var validate = validator.New()

// Validate checks every field constraint and reports the first failure.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return errors.NewValidationError(fe.Namespace(), "failed '"+fe.ActualTag()+"' constraint", fe.Value())
	}
	return errors.Wrap(err, "config: validate")
}

// LoadOptions returns the CSV parsing options.
func (c *Config) LoadOptions() crash.LoadOptions {
	var delim rune
	if d := []rune(c.Data.Delimiter); len(d) > 0 {
		delim = d[0]
	}
	return crash.LoadOptions{NAValues: c.Data.NAValues, Delimiter: delim}
}

// Responses returns the selected blocks in the configured order.
func (c *Config) Responses() ([]analysis.Response, error) {
	if len(c.Run.Responses) == 0 {
		return analysis.DefaultResponses(), nil
	}
	out := make([]analysis.Response, 0, len(c.Run.Responses))
	seen := make(map[string]bool, len(c.Run.Responses))
	for _, name := range c.Run.Responses {
		r, ok := analysis.Lookup(name)
		if !ok {
			return nil, errors.NewValidationError("run.responses", "unknown response", name)
		}
		// 結果 DB はブロック名を主キーに含む
		if seen[name] {
			return nil, errors.NewValidationError("run.responses", "duplicate response", name)
		}
		seen[name] = true
		out = append(out, r)
	}
	return out, nil
}

// AnalysisOptions converts the configuration for analysis.NewRunner.
func (c *Config) AnalysisOptions() (analysis.Options, error) {
	responses, err := c.Responses()
	if err != nil {
		return analysis.Options{}, err
	}
	opts := analysis.Options{
		Trees:              c.Forest.Trees,
		Mtry:               c.Forest.Mtry,
		NodeSize:           c.Forest.NodeSize,
		MaxDepth:           c.Forest.MaxDepth,
		Seed:               c.Split.Seed,
		TrainFraction:      c.Split.TrainFraction,
		Parallelism:        c.Run.Parallelism,
		TreeJobs:           c.Forest.Jobs,
		GridResolution:     c.Partial.GridResolution,
		PDPredictors:       c.Partial.Predictors,
		PermutationRepeats: c.Partial.PermutationRepeats,
		PlotFormat:         c.Plot.Format,
		Plot: plotting.Options{
			Width:   vg.Length(c.Plot.Width) * vg.Inch,
			Height:  vg.Length(c.Plot.Height) * vg.Inch,
			Columns: c.Plot.Columns,
		},
		Responses: responses,
	}
	if c.Plot.Enabled {
		opts.OutputDir = c.OutputDir
	}
	return opts, nil
}
