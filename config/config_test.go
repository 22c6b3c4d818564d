package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/crashforest/analysis"
	"github.com/YuminosukeSato/crashforest/crash"
	"github.com/YuminosukeSato/crashforest/pkg/errors"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(PathEnvVar, "")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Forest.Trees)
	assert.Equal(t, 5, cfg.Forest.NodeSize)
	assert.Equal(t, 0.8, cfg.Split.TrainFraction)
	assert.Equal(t, crash.DefaultCleanPolicy(), cfg.Data.Clean)
	assert.Equal(t, analysis.PDPredictors, cfg.Partial.Predictors)
	assert.Equal(t, "info", cfg.Log.Level)

	err = cfg.Validate()
	var verr *errors.ValidationError
	require.True(t, errors.As(err, &verr), "input is required")
	assert.Equal(t, "Config.Input", verr.ParamName)

	cfg.Input = "crash.csv"
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crashforest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
input: data/crash.csv
forest:
  trees: 100
  mtry: 4
data:
  clean:
    year_from: 2012
plot:
  format: svg
run:
  responses: [fatalCount, pedestrian]
`), 0o600))

	t.Setenv("CRASHFOREST_FOREST__TREES", "50")
	t.Setenv("CRASHFOREST_OUTPUT_DIR", "plots")
	t.Setenv("CRASHFOREST_SPLIT__SEED", "99")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "data/crash.csv", cfg.Input)
	assert.Equal(t, 50, cfg.Forest.Trees, "environment wins over the file")
	assert.Equal(t, 4, cfg.Forest.Mtry)
	assert.Equal(t, 2012, cfg.Data.Clean.YearFrom)
	assert.Equal(t, 2020, cfg.Data.Clean.YearTo)
	assert.Equal(t, "plots", cfg.OutputDir)
	assert.Equal(t, uint64(99), cfg.Split.Seed)

	opts, err := cfg.AnalysisOptions()
	require.NoError(t, err)
	assert.Equal(t, 50, opts.Trees)
	assert.Equal(t, "plots", opts.OutputDir)
	assert.Equal(t, "svg", opts.PlotFormat)
	assert.Equal(t, 10*vg.Inch, opts.Plot.Width)
	require.Len(t, opts.Responses, 2)
	assert.Equal(t, crash.FatalCount, opts.Responses[0].Name)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"fraction", func(c *Config) { c.Split.TrainFraction = 1 }},
		{"trees", func(c *Config) { c.Forest.Trees = 0 }},
		{"years", func(c *Config) { c.Data.Clean.YearTo = 2000 }},
		{"format", func(c *Config) { c.Plot.Format = "bmp" }},
		{"delimiter", func(c *Config) { c.Data.Delimiter = ";;" }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"duplicate responses", func(c *Config) { c.Run.Responses = []string{"fatalCount", "pedestrian", "fatalCount"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Input = "crash.csv"
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestUnknownResponse(t *testing.T) {
	cfg := Default()
	cfg.Run.Responses = []string{"speed"}
	_, err := cfg.AnalysisOptions()
	assert.Error(t, err)
}

func TestDuplicateResponse(t *testing.T) {
	cfg := Default()
	cfg.Run.Responses = []string{"fatalCount", "fatalCount"}
	_, err := cfg.AnalysisOptions()
	require.Error(t, err)

	var ve *errors.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "fatalCount", ve.Value)
	assert.Contains(t, err.Error(), "duplicate response")
}

func TestLoadOptions(t *testing.T) {
	cfg := Default()
	cfg.Data.Delimiter = ";"
	opts := cfg.LoadOptions()
	assert.Equal(t, ';', opts.Delimiter)
	assert.Equal(t, crash.DefaultNAValues, opts.NAValues)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "forest.node_size", envKey("CRASHFOREST_FOREST__NODE_SIZE"))
	assert.Equal(t, "output_dir", envKey("CRASHFOREST_OUTPUT_DIR"))
	assert.Equal(t, "", envKey(PathEnvVar))
}
