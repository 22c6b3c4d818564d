// Package crashforest explains crash outcomes with random forest regression.
//
// A run loads the crash table, drops identifier and metadata columns, keeps
// the configured crash years and imputes the documented gaps (speed limit
// by urban/rural, lanes for off-road crashes, "Unknown" street lighting,
// "Not Applicable" traffic control and 0 for hazard indicators). Three
// aggregate responses are then derived: vehicle_damage, object_damage and
// property_damage.
//
// Every run splits the cleaned rows once, 80/20, and fits one forest per
// response block:
//
//	pedestrian, strayAnimal, seriousInjuryCount, minorInjuryCount,
//	fatalCount, vehicle_damage, object_damage, property_damage
//
// Each block reports the out-of-bag mean of squared residuals, the percentage
// of variance explained, node purity importances, held-out MSE and R², and
// partial dependence curves for the reported predictors.
//
// # Quick Start
//
//	crashforest run --input crash.csv --out plots --db results.db
//
// or from Go:
//
//	raw, err := crash.LoadFile("crash.csv", crash.LoadOptions{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ds, err := analysis.Prepare(raw, crash.DefaultCleanPolicy())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	rep, err := analysis.NewRunner(analysis.DefaultOptions(), nil).Run(ctx, ds)
//
// # Packages
//
//   - crash: loading, cleaning, derivation and design matrices
//   - analysis: response blocks and the block runner
//   - sklearn/tree: CART regression trees
//   - sklearn/ensemble: RandomForestRegressor with out-of-bag estimates
//   - inspection: partial dependence and importance rankings
//   - metrics: regression metrics (MSE, RMSE, MAE, R²)
//   - model_selection: the seeded train/test split
//   - preprocessing: label encoding of factor columns
//   - plotting: importance and partial dependence plots
//   - report: console tables and YAML export
//   - store: SQLite results history
//   - config: layered YAML/environment configuration
//   - core/model, core/parallel: shared estimator state and worker pools
//   - pkg/errors, pkg/log: structured errors and logging
//
// # Reproducibility
//
// The split, every forest and every permutation draw from seeded PCG
// streams, and seeds are drawn before work is spread over goroutines. Runs
// with the same seed give the same results at any parallelism.
package crashforest
