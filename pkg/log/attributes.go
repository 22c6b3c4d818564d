// Package log defines standard attribute keys for analysis operations.
//
// These keys follow a hierarchical naming convention (e.g., "model.name",
// "data.samples") to enable structured log analysis and filtering.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the type of model.
	// Examples: "RandomForestRegressor", "DecisionTreeRegressor", "LabelEncoder"
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "transform", "score"
	OperationKey = "ml.operation"

	// ComponentKey identifies which package is logging.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of the pipeline.
	PhaseKey = "ml.phase"
)

// Data Shape
const (
	// SamplesKey indicates the number of rows.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of predictor columns.
	FeaturesKey = "data.features"

	// ColumnKey names a single dataset column.
	ColumnKey = "data.column"

	// FilledKey records how many cells a cleaning rule filled.
	FilledKey = "data.filled"

	// PathKey records an input or output file path.
	PathKey = "data.path"
)

// Analysis blocks
const (
	// ResponseKey names the response variable of a modeling block.
	ResponseKey = "analysis.response"

	// TreesKey records the number of trees in a forest.
	TreesKey = "forest.trees"

	// MtryKey records the number of variables tried at each split.
	MtryKey = "forest.mtry"

	// OOBMSEKey records the out-of-bag mean of squared residuals.
	OOBMSEKey = "forest.oob_mse"

	// VarExplainedKey records the out-of-bag percentage of variance explained.
	VarExplainedKey = "forest.var_explained"

	// GridPointsKey records the size of a partial dependence grid.
	GridPointsKey = "pd.grid_points"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// MSEKey records a mean squared error on held-out data.
	MSEKey = "metrics.mse"

	// R2ScoreKey records R² coefficient of determination for regression.
	// Range typically [-∞, 1.0], with 1.0 being perfect prediction.
	R2ScoreKey = "metrics.r2_score"
)

// Error and Warning Context
const (
	// ErrorTypeKey categorizes the type of error encountered.
	ErrorTypeKey = "error.type"

	// StacktraceKey contains stack trace information for debugging.
	// Automatically populated when an error carrying a stack is logged.
	StacktraceKey = "error.stacktrace"
)

// Configuration
const (
	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"

	// WorkerIDKey identifies a worker goroutine.
	WorkerIDKey = "infra.worker_id"
)

// Standard attribute values.
const (
	OperationFit       = "fit"
	OperationPredict   = "predict"
	OperationTransform = "transform"
	OperationScore     = "score"

	PhaseLoad      = "load"
	PhaseClean     = "clean"
	PhaseTraining  = "training"
	PhaseTesting   = "testing"
	PhaseReporting = "reporting"
)
