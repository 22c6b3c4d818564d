package errors

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name     string
		op       string
		kind     string
		err      error
		wantMsg  string
		hasStack bool
	}{
		{
			name:     "with original error",
			op:       "Fit",
			kind:     "invalid input",
			err:      fmt.Errorf("test error"),
			wantMsg:  "crashforest: Fit: invalid input: test error",
			hasStack: true,
		},
		{
			name:     "without original error",
			op:       "Predict",
			kind:     "not fitted",
			err:      nil,
			wantMsg:  "crashforest: Predict: not fitted",
			hasStack: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)

			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.wantMsg)
			}

			// スタックトレースの存在確認
			if tt.hasStack {
				formatted := fmt.Sprintf("%+v", err)
				if !strings.Contains(formatted, "errors_test.go") {
					t.Error("Expected stack trace to contain test file name")
				}
			}

			var modelErr *ModelError
			if !As(err, &modelErr) {
				t.Error("Error should be castable to *ModelError")
			}
		})
	}
}

func TestNewDimensionError(t *testing.T) {
	err := NewDimensionError("Predict", 10, 3, 1)

	want := "crashforest: Predict: dimension mismatch on axis 1 (features). Expected 10, got 3"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var dimErr *DimensionError
	if !As(err, &dimErr) {
		t.Error("Error should be castable to *DimensionError")
	}
}

func TestNewNotFittedError(t *testing.T) {
	err := NewNotFittedError("RandomForestRegressor", "Predict")

	want := "crashforest: RandomForestRegressor: this model is not fitted yet. Call Fit() before using Predict()"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var notFittedErr *NotFittedError
	if !As(err, &notFittedErr) {
		t.Error("Error should be castable to *NotFittedError")
	}
}

func TestNewMissingValueError(t *testing.T) {
	err := NewMissingValueError("RandomForestRegressor.Fit", map[string]int{
		"speedLimit":    2,
		"NumberOfLanes": 5,
	})

	want := "crashforest: RandomForestRegressor.Fit: missing values in input: NumberOfLanes=5, speedLimit=2"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var mvErr *MissingValueError
	if !As(err, &mvErr) {
		t.Fatal("Error should be castable to *MissingValueError")
	}
	if got := mvErr.ColumnNames(); len(got) != 2 || got[0] != "NumberOfLanes" {
		t.Errorf("ColumnNames() = %v", got)
	}
}

func TestNewSchemaError(t *testing.T) {
	err := NewSchemaError("crash.Clean", []string{"crashYear", "urban"})
	if !strings.Contains(err.Error(), "missing columns: crashYear, urban") {
		t.Errorf("unexpected message: %v", err)
	}
	var schemaErr *SchemaError
	if !As(err, &schemaErr) {
		t.Error("Error should be castable to *SchemaError")
	}
}

func TestCheckNoMissing(t *testing.T) {
	X := mat.NewDense(3, 2, []float64{
		1, math.NaN(),
		2, 3,
		math.NaN(), math.NaN(),
	})

	err := CheckNoMissing("Fit", X, []string{"a", "b"})
	var mvErr *MissingValueError
	if !As(err, &mvErr) {
		t.Fatalf("expected MissingValueError, got %v", err)
	}
	if mvErr.Columns["a"] != 1 || mvErr.Columns["b"] != 2 {
		t.Errorf("unexpected counts: %v", mvErr.Columns)
	}

	if err := CheckNoMissing("Fit", mat.NewDense(1, 1, []float64{1}), nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}

	counts := MissingByColumn(mat.NewDense(1, 2, []float64{0, math.NaN()}), nil)
	if counts["x1"] != 1 {
		t.Errorf("expected generated column name x1, got %v", counts)
	}
}

func TestCheckNoMissingValues(t *testing.T) {
	if err := CheckNoMissingValues("Fit", "y", []float64{1, 2}); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	err := CheckNoMissingValues("Fit", "y", []float64{1, math.NaN()})
	var mvErr *MissingValueError
	if !As(err, &mvErr) || mvErr.Columns["y"] != 1 {
		t.Errorf("expected one missing y, got %v", err)
	}
}

func TestUndefinedMetricWarning(t *testing.T) {
	warn := NewUndefinedMetricWarning("r2", "constant target", math.NaN())
	if !strings.Contains(warn.Error(), "'r2' is ill-defined") {
		t.Errorf("unexpected message: %v", warn)
	}
}

func TestWarnRoutesToZerologFunc(t *testing.T) {
	var got []error
	SetZerologWarnFunc(func(w error) { got = append(got, w) })
	defer SetZerologWarnFunc(nil)

	Warn(NewUndefinedMetricWarning("r2", "constant target", math.NaN()))
	if len(got) != 1 {
		t.Fatalf("expected 1 routed warning, got %d", len(got))
	}
}

func TestWrapAndIs(t *testing.T) {
	wrapped := Wrap(ErrEmptyData, "in RandomForestRegressor.Fit")

	if !Is(wrapped, ErrEmptyData) {
		t.Error("Expected Is(wrapped, ErrEmptyData) to be true")
	}

	if !strings.Contains(wrapped.Error(), "in RandomForestRegressor.Fit") {
		t.Error("Expected wrapped error to contain wrapping message")
	}
}

func TestWrapf(t *testing.T) {
	wrapped := Wrapf(ErrEmptyData, "in %s: expected %d, got %d", "Predict", 10, 5)

	if !Is(wrapped, ErrEmptyData) {
		t.Error("Expected Is(wrapped, ErrEmptyData) to be true")
	}

	expectedMsg := "in Predict: expected 10, got 5"
	if !strings.Contains(wrapped.Error(), expectedMsg) {
		t.Errorf("Expected wrapped error to contain %q", expectedMsg)
	}
}

func TestErrorChaining(t *testing.T) {
	err1 := fmt.Errorf("base error")
	err2 := Wrap(err1, "wrapped once")
	err3 := NewModelError("Operation", "failed", err2)

	if !strings.Contains(err3.Error(), "base error") {
		t.Error("Expected error chain to contain base error")
	}

	formatted := fmt.Sprintf("%+v", err3)
	if !strings.Contains(formatted, "errors_test.go") {
		t.Error("Expected detailed error to contain stack trace")
	}
}
