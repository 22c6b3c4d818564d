package crash

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/YuminosukeSato/crashforest/pkg/errors"
	"github.com/YuminosukeSato/crashforest/pkg/log"
)

// Dataset is an immutable view of the crash table. Every operation returns
// a new Dataset.
type Dataset struct {
	df dataframe.DataFrame
}

// LoadOptions controls CSV parsing.
type LoadOptions struct {
	// NAValues are the cell spellings read as missing. Nil means DefaultNAValues.
	NAValues []string
	// Delimiter separates fields. Zero means ','.
	Delimiter rune
}

// Load reads a CSV with a header row. Columns listed in NumericColumns, and
// any other column whose non-missing cells all parse as numbers, become
// float columns with NaN for missing cells. Factor and text columns always
// stay strings.
func Load(r io.Reader, opts LoadOptions) (*Dataset, error) {
	na := opts.NAValues
	if na == nil {
		na = DefaultNAValues
	}
	delim := opts.Delimiter
	if delim == 0 {
		delim = ','
	}

	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.NaNValues(na),
		dataframe.WithDelimiter(delim),
		dataframe.WithLazyQuotes(true),
	)
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "crash.Load")
	}
	if df.Nrow() == 0 {
		return nil, errors.NewModelError("crash.Load", "empty data", errors.ErrEmptyData)
	}

	known := make(map[string]bool, len(NumericColumns))
	for _, c := range NumericColumns {
		known[c] = true
	}
	factors := make(map[string]bool, len(FactorColumns)+len(TextColumns))
	for _, c := range append(append([]string{}, FactorColumns...), TextColumns...) {
		factors[c] = true
	}

	ds := &Dataset{df: df}
	for _, name := range df.Names() {
		if factors[name] {
			continue
		}
		values, ok, err := parseFloats(df.Col(name))
		switch {
		case err != nil && known[name]:
			return nil, errors.Wrapf(err, "crash.Load: column %s", name)
		case err != nil:
			continue
		case !ok && !known[name]:
			// 全セル欠損の列は型が決まらないので文字列のまま
			continue
		}
		if ds, err = ds.withFloat(name, values); err != nil {
			return nil, err
		}
	}

	logger().Debug("dataset loaded",
		log.SamplesKey, ds.Nrow(),
		log.FeaturesKey, len(ds.Names()),
	)
	return ds, nil
}

// LoadFile opens path and calls Load.
func LoadFile(path string, opts LoadOptions) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "crash.LoadFile: %s", path)
	}
	defer f.Close()

	ds, err := Load(f, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "crash.LoadFile: %s", path)
	}
	logger().Info("dataset loaded", log.PathKey, path, log.SamplesKey, ds.Nrow())
	return ds, nil
}

// parseFloats converts a string column to floats. ok is false when the
// column has no non-missing cell; err is set on the first cell that does
// not parse.
func parseFloats(col series.Series) (values []float64, ok bool, err error) {
	if col.Type() == series.Float || col.Type() == series.Int {
		return col.Float(), true, nil
	}
	missing := col.IsNaN()
	records := col.Records()
	values = make([]float64, len(records))
	for i, rec := range records {
		if missing[i] {
			values[i] = math.NaN()
			continue
		}
		v, perr := strconv.ParseFloat(strings.TrimSpace(rec), 64)
		if perr != nil {
			return nil, false, errors.NewValueError("crash.parseFloats",
				fmt.Sprintf("row %d: %q is not a number", i, rec))
		}
		values[i] = v
		ok = true
	}
	return values, ok, nil
}

// FromColumns builds a Dataset from named columns, for tests and small
// fixtures. Values must be []float64 or []string; a missing cell is NaN in
// either case (the string "NaN" for string columns).
func FromColumns(names []string, columns map[string]interface{}) (*Dataset, error) {
	cols := make([]series.Series, 0, len(names))
	for _, name := range names {
		switch v := columns[name].(type) {
		case []float64:
			cols = append(cols, series.New(v, series.Float, name))
		case []string:
			cols = append(cols, series.New(v, series.String, name))
		default:
			return nil, errors.NewValueError("crash.FromColumns", fmt.Sprintf("column %s has unsupported type %T", name, v))
		}
	}
	df := dataframe.New(cols...)
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "crash.FromColumns")
	}
	return &Dataset{df: df}, nil
}

// DataFrame returns the underlying gota frame.
func (d *Dataset) DataFrame() dataframe.DataFrame { return d.df }

// Nrow returns the number of rows.
func (d *Dataset) Nrow() int { return d.df.Nrow() }

// Names returns the column names in order.
func (d *Dataset) Names() []string { return d.df.Names() }

// Has reports whether the column exists.
func (d *Dataset) Has(name string) bool {
	for _, n := range d.df.Names() {
		if n == name {
			return true
		}
	}
	return false
}

// IsNumeric reports whether the column is stored as numbers.
func (d *Dataset) IsNumeric(name string) bool {
	if !d.Has(name) {
		return false
	}
	t := d.df.Col(name).Type()
	return t == series.Float || t == series.Int
}

// MissingColumns returns a SchemaError naming the columns not present.
func (d *Dataset) MissingColumns(op string, cols []string) error {
	var missing []string
	for _, c := range cols {
		if !d.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return errors.NewSchemaError(op, missing)
	}
	return nil
}

// Float returns a numeric column with NaN for missing cells.
func (d *Dataset) Float(name string) ([]float64, error) {
	if err := d.MissingColumns("crash.Float", []string{name}); err != nil {
		return nil, err
	}
	if !d.IsNumeric(name) {
		return nil, errors.NewValueError("crash.Float", fmt.Sprintf("column %s is not numeric", name))
	}
	return d.df.Col(name).Float(), nil
}

// Strings returns a column as strings with a parallel missing mask.
func (d *Dataset) Strings(name string) (values []string, missing []bool, err error) {
	if err := d.MissingColumns("crash.Strings", []string{name}); err != nil {
		return nil, nil, err
	}
	col := d.df.Col(name)
	values = col.Records()
	missing = col.IsNaN()
	if d.IsNumeric(name) {
		for i, v := range col.Float() {
			missing[i] = math.IsNaN(v)
		}
	}
	return values, missing, nil
}

// MissingCounts returns the number of missing cells per column, omitting
// complete columns.
func (d *Dataset) MissingCounts() map[string]int {
	out := make(map[string]int)
	for _, name := range d.df.Names() {
		_, missing, _ := d.Strings(name)
		n := 0
		for _, m := range missing {
			if m {
				n++
			}
		}
		if n > 0 {
			out[name] = n
		}
	}
	return out
}

// Subset returns the listed rows in the given order.
func (d *Dataset) Subset(rows []int) (*Dataset, error) {
	if len(rows) == 0 {
		return nil, errors.NewModelError("crash.Subset", "empty row selection", errors.ErrEmptyData)
	}
	df := d.df.Subset(rows)
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "crash.Subset")
	}
	return &Dataset{df: df}, nil
}

// Drop removes the listed columns that are present and ignores the rest.
func (d *Dataset) Drop(cols []string) (*Dataset, error) {
	var present []string
	for _, c := range cols {
		if d.Has(c) {
			present = append(present, c)
		}
	}
	if len(present) == 0 {
		return d, nil
	}
	df := d.df.Drop(present)
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "crash.Drop")
	}
	return &Dataset{df: df}, nil
}

// WriteCSV writes the table with a header row.
func (d *Dataset) WriteCSV(w io.Writer) error {
	if err := d.df.WriteCSV(w); err != nil {
		return errors.Wrap(err, "crash.WriteCSV")
	}
	return nil
}

func (d *Dataset) withFloat(name string, values []float64) (*Dataset, error) {
	df := d.df.Mutate(series.New(values, series.Float, name))
	if df.Err != nil {
		return nil, errors.Wrapf(df.Err, "crash: replace column %s", name)
	}
	return &Dataset{df: df}, nil
}

func (d *Dataset) withStrings(name string, values []string) (*Dataset, error) {
	df := d.df.Mutate(series.New(values, series.String, name))
	if df.Err != nil {
		return nil, errors.Wrapf(df.Err, "crash: replace column %s", name)
	}
	return &Dataset{df: df}, nil
}

func logger() log.Logger {
	return log.GetLoggerWithName("crash")
}
