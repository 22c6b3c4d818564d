// Package report prints block summaries in the randomForest console layout
// and exports whole runs as YAML.
package report

import (
	"fmt"
	"io"
	"math"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/crashforest/analysis"
	"github.com/YuminosukeSato/crashforest/inspection"
	"github.com/YuminosukeSato/crashforest/pkg/errors"
)

// PrintOptions controls how much of each summary is printed.
type PrintOptions struct {
	// TopN limits the importance table. 0 prints every feature.
	TopN int
	// Partial prints the partial dependence tables.
	Partial bool
}

// Print writes one block per summary.
func Print(w io.Writer, summaries []*analysis.Summary, opts PrintOptions) error {
	for i, s := range summaries {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return errors.Wrap(err, "report.Print")
			}
		}
		if err := printSummary(w, s, opts); err != nil {
			return errors.Wrapf(err, "report.Print: %s", s.Response)
		}
	}
	return nil
}

func printSummary(w io.Writer, s *analysis.Summary, opts PrintOptions) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "Response:\t %s\n", s.Response)
	fmt.Fprintf(tw, "Type of random forest:\t regression\n")
	fmt.Fprintf(tw, "Number of trees:\t %d\n", s.Trees)
	fmt.Fprintf(tw, "No. of variables tried at each split:\t %d\n", s.Mtry)
	fmt.Fprintf(tw, "Training rows:\t %d\n", s.TrainRows)
	fmt.Fprintf(tw, "Test rows:\t %d\n", s.TestRows)
	fmt.Fprintf(tw, "Mean of squared residuals:\t %s\n", num(s.OOBMSE))
	fmt.Fprintf(tw, "%% Var explained:\t %s\n", pct(s.VarExplained))
	fmt.Fprintf(tw, "Test MSE:\t %s\n", num(s.TestMSE))
	fmt.Fprintf(tw, "Test RMSE:\t %s\n", num(s.TestRMSE))
	fmt.Fprintf(tw, "Test MAE:\t %s\n", num(s.TestMAE))
	fmt.Fprintf(tw, "Test R-squared:\t %s\n", num(s.TestR2))
	if err := tw.Flush(); err != nil {
		return err
	}

	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	if err := printImportances(w, s, opts.TopN); err != nil {
		return err
	}

	if !opts.Partial {
		return nil
	}
	for _, pd := range s.Partial {
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
		if err := printPartial(w, pd); err != nil {
			return err
		}
	}
	return nil
}

func printImportances(w io.Writer, s *analysis.Summary, topN int) error {
	perm := make(map[string]float64, len(s.Permutation))
	for _, p := range s.Permutation {
		perm[p.Name] = p.Value
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := "rank\tfeature\tIncNodePurity"
	if len(perm) > 0 {
		header += "\tperm. increase in MSE"
	}
	fmt.Fprintln(tw, header+"\t")

	for _, imp := range limit(s.Importances, topN) {
		line := fmt.Sprintf("%d\t%s\t%s", imp.Rank, imp.Name, num(imp.Value))
		if len(perm) > 0 {
			line += "\t" + num(perm[imp.Name])
		}
		fmt.Fprintln(tw, line+"\t")
	}
	return tw.Flush()
}

func printPartial(w io.Writer, pd *inspection.PDResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\tpartial dependence\t\n", pd.Name)
	for i := range pd.Grid {
		fmt.Fprintf(tw, "%s\t%s\t\n", num(pd.Grid[i]), num(pd.Average[i]))
	}
	return tw.Flush()
}

func limit(ranked []inspection.Importance, n int) []inspection.Importance {
	if n <= 0 || n >= len(ranked) {
		return ranked
	}
	return ranked[:n]
}

func num(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.6f", v), "0"), ".")
}

func pct(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return fmt.Sprintf("%.2f", v)
}

// WriteYAML writes the whole run.
func WriteYAML(w io.Writer, r *analysis.Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return errors.Wrap(err, "report.WriteYAML")
	}
	return errors.Wrap(enc.Close(), "report.WriteYAML")
}
