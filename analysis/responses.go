// Package analysis runs the per-response random forest blocks over a
// cleaned crash dataset and collects their summaries.
package analysis

import (
	"sort"

	"github.com/YuminosukeSato/crashforest/crash"
)

// Response is one modeling block: the target column and the columns kept
// out of its design.
type Response struct {
	Name    string   `yaml:"name"`
	Exclude []string `yaml:"exclude"`
}

// ResponseNames lists the eight targets in block order.
var ResponseNames = []string{
	crash.VehicleDamage,
	crash.Pedestrian,
	crash.StrayAnimal,
	crash.PropertyDamage,
	crash.SeriousInjuryCount,
	crash.MinorInjuryCount,
	crash.ObjectDamage,
	crash.FatalCount,
}

// PDPredictors are the predictors whose partial dependence is reported for
// every block.
var PDPredictors = []string{
	"ditch", "roadworks", "waterRiver", "cliffBank", "overBank", "tree",
	"trafficIsland", crash.NumberOfLanes, crash.SpeedLimit,
}

// OutcomeColumns returns every response, the constituents of the three
// aggregates and crashSeverity, sorted and without duplicates.
func OutcomeColumns() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(cols ...string) {
		for _, c := range cols {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	add(ResponseNames...)
	for _, name := range crash.AggregateOrder {
		add(crash.Aggregates[name]...)
	}
	add(crash.CrashSeverity)
	sort.Strings(out)
	return out
}

// DefaultResponses returns the eight blocks. Each excludes every outcome
// column except its own target, plus the free-text columns.
func DefaultResponses() []Response {
	outcomes := OutcomeColumns()
	out := make([]Response, 0, len(ResponseNames))
	for _, name := range ResponseNames {
		out = append(out, Response{Name: name, Exclude: exclusionsFor(name, outcomes)})
	}
	return out
}

func exclusionsFor(target string, outcomes []string) []string {
	ex := make([]string, 0, len(outcomes)+len(crash.TextColumns))
	for _, c := range outcomes {
		if c != target {
			ex = append(ex, c)
		}
	}
	return append(ex, crash.TextColumns...)
}

// Lookup returns the default block for name.
func Lookup(name string) (Response, bool) {
	for _, r := range DefaultResponses() {
		if r.Name == name {
			return r, true
		}
	}
	return Response{}, false
}
