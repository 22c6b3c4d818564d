package crash

import (
	"fmt"
	"math"
	"strings"

	"github.com/YuminosukeSato/crashforest/preprocessing"
	"github.com/YuminosukeSato/crashforest/pkg/errors"
	"github.com/YuminosukeSato/crashforest/pkg/log"
)

// CleanPolicy holds the business rules applied by Clean.
type CleanPolicy struct {
	YearFrom int `koanf:"year_from" yaml:"year_from" validate:"gte=1900"`
	YearTo   int `koanf:"year_to" yaml:"year_to" validate:"gtefield=YearFrom"`

	// UrbanValue is the urban cell that marks an urban crash.
	UrbanValue string `koanf:"urban_value" yaml:"urban_value" validate:"required"`
	// OffRoadLane is compared to roadLane ignoring case.
	OffRoadLane string `koanf:"off_road_lane" yaml:"off_road_lane" validate:"required"`
	// OffRoadToken is searched for in crashLocation1.
	OffRoadToken string `koanf:"off_road_token" yaml:"off_road_token" validate:"required"`

	UrbanSpeed float64 `koanf:"urban_speed" yaml:"urban_speed" validate:"gt=0"`
	RuralSpeed float64 `koanf:"rural_speed" yaml:"rural_speed" validate:"gt=0"`

	StreetLightFill    string `koanf:"street_light_fill" yaml:"street_light_fill" validate:"required"`
	TrafficControlFill string `koanf:"traffic_control_fill" yaml:"traffic_control_fill" validate:"required"`

	DropColumns []string `koanf:"drop_columns" yaml:"drop_columns"`
}

// DefaultCleanPolicy returns the rules for the 2010-2020 crash extract.
func DefaultCleanPolicy() CleanPolicy {
	return CleanPolicy{
		YearFrom:           2010,
		YearTo:             2020,
		UrbanValue:         "Urban",
		OffRoadLane:        "off road",
		OffRoadToken:       "OFF",
		UrbanSpeed:         79,
		RuralSpeed:         100,
		StreetLightFill:    "Unknown",
		TrafficControlFill: "Not Applicable",
		DropColumns:        append([]string(nil), MetadataColumns...),
	}
}

// Clean drops metadata columns, keeps rows within the year range and fills
// missing values by the policy rules. NumberOfLanes is only filled for
// off-road crashes and may remain missing.
func (d *Dataset) Clean(p CleanPolicy) (*Dataset, error) {
	if p.YearTo < p.YearFrom {
		return nil, errors.NewValidationError("YearTo", "must not precede YearFrom", p.YearTo)
	}

	ds, err := d.Drop(p.DropColumns)
	if err != nil {
		return nil, err
	}

	required := []string{CrashYear, SpeedLimit, Urban, NumberOfLanes, RoadLane, CrashLocation1, StreetLight, TrafficControl}
	required = append(required, HazardColumns...)
	if err := ds.MissingColumns("crash.Clean", required); err != nil {
		return nil, err
	}

	if ds, err = ds.filterYears(p.YearFrom, p.YearTo); err != nil {
		return nil, err
	}

	steps := []func(*Dataset, CleanPolicy) (*Dataset, error){
		fillSpeedLimit,
		fillNumberOfLanes,
		func(ds *Dataset, p CleanPolicy) (*Dataset, error) {
			return ds.fillString(StreetLight, p.StreetLightFill)
		},
		func(ds *Dataset, p CleanPolicy) (*Dataset, error) {
			return ds.fillString(TrafficControl, p.TrafficControlFill)
		},
		fillHazards,
	}
	for _, step := range steps {
		if ds, err = step(ds, p); err != nil {
			return nil, err
		}
	}

	logger().Info("dataset cleaned",
		log.PhaseKey, log.PhaseClean,
		log.SamplesKey, ds.Nrow(),
		log.FeaturesKey, len(ds.Names()),
	)
	return ds, nil
}

func (d *Dataset) filterYears(from, to int) (*Dataset, error) {
	years, err := d.Float(CrashYear)
	if err != nil {
		return nil, err
	}
	rows := make([]int, 0, len(years))
	for i, y := range years {
		if !math.IsNaN(y) && y >= float64(from) && y <= float64(to) {
			rows = append(rows, i)
		}
	}
	if len(rows) == 0 {
		return nil, errors.NewModelError("crash.Clean",
			fmt.Sprintf("no rows with %s in [%d, %d]", CrashYear, from, to), errors.ErrEmptyData)
	}
	if len(rows) == d.Nrow() {
		return d, nil
	}
	logger().Debug("rows outside year range removed", log.ColumnKey, CrashYear, log.SamplesKey, d.Nrow()-len(rows))
	return d.Subset(rows)
}

func fillSpeedLimit(d *Dataset, p CleanPolicy) (*Dataset, error) {
	speed, err := d.Float(SpeedLimit)
	if err != nil {
		return nil, err
	}
	urban, urbanMissing, err := d.Strings(Urban)
	if err != nil {
		return nil, err
	}

	out := make([]float64, len(speed))
	filled := 0
	for i, v := range speed {
		out[i] = v
		if !math.IsNaN(v) {
			continue
		}
		if !urbanMissing[i] && urban[i] == p.UrbanValue {
			out[i] = p.UrbanSpeed
		} else {
			out[i] = p.RuralSpeed
		}
		filled++
	}
	logFilled(SpeedLimit, filled)
	return d.withFloat(SpeedLimit, out)
}

func fillNumberOfLanes(d *Dataset, p CleanPolicy) (*Dataset, error) {
	lanes, err := d.Float(NumberOfLanes)
	if err != nil {
		return nil, err
	}
	lane, laneMissing, err := d.Strings(RoadLane)
	if err != nil {
		return nil, err
	}
	loc, locMissing, err := d.Strings(CrashLocation1)
	if err != nil {
		return nil, err
	}

	out := make([]float64, len(lanes))
	filled := 0
	for i, v := range lanes {
		out[i] = v
		if !math.IsNaN(v) {
			continue
		}
		offRoad := !laneMissing[i] && strings.EqualFold(lane[i], p.OffRoadLane)
		if !offRoad && !locMissing[i] {
			offRoad = strings.Contains(loc[i], p.OffRoadToken)
		}
		if offRoad {
			out[i] = 0
			filled++
		}
	}
	logFilled(NumberOfLanes, filled)
	return d.withFloat(NumberOfLanes, out)
}

func fillHazards(d *Dataset, _ CleanPolicy) (*Dataset, error) {
	ds := d
	for _, name := range HazardColumns {
		var err error
		if ds, err = ds.fillFloat(name, 0); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func (d *Dataset) fillFloat(name string, value float64) (*Dataset, error) {
	values, err := d.Float(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	filled := 0
	for i, v := range values {
		out[i] = v
		if math.IsNaN(v) {
			out[i] = value
			filled++
		}
	}
	logFilled(name, filled)
	return d.withFloat(name, out)
}

func (d *Dataset) fillString(name, value string) (*Dataset, error) {
	values, missing, err := d.Strings(name)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(values))
	filled := 0
	for i, v := range values {
		out[i] = v
		if missing[i] {
			out[i] = value
			filled++
		}
	}
	logFilled(name, filled)
	return d.withStrings(name, out)
}

func logFilled(column string, filled int) {
	if filled == 0 {
		return
	}
	logger().Debug("missing values filled", log.ColumnKey, column, log.FilledKey, filled)
}

// Derive appends vehicle_damage, object_damage and property_damage as row
// sums of their constituents. A missing constituent makes the sum missing.
func (d *Dataset) Derive() (*Dataset, error) {
	ds := d
	for _, name := range AggregateOrder {
		parts := Aggregates[name]
		if err := ds.MissingColumns("crash.Derive", parts); err != nil {
			return nil, err
		}
		sum := make([]float64, ds.Nrow())
		for _, part := range parts {
			values, err := ds.Float(part)
			if err != nil {
				return nil, errors.Wrapf(err, "crash.Derive: %s", name)
			}
			for i, v := range values {
				sum[i] += v
			}
		}
		var err error
		if ds, err = ds.withFloat(name, sum); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// EncodeFactors replaces each listed string column with integer codes
// fitted on every row of the dataset. Missing cells encode as NaN. Absent
// columns are skipped.
func (d *Dataset) EncodeFactors(cols []string) (*Dataset, map[string]*preprocessing.LabelEncoder, error) {
	ds := d
	encoders := make(map[string]*preprocessing.LabelEncoder, len(cols))
	for _, name := range cols {
		if !ds.Has(name) || ds.IsNumeric(name) {
			continue
		}
		values, missing, err := ds.Strings(name)
		if err != nil {
			return nil, nil, err
		}

		present := make([]string, 0, len(values))
		for i, v := range values {
			if !missing[i] {
				present = append(present, v)
			}
		}
		codes := make([]float64, len(values))
		enc := preprocessing.NewLabelEncoder()
		if len(present) > 0 {
			if err := enc.Fit(present); err != nil {
				return nil, nil, errors.Wrapf(err, "crash.EncodeFactors: %s", name)
			}
		}
		for i, v := range values {
			if missing[i] {
				codes[i] = math.NaN()
				continue
			}
			c, err := enc.Transform([]string{v})
			if err != nil {
				return nil, nil, errors.Wrapf(err, "crash.EncodeFactors: %s", name)
			}
			codes[i] = c[0]
		}

		if ds, err = ds.withFloat(name, codes); err != nil {
			return nil, nil, err
		}
		encoders[name] = enc
		logger().Debug("factor encoded", log.ColumnKey, name, "levels", len(enc.Classes))
	}
	return ds, encoders, nil
}
