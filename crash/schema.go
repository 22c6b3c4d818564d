// Package crash loads the crash-incident table and applies the fixed
// cleaning, imputation and derivation rules that every modeling block
// depends on.
package crash

// Column names of the crash table.
const (
	CrashYear      = "crashYear"
	SpeedLimit     = "speedLimit"
	NumberOfLanes  = "NumberOfLanes"
	Urban          = "urban"
	RoadLane       = "roadLane"
	CrashLocation1 = "crashLocation1"
	CrashLocation2 = "crashLocation2"
	StreetLight    = "streetLight"
	TrafficControl = "trafficControl"
	CrashSeverity  = "crashSeverity"

	Pedestrian         = "pedestrian"
	StrayAnimal        = "strayAnimal"
	SeriousInjuryCount = "seriousInjuryCount"
	MinorInjuryCount   = "minorInjuryCount"
	FatalCount         = "fatalCount"

	VehicleDamage  = "vehicle_damage"
	ObjectDamage   = "object_damage"
	PropertyDamage = "property_damage"
)

// HazardColumns are the obstacle and hazard indicators whose missing cells
// mean "not involved" and are filled with 0.
var HazardColumns = []string{
	"bridge", "cliffBank", "ditch", "debris", "guardRail", "houseOrBuilding",
	"kerb", "fence", "otherObject", "overBank", Pedestrian, "phoneBoxEtc",
	StrayAnimal, "trafficSign", "trafficIsland", "objectThrownOrDropped",
	"train", "tree", "waterRiver", "postOrPole", "roadworks",
}

// VehicleDamageColumns are summed into vehicle_damage.
var VehicleDamageColumns = []string{
	"bicycle", "bus", "carStationWagon", "moped", "motorcycle",
	"otherVehicleType", "parkedVehicle", "schoolBus", "suv", "taxi",
	"truck", "unknownVehicleType", "vanOrUtility",
}

// ObjectDamageColumns are summed into object_damage.
var ObjectDamageColumns = []string{"objectThrownOrDropped", "otherObject"}

// PropertyDamageColumns are summed into property_damage.
var PropertyDamageColumns = []string{
	"bridge", "fence", "guardRail", "houseOrBuilding", "phoneBoxEtc",
	"postOrPole", "trafficSign",
}

// Aggregates maps each derived column to its constituents.
var Aggregates = map[string][]string{
	VehicleDamage:  VehicleDamageColumns,
	ObjectDamage:   ObjectDamageColumns,
	PropertyDamage: PropertyDamageColumns,
}

// AggregateOrder is the order in which derived columns are appended.
var AggregateOrder = []string{VehicleDamage, ObjectDamage, PropertyDamage}

// MetadataColumns are identifiers, coordinates and sparsely recorded
// descriptive fields dropped before cleaning.
var MetadataColumns = []string{
	"X", "Y", "OBJECTID", "areaUnitID", "meshblockId", "tlaId", "tlaName",
	"region", "crashFinancialYear", CrashLocation2, "crashDirectionDescription",
	"directionRoleDescription", "crashRoadSideRoad", "crashSHDescription",
	"intersection", "advisorySpeed", "temporarySpeedLimit", "holiday",
	"weatherB", "slipOrFlood",
}

// FactorColumns are categorical fields label-encoded into predictors.
var FactorColumns = []string{
	Urban, StreetLight, TrafficControl, "light", "flatHill", "roadCharacter",
	RoadLane, "roadSurface", "weatherA",
}

// TextColumns are free-text fields never used as predictors.
var TextColumns = []string{CrashLocation1, CrashLocation2}

// NumericColumns are typed as float on load. Other columns are promoted to
// float when every non-missing cell parses as a number.
var NumericColumns = func() []string {
	cols := []string{
		CrashYear, SpeedLimit, NumberOfLanes, SeriousInjuryCount,
		MinorInjuryCount, FatalCount, "vehicle",
	}
	cols = append(cols, HazardColumns...)
	return append(cols, VehicleDamageColumns...)
}()

// FilledColumns are the columns guaranteed to hold no missing cell after
// Clean: speedLimit, streetLight, trafficControl and the hazard indicators.
func FilledColumns() []string {
	cols := []string{SpeedLimit, StreetLight, TrafficControl}
	return append(cols, HazardColumns...)
}

// DefaultNAValues are the cell spellings read as missing.
var DefaultNAValues = []string{"", "NA", "NaN", "Null", "null"}
