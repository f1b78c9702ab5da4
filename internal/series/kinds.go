package series

import "github.com/KarelPeeters/DigitalMeter/internal/sample"

// tankCrossSectionM2 is the assumed tank cross-sectional area used to
// convert a water height reading into a volume. Neither spec.md nor
// the original implementation specifies a tank geometry for the
// water_volume download quantity; 1.0 m^2 is documented here as an
// explicit placeholder constant rather than a derived fact.
const tankCrossSectionM2 = 1.0

// Kind values name the four metric families the Store and Tracker
// know about. Column expressions are SQL fragments the Store embeds
// verbatim in its SELECT/AVG list (spec §4.1).
var (
	KindPower = Kind{
		Name:  "power",
		Table: sample.TableMeterSamples,
		Columns: []ColumnSpec{
			{Name: "instant_power_1", Expr: "p1"},
			{Name: "instant_power_2", Expr: "p2"},
			{Name: "instant_power_3", Expr: "p3"},
		},
		UnitLabel: "W",
	}

	KindGas = Kind{
		Name:      "gas",
		Table:     sample.TableGasSamples,
		Columns:   []ColumnSpec{{Name: "volume", Expr: "volume"}},
		UnitLabel: "m3",
	}

	// waterHeightExpr maps the raw 10-bit ADC integer to a water height
	// in metres, via the sensor's documented 0.5-4.5 V / 0-5 m mapping:
	// voltage = voltage_int/1023*5.0, then (voltage-0.5)/4.0*5.0 metres.
	waterHeightExpr = "(voltage_int / 1023.0 * 5.0 - 0.5) / 4.0 * 5.0"

	KindWaterHeight = Kind{
		Name:      "water_height",
		Table:     sample.TableWaterSamples,
		Columns:   []ColumnSpec{{Name: "height", Expr: waterHeightExpr}},
		UnitLabel: "m",
	}

	KindWaterVolume = Kind{
		Name:  "water_volume",
		Table: sample.TableWaterSamples,
		Columns: []ColumnSpec{
			// tankCrossSectionM2 inlined as a literal; see its doc comment.
			{Name: "volume", Expr: waterHeightExpr + " * 1.0"},
		},
		UnitLabel: "m3",
	}
)

// ByName resolves the download handler's `quantity` query parameter to
// a Kind.
func ByName(name string) (Kind, bool) {
	switch name {
	case KindPower.Name:
		return KindPower, true
	case KindGas.Name:
		return KindGas, true
	case KindWaterHeight.Name:
		return KindWaterHeight, true
	case KindWaterVolume.Name:
		return KindWaterVolume, true
	default:
		return Kind{}, false
	}
}
