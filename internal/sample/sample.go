// Package sample defines the tagged message variant produced by the
// ingress workers: a MeterSample (three-phase power/voltage, peak
// power, gas volume) or an AdcSample (water-level ADC reading).
package sample

import "math"

// Table names written by the Store. Kept here (rather than in the
// store package) because Sample.Tables is the contract ingress and the
// store agree on.
const (
	TableMeterSamples = "meter_samples"
	TableMeterPeaks   = "meter_peaks"
	TableGasSamples   = "gas_samples"
	TableWaterSamples = "water_samples"
)

// MeterSample is one frame decoded from the meter's text protocol. Any
// of the three logical readings (instant power, peak power, gas) may
// be absent from a given frame; a nil timestamp means "not present in
// this frame", not "zero".
type MeterSample struct {
	Timestamp    *int64
	TimestampStr string

	InstantPower1 float64
	InstantPower2 float64
	InstantPower3 float64
	Voltage1      float64
	Voltage2      float64
	Voltage3      float64

	PeakPower          float64
	PeakPowerTimestamp *int64
	PeakPowerTimeStr   string

	GasVolume      float64
	GasTimestamp   *int64
	GasTimeStr     string
}

// AdcSample is one water-level ADC reading.
type AdcSample struct {
	Timestamp  int64
	VoltageInt uint16
}

// NewMeterSample returns a MeterSample with every reading defaulted to
// NaN, matching the source parser's "missing value" convention.
func NewMeterSample() MeterSample {
	return MeterSample{
		InstantPower1: math.NaN(),
		InstantPower2: math.NaN(),
		InstantPower3: math.NaN(),
		Voltage1:      math.NaN(),
		Voltage2:      math.NaN(),
		Voltage3:      math.NaN(),
		PeakPower:     math.NaN(),
		GasVolume:     math.NaN(),
	}
}

// Tables returns the set of tables this sample would touch if inserted,
// i.e. which of its component readings actually carry a timestamp.
func (m MeterSample) Tables() map[string]bool {
	tables := make(map[string]bool, 3)
	if m.Timestamp != nil {
		tables[TableMeterSamples] = true
	}
	if m.PeakPowerTimestamp != nil {
		tables[TableMeterPeaks] = true
	}
	if m.GasTimestamp != nil {
		tables[TableGasSamples] = true
	}
	return tables
}

// CurrentTimestamp picks the timestamp used to drive bucket bounds for
// this sample: the meter's own timestamp if present, else the peak
// timestamp, else the gas timestamp. This fixed precedence resolves
// spec Open Question (a) — the source picks whichever is non-nil with
// no documented order, so this implementation fixes one.
func (m MeterSample) CurrentTimestamp() (int64, bool) {
	if m.Timestamp != nil {
		return *m.Timestamp, true
	}
	if m.PeakPowerTimestamp != nil {
		return *m.PeakPowerTimestamp, true
	}
	if m.GasTimestamp != nil {
		return *m.GasTimestamp, true
	}
	return 0, false
}

// Tables returns the single table an AdcSample touches.
func (AdcSample) Tables() map[string]bool {
	return map[string]bool{TableWaterSamples: true}
}

// CurrentTimestamp returns the ADC sample's own timestamp.
func (a AdcSample) CurrentTimestamp() (int64, bool) {
	return a.Timestamp, true
}

// Sample is the tagged variant ingress workers place on the router
// channel and the store/tracker dispatch on.
type Sample interface {
	Tables() map[string]bool
	CurrentTimestamp() (int64, bool)
}

var (
	_ Sample = MeterSample{}
	_ Sample = AdcSample{}
)
