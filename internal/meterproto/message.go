package meterproto

import (
	"math"
	"strconv"

	"github.com/KarelPeeters/DigitalMeter/internal/sample"
)

// ToMeterSample converts a clean RawRecord into a MeterSample. Callers
// must check IsClean first — this implementation does not refuse to
// convert an unclean record, since a partially-clean record may still
// carry a usable message timestamp.
func (r *RawRecord) ToMeterSample() sample.MeterSample {
	msg := sample.NewMeterSample()

	if v, ok := r.Values[keyMessageTime]; ok {
		formatted := v.timestamp
		if formatted == "" {
			// The message timestamp line has the shape KEY(TS): the
			// timestamp is the line's only value.
			formatted = parseValue("(" + v.raw + ")()").timestamp
		}
		if ts, ok := timestampSeconds(formatted); ok {
			msg.Timestamp = ptrIf(ts, true)
			msg.TimestampStr = formatted
		}
	}

	p1, hasP1 := r.Values[keyInstantPower1]
	msg.InstantPower1 = parsePower(p1, hasP1)
	p2, hasP2 := r.Values[keyInstantPower2]
	msg.InstantPower2 = parsePower(p2, hasP2)
	p3, hasP3 := r.Values[keyInstantPower3]
	msg.InstantPower3 = parsePower(p3, hasP3)

	if v, ok := r.Values[keyVoltage1]; ok {
		msg.Voltage1 = parseVoltage(v)
	}
	if v, ok := r.Values[keyVoltage2]; ok {
		msg.Voltage2 = parseVoltage(v)
	}
	if v, ok := r.Values[keyVoltage3]; ok {
		msg.Voltage3 = parseVoltage(v)
	}

	if v, ok := r.Values[keyPeakPower]; ok {
		msg.PeakPower = parsePower(v, true)
		if ts, ok := timestampSeconds(v.timestamp); ok {
			msg.PeakPowerTimestamp = ptrIf(ts, true)
			msg.PeakPowerTimeStr = v.timestamp
		}
	}

	if v, ok := r.Values[keyGasVolume]; ok {
		msg.GasVolume = parseGas(v, true)
		if ts, ok := timestampSeconds(v.timestamp); ok {
			msg.GasTimestamp = ptrIf(ts, true)
			msg.GasTimeStr = v.timestamp
		}
	}

	return msg
}

func parseVoltage(v value) float64 {
	m := patternVoltage.FindStringSubmatch(v.raw)
	if m == nil {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return math.NaN()
	}
	return f
}
