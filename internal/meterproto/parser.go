// Package meterproto implements the meter's text protocol: a stream of
// blank-line-separated records, each a set of `KEY(VALUE)` or
// `KEY(TS)(VALUE)` lines. Spec §6.1 documents this as a collaborator
// contract only (out of core scope); this implementation supplements
// it from the original Python parser (parse.py) so the ingress
// pipeline has a real producer to exercise end to end, rather than a
// stub.
package meterproto

import (
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	patternItem  = regexp.MustCompile(`^(\d+-\d+:\d+\.\d+\.\d+)(.*)$`)
	patternTST   = regexp.MustCompile(`^\((\d{12})([SW])\)\(([^()]*)\)$`)
	patternSolo  = regexp.MustCompile(`^\(([^()]*)\)$`)
	patternPower   = regexp.MustCompile(`(\d+\.\d+)\*kW`)
	patternGas     = regexp.MustCompile(`(\d+\.\d+)\*m3`)
	patternVoltage = regexp.MustCompile(`(\d+(?:\.\d+)?)\*V`)
)

// OBIS keys of interest (spec §6.1).
const (
	keyInstantPower1 = "1-0:21.7.0"
	keyInstantPower2 = "1-0:41.7.0"
	keyInstantPower3 = "1-0:61.7.0"
	keyVoltage1      = "1-0:32.7.0"
	keyVoltage2      = "1-0:52.7.0"
	keyVoltage3      = "1-0:72.7.0"
	keyPeakPower     = "1-0:1.6.0"
	keyGasVolume     = "0-1:24.2.3"
	keyMessageTime   = "0-0:1.0.0"
)

// value is one parsed `(TS)(VALUE)` or `(VALUE)` pair; Timestamp is
// the empty string when the line carried no timestamp component.
type value struct {
	raw       string
	timestamp string // formatted "2006-01-02 15:04:05[ DST]", or "" if none/unparsable
}

func parseValue(fullValue string) value {
	if m := patternTST.FindStringSubmatch(fullValue); m != nil {
		ts, dst, raw := m[1], m[2] == "S", m[3]
		parsed, err := time.Parse("060102150405", ts)
		if err != nil {
			slog.Warn("meterproto: failed to parse timestamp", "raw", ts)
			return value{raw: raw}
		}
		formatted := parsed.Format("2006-01-02 15:04:05")
		if dst {
			formatted += " DST"
		}
		return value{raw: raw, timestamp: formatted}
	}
	if m := patternSolo.FindStringSubmatch(fullValue); m != nil {
		return value{raw: m[1]}
	}
	return value{raw: fullValue}
}

// RawRecord is one blank-line-delimited record's parsed key/value map,
// tagged with whether every line in it matched the expected grammar.
type RawRecord struct {
	Values  map[string]value
	IsClean bool
}

func newRawRecord(lines []string) *RawRecord {
	rec := &RawRecord{Values: make(map[string]value), IsClean: true}

	for _, line := range lines {
		if strings.HasPrefix(line, "!") {
			break
		}

		m := patternItem.FindStringSubmatch(line)
		if m == nil {
			slog.Warn("meterproto: line did not match item pattern", "line", line)
			rec.IsClean = false
			continue
		}

		key, fullValue := m[1], m[2]
		if _, dup := rec.Values[key]; dup {
			slog.Warn("meterproto: overriding duplicate key", "key", key)
			rec.IsClean = false
		}
		rec.Values[key] = parseValue(fullValue)
	}

	return rec
}

func parsePower(v value, ok bool) float64 {
	if !ok {
		return math.NaN()
	}
	m := patternPower.FindStringSubmatch(v.raw)
	if m == nil {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return math.NaN()
	}
	return f * 1000
}

func parseGas(v value, ok bool) float64 {
	if !ok {
		return math.NaN()
	}
	m := patternGas.FindStringSubmatch(v.raw)
	if m == nil {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// timestampSeconds converts a formatted "2006-01-02 15:04:05[ DST]"
// string back to a unix timestamp, returning false if unparsable.
func timestampSeconds(formatted string) (int64, bool) {
	if formatted == "" {
		return 0, false
	}
	base := strings.TrimSuffix(formatted, " DST")
	t, err := time.Parse("2006-01-02 15:04:05", base)
	if err != nil {
		return 0, false
	}
	return t.Unix(), true
}

func ptrIf(ts int64, ok bool) *int64 {
	if !ok {
		return nil
	}
	v := ts
	return &v
}
