package meterproto

import (
	"math"
	"testing"
)

func TestParserPushLineProducesRecordOnBlankLine(t *testing.T) {
	p := NewParser()

	// first blank line only synchronizes, does not emit
	if rec, ok := p.PushLine(""); ok || rec != nil {
		t.Fatalf("expected no record on initial sync line, got %v", rec)
	}

	p.PushLine("0-0:1.0.0(231001120000S)")
	p.PushLine("1-0:21.7.0(01.234*kW)")

	rec, ok := p.PushLine("")
	if !ok {
		t.Fatal("expected a record after blank line")
	}
	if !rec.IsClean {
		t.Fatal("expected record to be clean")
	}
	if len(rec.Values) != 2 {
		t.Fatalf("expected 2 values, got %d", len(rec.Values))
	}
}

func TestParserMarksUnrecognizedLineUnclean(t *testing.T) {
	p := NewParser()
	p.PushLine("")
	p.PushLine("this is not a valid item line")

	rec, ok := p.PushLine("")
	if !ok {
		t.Fatal("expected a record")
	}
	if rec.IsClean {
		t.Fatal("expected record to be unclean")
	}
}

func TestParserStopsAtBangLine(t *testing.T) {
	p := NewParser()
	p.PushLine("")
	p.PushLine("1-0:21.7.0(01.000*kW)")
	p.PushLine("!crc1234")
	p.PushLine("1-0:41.7.0(02.000*kW)")

	rec, ok := p.PushLine("")
	if !ok {
		t.Fatal("expected a record")
	}
	if len(rec.Values) != 1 {
		t.Fatalf("expected only the line before '!' to be parsed, got %d values", len(rec.Values))
	}
}

func TestToMeterSampleParsesPowerAndTimestamp(t *testing.T) {
	p := NewParser()
	p.PushLine("")
	p.PushLine("0-0:1.0.0(231001120000S)")
	p.PushLine("1-0:21.7.0(01.234*kW)")
	p.PushLine("1-0:41.7.0(00.000*kW)")
	p.PushLine("1-0:61.7.0(00.000*kW)")
	rec, ok := p.PushLine("")
	if !ok {
		t.Fatal("expected a record")
	}

	msg := rec.ToMeterSample()
	if msg.Timestamp == nil {
		t.Fatal("expected a parsed message timestamp")
	}
	if math.Abs(msg.InstantPower1-1234) > 0.001 {
		t.Fatalf("instant_power_1 = %v, want 1234", msg.InstantPower1)
	}
}

func TestToMeterSampleGasTimestampIndependentOfMeterTimestamp(t *testing.T) {
	p := NewParser()
	p.PushLine("")
	p.PushLine("0-0:1.0.0(231001120000S)")
	p.PushLine("0-1:24.2.3(231001115000S)(01.234*m3)")
	rec, _ := p.PushLine("")

	msg := rec.ToMeterSample()
	if msg.GasTimestamp == nil {
		t.Fatal("expected a gas timestamp")
	}
	if msg.Timestamp == nil || *msg.Timestamp == *msg.GasTimestamp {
		t.Fatal("gas and meter timestamps should be parsed independently")
	}
}

func TestParsePowerMissingYieldsNaN(t *testing.T) {
	got := parsePower(value{}, false)
	if !math.IsNaN(got) {
		t.Fatalf("expected NaN for absent value, got %v", got)
	}
}
