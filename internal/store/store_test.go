package store

import (
	"testing"

	"github.com/KarelPeeters/DigitalMeter/internal/sample"
	"github.com/KarelPeeters/DigitalMeter/internal/series"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func ts(v int64) *int64 { return &v }

func TestInsertIdempotentRowCount(t *testing.T) {
	st := openTestStore(t)

	msg := sample.MeterSample{
		Timestamp: ts(1000), TimestampStr: "ts",
		InstantPower1: 100, InstantPower2: 0, InstantPower3: 0,
	}

	if _, err := st.Insert(msg); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := st.Insert(msg); err != nil {
		t.Fatalf("second insert: %v", err)
	}

	rows, err := st.Fetch(series.KindPower, nil, nil, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected idempotent insert to leave exactly 1 row, got %d", len(rows))
	}
}

func TestInsertReturnsTouchedTables(t *testing.T) {
	st := openTestStore(t)

	msg := sample.MeterSample{
		Timestamp:          ts(1000),
		PeakPowerTimestamp: ts(999),
		GasTimestamp:       ts(998),
	}

	touched, err := st.Insert(msg)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	for _, table := range []string{sample.TableMeterSamples, sample.TableMeterPeaks, sample.TableGasSamples} {
		if !touched[table] {
			t.Errorf("expected table %q to be touched", table)
		}
	}
}

func TestFetchBucketedAveragesAndOrders(t *testing.T) {
	st := openTestStore(t)

	for i := int64(0); i < 120; i++ {
		msg := sample.MeterSample{Timestamp: ts(i), InstantPower1: float64(i)}
		if _, err := st.Insert(msg); err != nil {
			t.Fatalf("insert at %d: %v", i, err)
		}
	}

	bucketSize := int64(60)
	oldest, newest := int64(0), int64(120)
	rows, err := st.Fetch(series.KindPower, &bucketSize, &oldest, &newest)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected exactly 2 buckets, got %d", len(rows))
	}
	if rows[0].Timestamp != 0 || rows[1].Timestamp != 60 {
		t.Fatalf("unexpected bucket timestamps: %v, %v", rows[0].Timestamp, rows[1].Timestamp)
	}
	if rows[0].Values[0] != 29.5 {
		t.Fatalf("expected average of 0..59 = 29.5, got %v", rows[0].Values[0])
	}
}

func TestFetchCursorStreamsBoundedBatches(t *testing.T) {
	st := openTestStore(t)

	const total = 25
	for i := int64(0); i < total; i++ {
		msg := sample.MeterSample{Timestamp: ts(i), InstantPower1: float64(i)}
		if _, err := st.Insert(msg); err != nil {
			t.Fatalf("insert at %d: %v", i, err)
		}
	}

	cursor, err := st.FetchCursor(series.KindPower, nil, nil, nil)
	if err != nil {
		t.Fatalf("FetchCursor: %v", err)
	}
	defer cursor.Close()

	const batchSize = 10
	var got []series.Row
	for {
		batch, err := cursor.Next(batchSize)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if len(batch) > batchSize {
			t.Fatalf("Next(%d) returned %d rows, expected at most %d", batchSize, len(batch), batchSize)
		}
		got = append(got, batch...)
		if len(batch) < batchSize {
			break
		}
	}

	if len(got) != total {
		t.Fatalf("expected %d rows across all batches, got %d", total, len(got))
	}
	for i, row := range got {
		if row.Timestamp != int64(i) {
			t.Fatalf("row %d: timestamp = %d, want %d", i, row.Timestamp, i)
		}
	}
}
