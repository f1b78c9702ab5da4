package tracker

import (
	"testing"

	"github.com/KarelPeeters/DigitalMeter/internal/series"
)

// fakeFetcher is an in-memory stand-in for store.Fetcher, holding rows
// per table so Tracker can be tested without a real database.
type fakeFetcher struct {
	rows map[string][]series.Row // keyed by table
}

func (f *fakeFetcher) Fetch(kind series.Kind, bucketSize *int64, oldest, newest *int64) ([]series.Row, error) {
	var out []series.Row
	for _, row := range f.rows[kind.Table] {
		if oldest != nil && row.Timestamp < *oldest {
			continue
		}
		if newest != nil && row.Timestamp >= *newest {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func minuteOnlyConfig() MultiSeries {
	one := int64(1)
	return MultiSeries{
		"minute": series.Empty(series.KindPower, series.Buckets{WindowSize: 60, BucketSize: &one}),
	}
}

func TestUpdateBootstrapsOnFirstCall(t *testing.T) {
	f := &fakeFetcher{rows: map[string][]series.Row{
		series.KindPower.Table: {
			{Timestamp: 10, Values: []series.Float{1, 0, 0}},
		},
	}}

	tr := New(minuteOnlyConfig())
	delta, err := tr.Update(f, map[string]bool{series.KindPower.Table: true}, 10)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	s, ok := delta["minute"]
	if !ok {
		t.Fatal("expected a minute delta on bootstrap")
	}
	if len(s.Timestamps) != 1 || s.Timestamps[0] != 10 {
		t.Fatalf("unexpected delta timestamps: %v", s.Timestamps)
	}
}

func TestUpdateIsIdempotentForUnchangedBucket(t *testing.T) {
	f := &fakeFetcher{rows: map[string][]series.Row{
		series.KindPower.Table: {
			{Timestamp: 10, Values: []series.Float{1, 0, 0}},
		},
	}}

	tr := New(minuteOnlyConfig())
	touched := map[string]bool{series.KindPower.Table: true}

	if _, err := tr.Update(f, touched, 10); err != nil {
		t.Fatalf("first Update: %v", err)
	}

	// Re-ingesting the same timestamp (no new bucket closed) must
	// yield an empty delta.
	delta, err := tr.Update(f, touched, 10)
	if err != nil {
		t.Fatalf("second Update: %v", err)
	}
	if len(delta) != 0 {
		t.Fatalf("expected empty delta on idempotent replay, got %v", delta)
	}
}

func TestUpdateSkipsUntouchedTables(t *testing.T) {
	tr := New(minuteOnlyConfig())
	f := &fakeFetcher{rows: map[string][]series.Row{}}

	delta, err := tr.Update(f, map[string]bool{"some_other_table": true}, 10)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(delta) != 0 {
		t.Fatalf("expected no delta for untouched table, got %v", delta)
	}
}

func TestUpdateGasIndependentOfPower(t *testing.T) {
	one := int64(1)
	config := MultiSeries{
		"minute": series.Empty(series.KindPower, series.Buckets{WindowSize: 60, BucketSize: &one}),
		"gas":    series.Empty(series.KindGas, series.Buckets{WindowSize: 604800, BucketSize: nil}),
	}
	f := &fakeFetcher{rows: map[string][]series.Row{
		series.KindPower.Table: {{Timestamp: 1000, Values: []series.Float{1, 0, 0}}},
		series.KindGas.Table:   {{Timestamp: 900, Values: []series.Float{5}}},
	}}

	tr := New(config)
	delta, err := tr.Update(f, map[string]bool{
		series.KindPower.Table: true,
		series.KindGas.Table:   true,
	}, 1000)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, ok := delta["minute"]; !ok {
		t.Error("expected minute delta")
	}
	if _, ok := delta["gas"]; !ok {
		t.Error("expected gas delta")
	}
}

func TestSnapshotIsIndependentClone(t *testing.T) {
	tr := New(minuteOnlyConfig())
	snap := tr.Snapshot()

	snap["minute"].Timestamps = append(snap["minute"].Timestamps, 99)

	if len(tr.multiSeries["minute"].Timestamps) != 0 {
		t.Fatal("mutating a snapshot must not affect the canonical series")
	}
}
