// Package tracker implements the Tracker (C4): the canonical in-memory
// MultiSeries plus a per-table "last ingested" cursor used to decide
// which buckets are newly closed on each update. Grounded directly on
// the original implementation's Tracker/MultiSeries dataclasses in
// data.py, generalized from the fixed four power-only series to any
// Store-backed kind.
package tracker

import (
	"github.com/KarelPeeters/DigitalMeter/internal/series"
	"github.com/KarelPeeters/DigitalMeter/internal/store"
)

// MultiSeries is a named mapping from resolution label to Series.
type MultiSeries map[string]*series.Series

// Clone deep-copies every Series in the map.
func (m MultiSeries) Clone() MultiSeries {
	out := make(MultiSeries, len(m))
	for name, s := range m {
		out[name] = s.Clone()
	}
	return out
}

// Encode converts every Series to its wire form.
func (m MultiSeries) Encode() map[string]series.Encoded {
	out := make(map[string]series.Encoded, len(m))
	for name, s := range m {
		out[name] = s.Encode()
	}
	return out
}

// DefaultConfig is the default per-metric resolution table from spec §3:
// four power resolutions plus one gas and one water series, each
// sharing the table their Kind reads from.
func DefaultConfig() MultiSeries {
	hour := int64(10)
	day := int64(60)
	week := int64(900)
	minute := int64(1)

	m := MultiSeries{
		"minute": series.Empty(series.KindPower, series.Buckets{WindowSize: 60, BucketSize: &minute}),
		"hour":   series.Empty(series.KindPower, series.Buckets{WindowSize: 3600, BucketSize: &hour}),
		"day":    series.Empty(series.KindPower, series.Buckets{WindowSize: 86400, BucketSize: &day}),
		"week":   series.Empty(series.KindPower, series.Buckets{WindowSize: 604800, BucketSize: &week}),
		"gas":    series.Empty(series.KindGas, series.Buckets{WindowSize: 604800, BucketSize: nil}),
		"water":  series.Empty(series.KindWaterHeight, series.Buckets{WindowSize: 300, BucketSize: nil}),
	}
	return m
}

// Tracker owns the canonical MultiSeries and the last-ingested cursor,
// keyed by table name (spec Open Question c: multiple series sharing a
// table share one cursor).
type Tracker struct {
	multiSeries  MultiSeries
	lastIngested map[string]int64
}

// New builds a Tracker over the given MultiSeries configuration.
func New(config MultiSeries) *Tracker {
	return &Tracker{
		multiSeries:  config,
		lastIngested: make(map[string]int64),
	}
}

// Update runs the per-series bucket-advance algorithm from spec §4.3
// against updatedTables (the tables the just-processed sample actually
// touched) and currTs (the timestamp driving bucket bounds for that
// sample), returning the delta MultiSeries containing only newly
// closed buckets.
func (t *Tracker) Update(st store.Fetcher, updatedTables map[string]bool, currTs int64) (MultiSeries, error) {
	delta := MultiSeries{}

	for name, s := range t.multiSeries {
		if !updatedTables[s.Kind.Table] {
			continue
		}

		currOldest, currNewest := s.Buckets.BucketBounds(currTs)

		var fetchOldest, fetchNewest int64
		prev, hasPrev := t.lastIngested[s.Kind.Table]
		if !hasPrev {
			fetchOldest, fetchNewest = currOldest, currNewest
		} else {
			_, prevNewest := s.Buckets.BucketBounds(prev)
			if currNewest == prevNewest {
				continue
			}
			fetchOldest, fetchNewest = prevNewest, currNewest
		}

		rows, err := st.Fetch(s.Kind, s.Buckets.BucketSize, &fetchOldest, &fetchNewest)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			continue
		}

		s.Extend(rows)

		d := series.Empty(s.Kind, s.Buckets)
		d.Extend(rows)
		delta[name] = d
	}

	for table := range updatedTables {
		t.lastIngested[table] = currTs
	}

	return delta, nil
}

// Snapshot returns a deep clone of the current canonical state, for
// bootstrapping a newly subscribed client.
func (t *Tracker) Snapshot() MultiSeries {
	return t.multiSeries.Clone()
}
