// Package series implements the in-memory windowed bucket arrays (C2)
// and their named bundles (C3) that the Tracker maintains and that are
// handed to live subscribers as bootstrap snapshots and deltas.
package series

import (
	"math"
	"sort"
	"strconv"
)

// Float is float64 with a NaN-aware JSON encoding: NaN marshals to
// `null` and `null` unmarshals back to NaN. Grounded on the
// NaN/null Float convention used for time-series values across the
// example pack (e.g. ClusterCockpit's schema.Float); this variant uses
// full round-trip precision instead of a fixed decimal count, since the
// wire protocol needs exact value-for-value NaN round-tripping.
type Float float64

// NaN is the canonical "missing value" marker.
var NaN = Float(math.NaN())

// IsNaN reports whether f is NaN.
func (f Float) IsNaN() bool {
	return math.IsNaN(float64(f))
}

func (f Float) MarshalJSON() ([]byte, error) {
	if f.IsNaN() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(float64(f), 'g', -1, 64)), nil
}

func (f *Float) UnmarshalJSON(input []byte) error {
	if string(input) == "null" {
		*f = NaN
		return nil
	}
	v, err := strconv.ParseFloat(string(input), 64)
	if err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// ColumnSpec names one value column of a Kind and the SQL expression
// the Store evaluates server-side to produce it.
type ColumnSpec struct {
	Name string
	Expr string
}

// Kind describes a logical metric family: its source table, the
// columns to read/aggregate from it, and a human unit label.
type Kind struct {
	Name      string
	Table     string
	Columns   []ColumnSpec
	UnitLabel string
}

// NumColumns returns C, the number of value columns for this kind.
func (k Kind) NumColumns() int {
	return len(k.Columns)
}

// Buckets pairs a retention window with an optional aggregation bucket
// size, both in seconds. BucketSize == nil means "one row per raw
// sample, no aggregation".
type Buckets struct {
	WindowSize int64
	BucketSize *int64
}

// BucketBounds computes the half-open range [oldest, newest) of all
// buckets that are "finished" assuming ts is the latest observed
// sample's timestamp. See spec §3 for the formula.
func (b Buckets) BucketBounds(ts int64) (oldest, newest int64) {
	if b.BucketSize == nil {
		return ts - b.WindowSize, ts + 1
	}
	bs := *b.BucketSize
	newest = (ts + 1) / bs * bs
	oldest = newest - b.WindowSize
	return oldest, newest
}

// Row is one (timestamp, values...) tuple as read from the Store.
type Row struct {
	Timestamp int64
	Values    []Float
}

// Series is a window of buckets for a single Kind: parallel
// Timestamps/Values arrays, Values having Kind.NumColumns() rows.
type Series struct {
	Kind    Kind
	Buckets Buckets

	Timestamps []int64
	Values     [][]Float // Values[col][i]
}

// Empty returns a Series with no rows for the given kind/buckets.
func Empty(kind Kind, buckets Buckets) *Series {
	return &Series{
		Kind:       kind,
		Buckets:    buckets,
		Timestamps: nil,
		Values:     make([][]Float, kind.NumColumns()),
	}
}

// Clone returns a deep copy with independent backing arrays.
func (s *Series) Clone() *Series {
	out := &Series{
		Kind:       s.Kind,
		Buckets:    s.Buckets,
		Timestamps: append([]int64(nil), s.Timestamps...),
		Values:     make([][]Float, len(s.Values)),
	}
	for i, col := range s.Values {
		out.Values[i] = append([]Float(nil), col...)
	}
	return out
}

// Extend appends rows — assumed already ordered by timestamp and
// disjoint from the existing range — and then drops everything that
// fell out of the rolling window (drop-old).
func (s *Series) Extend(rows []Row) {
	for _, row := range rows {
		s.Timestamps = append(s.Timestamps, row.Timestamp)
		for c := range s.Values {
			var v Float
			if c < len(row.Values) {
				v = row.Values[c]
			} else {
				v = NaN
			}
			s.Values[c] = append(s.Values[c], v)
		}
	}
	s.dropOld()
}

// dropOld removes every prefix row older than the newest timestamp
// minus the window size. A no-op when WindowSize caps an unbounded
// window is not special-cased: a nil BucketSize series still has a
// finite WindowSize per spec §3, so drop-old always applies.
func (s *Series) dropOld() {
	if len(s.Timestamps) == 0 {
		return
	}
	newest := s.Timestamps[len(s.Timestamps)-1]
	s.DropBefore(newest - s.Buckets.WindowSize)
}

// DropBefore deletes every row with Timestamp < oldest.
func (s *Series) DropBefore(oldest int64) {
	kept := sort.Search(len(s.Timestamps), func(i int) bool {
		return s.Timestamps[i] >= oldest
	})
	if kept == 0 {
		return
	}
	s.Timestamps = append(s.Timestamps[:0], s.Timestamps[kept:]...)
	for c := range s.Values {
		s.Values[c] = append(s.Values[c][:0], s.Values[c][kept:]...)
	}
}

// Encoded is the wire/JSON form of a Series (spec §6.2).
type Encoded struct {
	WindowSize int64     `json:"window_size"`
	BucketSize *int64    `json:"bucket_size"`
	Kind       string    `json:"kind"`
	UnitLabel  string    `json:"unit_label"`
	Timestamps []int64   `json:"timestamps"`
	Values     [][]Float `json:"values"`
}

// Encode converts s to its wire form. NaN values serialize as JSON null
// via Float.MarshalJSON.
func (s *Series) Encode() Encoded {
	values := make([][]Float, len(s.Values))
	for i, col := range s.Values {
		values[i] = append([]Float(nil), col...)
	}
	return Encoded{
		WindowSize: s.Buckets.WindowSize,
		BucketSize: s.Buckets.BucketSize,
		Kind:       s.Kind.Name,
		UnitLabel:  s.Kind.UnitLabel,
		Timestamps: append([]int64(nil), s.Timestamps...),
		Values:     values,
	}
}

// Decode rebuilds a Series from its wire form, given the Kind (the
// encoded form only carries the kind's name, not its table/columns).
func Decode(kind Kind, enc Encoded) *Series {
	bucketSize := enc.BucketSize
	s := Empty(kind, Buckets{WindowSize: enc.WindowSize, BucketSize: bucketSize})
	s.Timestamps = append([]int64(nil), enc.Timestamps...)
	for c := range s.Values {
		if c < len(enc.Values) {
			s.Values[c] = append([]Float(nil), enc.Values[c]...)
		}
	}
	return s
}
