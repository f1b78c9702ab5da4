// Package store implements the Persistent Store (C1): schema creation,
// idempotent sample insertion, and bucketed range queries, backed by
// GORM over a pluggable SQL driver. Grounded on the original
// implementation's Database class (data.py) for schema/SQL shape, and
// on the teacher's internal/storage.Repository (RandomCodeSpace's
// driver-string dispatch in NewRepository) for the pluggable-driver
// wiring pattern.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/glebarez/sqlite"

	"github.com/KarelPeeters/DigitalMeter/internal/sample"
	"github.com/KarelPeeters/DigitalMeter/internal/series"
)

// Sentinel errors, per spec §4.1/§9.
var (
	ErrStoreInit   = errors.New("store: initialization failed")
	ErrStoreIO     = errors.New("store: I/O error")
	ErrStoreSchema = errors.New("store: schema error")
)

// Fetcher is the read side of Store the Tracker depends on, kept as a
// narrow interface so the tracker package can be tested against a
// fake without pulling in GORM.
type Fetcher interface {
	Fetch(kind series.Kind, bucketSize *int64, oldest, newest *int64) ([]series.Row, error)
}

// Store is the GORM-backed persistent store. A Store is safe for
// concurrent use: GORM serializes access to its *sql.DB connection
// pool, and SQLite is opened in WAL mode so readers never block the
// single writer.
type Store struct {
	db     *gorm.DB
	driver string
}

// meterSampleRow, meterPeakRow, gasSampleRow and waterSampleRow mirror
// the four tables from spec §3. Column names match the Kind column
// expressions in internal/series/kinds.go exactly, since those
// expressions are embedded verbatim into raw SQL against these tables.
type meterSampleRow struct {
	Timestamp    int64  `gorm:"primaryKey;column:timestamp"`
	TimestampStr string `gorm:"column:timestamp_str"`
	P1           float64
	P2           float64
	P3           float64
	V1           float64
	V2           float64
	V3           float64
}

func (meterSampleRow) TableName() string { return sample.TableMeterSamples }

type meterPeakRow struct {
	Timestamp    int64  `gorm:"primaryKey;column:timestamp"`
	TimestampStr string `gorm:"column:timestamp_str"`
	PeakPower    float64
}

func (meterPeakRow) TableName() string { return sample.TableMeterPeaks }

type gasSampleRow struct {
	Timestamp    int64  `gorm:"primaryKey;column:timestamp"`
	TimestampStr string `gorm:"column:timestamp_str"`
	Volume       float64
}

func (gasSampleRow) TableName() string { return sample.TableGasSamples }

type waterSampleRow struct {
	Timestamp  int64 `gorm:"primaryKey;column:timestamp"`
	VoltageInt uint16
}

func (waterSampleRow) TableName() string { return sample.TableWaterSamples }

// Open opens or creates the database at dsn using driver, switches
// SQLite connections to WAL journal mode, and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	case "sqlserver", "mssql":
		dialector = sqlserver.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", ErrStoreInit, driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreInit, err)
	}

	if isSQLite(driver) {
		if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
			return nil, fmt.Errorf("%w: switching to WAL: %v", ErrStoreSchema, err)
		}
	}

	if err := db.AutoMigrate(&meterSampleRow{}, &meterPeakRow{}, &gasSampleRow{}, &waterSampleRow{}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreSchema, err)
	}

	return &Store{db: db, driver: driver}, nil
}

func isSQLite(driver string) bool {
	d := strings.ToLower(driver)
	return d == "" || d == "sqlite"
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreIO, err)
	}
	return sqlDB.Close()
}

// onConflictUpsert returns the OnConflict clause implementing
// INSERT OR REPLACE semantics (overwrite every column on a primary key
// collision) across all supported drivers.
func onConflictUpsert() clause.Expression {
	return clause.OnConflict{Columns: []clause.Column{{Name: "timestamp"}}, UpdateAll: true}
}

// Insert writes s's rows, one logical write per table it actually
// touches, and returns that set of tables. Each write is committed
// individually; GORM's Create already runs inside its own transaction.
func (s *Store) Insert(smp sample.Sample) (map[string]bool, error) {
	touched := make(map[string]bool)

	switch v := smp.(type) {
	case sample.MeterSample:
		if v.Timestamp != nil {
			row := meterSampleRow{
				Timestamp: *v.Timestamp, TimestampStr: v.TimestampStr,
				P1: v.InstantPower1, P2: v.InstantPower2, P3: v.InstantPower3,
				V1: v.Voltage1, V2: v.Voltage2, V3: v.Voltage3,
			}
			if err := s.db.Clauses(onConflictUpsert()).Create(&row).Error; err != nil {
				return nil, fmt.Errorf("%w: inserting meter sample: %v", ErrStoreIO, err)
			}
			touched[sample.TableMeterSamples] = true
		}
		if v.PeakPowerTimestamp != nil {
			row := meterPeakRow{
				Timestamp: *v.PeakPowerTimestamp, TimestampStr: v.PeakPowerTimeStr,
				PeakPower: v.PeakPower,
			}
			if err := s.db.Clauses(onConflictUpsert()).Create(&row).Error; err != nil {
				return nil, fmt.Errorf("%w: inserting meter peak: %v", ErrStoreIO, err)
			}
			touched[sample.TableMeterPeaks] = true
		}
		if v.GasTimestamp != nil {
			row := gasSampleRow{
				Timestamp: *v.GasTimestamp, TimestampStr: v.GasTimeStr,
				Volume: v.GasVolume,
			}
			if err := s.db.Clauses(onConflictUpsert()).Create(&row).Error; err != nil {
				return nil, fmt.Errorf("%w: inserting gas sample: %v", ErrStoreIO, err)
			}
			touched[sample.TableGasSamples] = true
		}

	case sample.AdcSample:
		row := waterSampleRow{Timestamp: v.Timestamp, VoltageInt: v.VoltageInt}
		if err := s.db.Clauses(onConflictUpsert()).Create(&row).Error; err != nil {
			return nil, fmt.Errorf("%w: inserting water sample: %v", ErrStoreIO, err)
		}
		touched[sample.TableWaterSamples] = true

	default:
		return nil, fmt.Errorf("%w: unknown sample type %T", ErrStoreIO, smp)
	}

	return touched, nil
}

// fetchDrainBatch bounds how many rows Fetch pulls from a Cursor per
// Next call when draining it fully. It's an implementation detail of
// Fetch, not a wire-visible batch size (that's download.csvBatchSize).
const fetchDrainBatch = 4096

func buildFetchQuery(kind series.Kind, bucketSize, oldest, newest *int64) (string, []interface{}) {
	var whereClause string
	var args []interface{}
	switch {
	case oldest != nil && newest != nil:
		whereClause = "WHERE timestamp >= ? AND timestamp < ?"
		args = append(args, *oldest, *newest)
	case oldest != nil:
		whereClause = "WHERE timestamp >= ?"
		args = append(args, *oldest)
	case newest != nil:
		whereClause = "WHERE timestamp < ?"
		args = append(args, *newest)
	}

	colExprs := make([]string, len(kind.Columns))
	for i, c := range kind.Columns {
		colExprs[i] = c.Expr
	}

	if bucketSize == nil {
		return fmt.Sprintf(
			"SELECT timestamp, %s FROM %s %s ORDER BY timestamp",
			strings.Join(colExprs, ", "), kind.Table, whereClause,
		), args
	}

	bucketed := make([]string, len(colExprs))
	for i, e := range colExprs {
		bucketed[i] = fmt.Sprintf("AVG(%s)", e)
	}
	query := fmt.Sprintf(
		"SELECT (timestamp / %d) * %d AS bucket_ts, %s FROM %s %s GROUP BY timestamp / %d ORDER BY bucket_ts",
		*bucketSize, *bucketSize, strings.Join(bucketed, ", "), kind.Table, whereClause, *bucketSize,
	)
	return query, args
}

// Cursor is a lazy, forward-only view over a Fetch's result rows,
// materializing at most one Next batch at a time instead of the whole
// range — the streaming-query counterpart of the source's
// fetchmany(n) cursor (data.py), which the CSV download route relies
// on to avoid loading an unbounded range into memory.
type Cursor struct {
	rows *sql.Rows
	kind series.Kind
}

// Next scans up to n further rows and returns them, or fewer than n
// (possibly zero) once the underlying result set is exhausted.
func (c *Cursor) Next(n int) ([]series.Row, error) {
	scanDest := make([]interface{}, 1+len(c.kind.Columns))
	var ts int64
	scanDest[0] = &ts
	vals := make([]sql.NullFloat64, len(c.kind.Columns))
	for i := range vals {
		scanDest[i+1] = &vals[i]
	}

	var out []series.Row
	for len(out) < n && c.rows.Next() {
		if err := c.rows.Scan(scanDest...); err != nil {
			return nil, fmt.Errorf("%w: scanning %s row: %v", ErrStoreIO, c.kind.Name, err)
		}
		row := series.Row{Timestamp: ts, Values: make([]series.Float, len(vals))}
		for i, v := range vals {
			// SQLite stores a NaN value as NULL; map it back to NaN.
			if v.Valid {
				row.Values[i] = series.Float(v.Float64)
			} else {
				row.Values[i] = series.NaN
			}
		}
		out = append(out, row)
	}
	if err := c.rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating %s rows: %v", ErrStoreIO, c.kind.Name, err)
	}
	return out, nil
}

// Close releases the underlying driver rows. Callers must always
// Close a Cursor, whether or not it was read to exhaustion.
func (c *Cursor) Close() error {
	return c.rows.Close()
}

// FetchCursor implements the bucketed range query from spec §4.1 as a
// lazy Cursor: half-open range [oldest, newest), raw-per-row when
// bucketSize is nil, else AVG()'d and grouped by bucket, ordered by
// timestamp either way. Rows are scanned only as the caller calls
// Next, so a caller streaming an unbounded range never materializes
// more than one batch at once.
func (s *Store) FetchCursor(kind series.Kind, bucketSize, oldest, newest *int64) (*Cursor, error) {
	query, args := buildFetchQuery(kind, bucketSize, oldest, newest)

	rows, err := s.db.Raw(query, args...).Rows()
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrStoreIO, kind.Name, err)
	}
	return &Cursor{rows: rows, kind: kind}, nil
}

// Fetch is the eager counterpart of FetchCursor, draining it fully.
// The Tracker uses this: its ranges are bounded by a single bucketing
// window, never the unbounded ranges a bulk download can request.
func (s *Store) Fetch(kind series.Kind, bucketSize *int64, oldest, newest *int64) ([]series.Row, error) {
	cursor, err := s.FetchCursor(kind, bucketSize, oldest, newest)
	if err != nil {
		return nil, err
	}
	defer cursor.Close()

	var out []series.Row
	for {
		batch, err := cursor.Next(fetchDrainBatch)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		if len(batch) < fetchDrainBatch {
			return out, nil
		}
	}
}

var _ Fetcher = (*Store)(nil)
