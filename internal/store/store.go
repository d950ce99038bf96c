// Package store is the day-partitioned time-series store.
//
// Readings live in SQLite, keyed by (device_id, day, minute_of_day); the
// calendar day is the partition key, so range scans stitch per-day reads
// into one chronologically ordered series. Writes are idempotent upserts:
// replaying a queue message converges to the same row, and a genuine
// conflict resolves last-processed-wins.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/xtxerr/somnia/internal/errors"
	"github.com/xtxerr/somnia/internal/logging"
	"github.com/xtxerr/somnia/internal/model"
)

// Store wraps the SQLite connection with domain-specific methods.
// All methods are safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string

	stats Stats
}

// Stats holds store counters. Safe for concurrent use.
type Stats struct {
	Upserts     atomic.Int64
	RangeScans  atomic.Int64
	RowsScanned atomic.Int64
	Errors      atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Upserts     int64 `json:"upserts"`
	RangeScans  int64 `json:"range_scans"`
	RowsScanned int64 `json:"rows_scanned"`
	Errors      int64 `json:"errors"`
}

// Open opens (or creates) the store at path and initializes the schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &Store{db: db, path: path}

	if err := s.configure(); err != nil {
		s.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if err := s.createSchema(); err != nil {
		s.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logging.Component("store").Info("store opened", "path", path)
	return s, nil
}

// configure sets up database pragmas.
func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-64000", // 64MB cache
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(context.Background(), pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS readings (
			device_id     TEXT    NOT NULL,
			day           TEXT    NOT NULL,
			minute_of_day INTEGER NOT NULL,
			temp_c        REAL    NOT NULL,
			humidity_pct  REAL    NOT NULL,
			pressure_hpa  REAL,
			iaq           REAL,
			noise_db      REAL,
			updated_ms    INTEGER NOT NULL,
			PRIMARY KEY (device_id, day, minute_of_day)
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT    PRIMARY KEY,
			start_min  INTEGER NOT NULL,
			end_min    INTEGER NOT NULL,
			deep_min   INTEGER NOT NULL DEFAULT 0,
			rem_min    INTEGER NOT NULL DEFAULT 0,
			light_min  INTEGER NOT NULL DEFAULT 0,
			awake_min  INTEGER NOT NULL DEFAULT 0,
			efficiency REAL    NOT NULL DEFAULT 0,
			score      INTEGER NOT NULL DEFAULT 0,
			updated_ms INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_interval
			ON sessions (start_min, end_min)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return err
		}
	}
	return nil
}

// Upsert writes one reading. Replaying the same content is a no-op in
// effect; differing content for the same key overwrites the whole row, so
// the last processed message wins regardless of arrival order.
func (s *Store) Upsert(ctx context.Context, r *model.Reading) error {
	const query = `
		INSERT INTO readings (
			device_id, day, minute_of_day,
			temp_c, humidity_pct, pressure_hpa, iaq, noise_db,
			updated_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (device_id, day, minute_of_day) DO UPDATE SET
			temp_c       = excluded.temp_c,
			humidity_pct = excluded.humidity_pct,
			pressure_hpa = excluded.pressure_hpa,
			iaq          = excluded.iaq,
			noise_db     = excluded.noise_db,
			updated_ms   = excluded.updated_ms
	`

	_, err := s.db.ExecContext(ctx, query,
		r.DeviceID, r.Day, r.MinuteOfDay,
		r.TempC, r.HumidityPct,
		nullFloat(r.PressureHPa), nullFloat(r.IAQ), nullFloat(r.NoiseDB),
		time.Now().UnixMilli(),
	)
	if err != nil {
		s.stats.Errors.Add(1)
		return errors.Wrapf(errors.ErrStoreUnavailable, "upsert %s: %v", r.Key(), err)
	}

	s.stats.Upserts.Add(1)
	return nil
}

// Get returns one reading by its natural key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, deviceID, day string, minuteOfDay int) (*model.Reading, error) {
	const query = `
		SELECT device_id, day, minute_of_day,
		       temp_c, humidity_pct, pressure_hpa, iaq, noise_db
		FROM readings
		WHERE device_id = ? AND day = ? AND minute_of_day = ?
	`

	row := s.db.QueryRowContext(ctx, query, deviceID, day, minuteOfDay)
	r, err := scanReading(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "reading %s/%s/%04d", deviceID, day, minuteOfDay)
	}
	if err != nil {
		s.stats.Errors.Add(1)
		return nil, errors.Wrapf(errors.ErrStoreUnavailable, "get reading: %v", err)
	}
	return r, nil
}

// RangeScan returns every reading for the device in [fromMin, toMin),
// chronologically ordered. The scan visits each day partition the window
// touches, in calendar order, so a cross-partition window yields one
// stitched series with no duplication at the boundary.
func (s *Store) RangeScan(ctx context.Context, deviceID string, fromMin, toMin int64) ([]model.Reading, error) {
	if toMin <= fromMin {
		return nil, errors.ErrInvalidWindow
	}

	days, err := model.DaysBetween(
		model.DayFromEpochMinute(fromMin),
		model.DayFromEpochMinute(toMin-1),
	)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidWindow, "not partitionable by calendar day: %v", err)
	}

	var out []model.Reading
	for _, day := range days {
		dayStart, err := model.EpochMinuteOf(day, 0)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrInternal, "partition day %q: %v", day, err)
		}

		// Clamp the window to this partition's minute slots.
		lo, hi := 0, model.MinutesPerDay
		if fromMin > dayStart {
			lo = int(fromMin - dayStart)
		}
		if end := toMin - dayStart; end < int64(hi) {
			hi = int(end)
		}

		partition, err := s.scanDay(ctx, deviceID, day, lo, hi)
		if err != nil {
			return nil, err
		}
		out = append(out, partition...)
	}

	s.stats.RangeScans.Add(1)
	s.stats.RowsScanned.Add(int64(len(out)))
	return out, nil
}

// scanDay reads one day partition, minute slots [lo, hi), ordered by minute.
func (s *Store) scanDay(ctx context.Context, deviceID, day string, lo, hi int) ([]model.Reading, error) {
	const query = `
		SELECT device_id, day, minute_of_day,
		       temp_c, humidity_pct, pressure_hpa, iaq, noise_db
		FROM readings
		WHERE device_id = ? AND day = ? AND minute_of_day >= ? AND minute_of_day < ?
		ORDER BY minute_of_day
	`

	rows, err := s.db.QueryContext(ctx, query, deviceID, day, lo, hi)
	if err != nil {
		s.stats.Errors.Add(1)
		return nil, errors.Wrapf(errors.ErrStoreUnavailable, "scan day %s: %v", day, err)
	}
	defer rows.Close()

	var out []model.Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			s.stats.Errors.Add(1)
			return nil, errors.Wrapf(errors.ErrStoreUnavailable, "scan row: %v", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		s.stats.Errors.Add(1)
		return nil, errors.Wrapf(errors.ErrStoreUnavailable, "scan day %s: %v", day, err)
	}
	return out, nil
}

// CountRange returns the number of readings for the device in [fromMin,
// toMin). Used to bound a query's working set before materializing it.
func (s *Store) CountRange(ctx context.Context, deviceID string, fromMin, toMin int64) (int, error) {
	if toMin <= fromMin {
		return 0, errors.ErrInvalidWindow
	}

	days, err := model.DaysBetween(
		model.DayFromEpochMinute(fromMin),
		model.DayFromEpochMinute(toMin-1),
	)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidWindow, "not partitionable by calendar day: %v", err)
	}

	total := 0
	for _, day := range days {
		dayStart, err := model.EpochMinuteOf(day, 0)
		if err != nil {
			return 0, errors.Wrapf(errors.ErrInternal, "partition day %q: %v", day, err)
		}
		lo, hi := 0, model.MinutesPerDay
		if fromMin > dayStart {
			lo = int(fromMin - dayStart)
		}
		if end := toMin - dayStart; end < int64(hi) {
			hi = int(end)
		}

		const query = `
			SELECT COUNT(*) FROM readings
			WHERE device_id = ? AND day = ? AND minute_of_day >= ? AND minute_of_day < ?
		`
		var n int
		if err := s.db.QueryRowContext(ctx, query, deviceID, day, lo, hi).Scan(&n); err != nil {
			s.stats.Errors.Add(1)
			return 0, errors.Wrapf(errors.ErrStoreUnavailable, "count day %s: %v", day, err)
		}
		total += n
	}
	return total, nil
}

// ListDays returns every day partition present for any device, ascending.
func (s *Store) ListDays(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT day FROM readings ORDER BY day`)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStoreUnavailable, "list days: %v", err)
	}
	defer rows.Close()

	var days []string
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, errors.Wrapf(errors.ErrStoreUnavailable, "scan day: %v", err)
		}
		days = append(days, day)
	}
	return days, rows.Err()
}

// ReadDay returns every reading in one day partition across all devices,
// ordered by device then minute. Used by the archiver to export a partition.
func (s *Store) ReadDay(ctx context.Context, day string) ([]model.Reading, error) {
	const query = `
		SELECT device_id, day, minute_of_day,
		       temp_c, humidity_pct, pressure_hpa, iaq, noise_db
		FROM readings
		WHERE day = ?
		ORDER BY device_id, minute_of_day
	`

	rows, err := s.db.QueryContext(ctx, query, day)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStoreUnavailable, "read day %s: %v", day, err)
	}
	defer rows.Close()

	var out []model.Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrStoreUnavailable, "scan row: %v", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// DeleteDay drops one day partition. Called by the archiver after the
// partition has been durably exported.
func (s *Store) DeleteDay(ctx context.Context, day string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM readings WHERE day = ?`, day)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStoreUnavailable, "delete day %s: %v", day, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() StatsSnapshot {
	return StatsSnapshot{
		Upserts:     s.stats.Upserts.Load(),
		RangeScans:  s.stats.RangeScans.Load(),
		RowsScanned: s.stats.RowsScanned.Load(),
		Errors:      s.stats.Errors.Load(),
	}
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// scanner abstracts sql.Row and sql.Rows for scanReading.
type scanner interface {
	Scan(dest ...any) error
}

func scanReading(row scanner) (*model.Reading, error) {
	var r model.Reading
	var pressure, iaq, noise sql.NullFloat64

	err := row.Scan(
		&r.DeviceID, &r.Day, &r.MinuteOfDay,
		&r.TempC, &r.HumidityPct,
		&pressure, &iaq, &noise,
	)
	if err != nil {
		return nil, err
	}

	r.PressureHPa = floatPtr(pressure)
	r.IAQ = floatPtr(iaq)
	r.NoiseDB = floatPtr(noise)
	return &r, nil
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
