package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/somnia/internal/errors"
	"github.com/xtxerr/somnia/internal/model"
)

// ColdReader serves range scans over archived Parquet files using an
// in-memory DuckDB instance. Results come back in the same shape and order
// as a hot-store range scan, so the query layer can concatenate the two.
type ColdReader struct {
	db  *sql.DB
	dir string
}

// NewColdReader opens a DuckDB instance over the archive directory.
func NewColdReader(dir string) (*ColdReader, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &ColdReader{db: db, dir: dir}, nil
}

// ScanRange returns every archived reading for the device in [fromMin,
// toMin), ordered by day then minute. Missing archive files mean no cold
// data, not an error.
func (c *ColdReader) ScanRange(ctx context.Context, deviceID string, fromMin, toMin int64) ([]model.Reading, error) {
	if toMin <= fromMin {
		return nil, errors.ErrInvalidWindow
	}
	if !c.hasFiles() {
		return nil, nil
	}

	pattern := filepath.Join(c.dir, "readings-*.parquet")

	const query = `
		SELECT device_id, day, minute_of_day,
		       temp_c, humidity_pct,
		       pressure_hpa, has_pressure,
		       iaq, has_iaq,
		       noise_db, has_noise
		FROM read_parquet($1)
		WHERE device_id = $2
		  AND epoch_min >= $3
		  AND epoch_min < $4
		ORDER BY day, minute_of_day
	`

	rows, err := c.db.QueryContext(ctx, query, pattern, deviceID, fromMin, toMin)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrStoreUnavailable, "cold scan: %v", err)
	}
	defer rows.Close()

	var out []model.Reading
	for rows.Next() {
		var r model.Reading
		var pressure, iaq, noise float64
		var hasPressure, hasIAQ, hasNoise bool

		err := rows.Scan(
			&r.DeviceID, &r.Day, &r.MinuteOfDay,
			&r.TempC, &r.HumidityPct,
			&pressure, &hasPressure,
			&iaq, &hasIAQ,
			&noise, &hasNoise,
		)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrStoreUnavailable, "cold scan row: %v", err)
		}

		if hasPressure {
			r.PressureHPa = &pressure
		}
		if hasIAQ {
			r.IAQ = &iaq
		}
		if hasNoise {
			r.NoiseDB = &noise
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountRange returns the number of archived readings for the device in
// [fromMin, toMin).
func (c *ColdReader) CountRange(ctx context.Context, deviceID string, fromMin, toMin int64) (int, error) {
	if toMin <= fromMin {
		return 0, errors.ErrInvalidWindow
	}
	if !c.hasFiles() {
		return 0, nil
	}

	pattern := filepath.Join(c.dir, "readings-*.parquet")

	const query = `
		SELECT COUNT(*)
		FROM read_parquet($1)
		WHERE device_id = $2
		  AND epoch_min >= $3
		  AND epoch_min < $4
	`

	var n int
	err := c.db.QueryRowContext(ctx, query, pattern, deviceID, fromMin, toMin).Scan(&n)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrStoreUnavailable, "cold count: %v", err)
	}
	return n, nil
}

// hasFiles reports whether any archive files exist. read_parquet errors on
// an empty glob, so an empty archive short-circuits to no data.
func (c *ColdReader) hasFiles() bool {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".parquet" {
			return true
		}
	}
	return false
}

// Close closes the DuckDB instance.
func (c *ColdReader) Close() error {
	return c.db.Close()
}
