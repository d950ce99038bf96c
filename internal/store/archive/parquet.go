package archive

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/somnia/internal/model"
)

// ReadingRow is a reading in Parquet format. One file holds exactly one day
// partition; epoch_min is materialized so cold scans can filter on a single
// column without re-deriving timestamps.
type ReadingRow struct {
	DeviceID    string  `parquet:"device_id,zstd"`
	Day         string  `parquet:"day,zstd"`
	MinuteOfDay int32   `parquet:"minute_of_day"`
	EpochMin    int64   `parquet:"epoch_min"`
	TempC       float64 `parquet:"temp_c"`
	HumidityPct float64 `parquet:"humidity_pct"`
	PressureHPa float64 `parquet:"pressure_hpa,optional"`
	IAQ         float64 `parquet:"iaq,optional"`
	NoiseDB     float64 `parquet:"noise_db,optional"`
	HasPressure bool    `parquet:"has_pressure"`
	HasIAQ      bool    `parquet:"has_iaq"`
	HasNoise    bool    `parquet:"has_noise"`
}

// ReadingToRow converts a Reading to its Parquet representation.
func ReadingToRow(r *model.Reading) ReadingRow {
	row := ReadingRow{
		DeviceID:    r.DeviceID,
		Day:         r.Day,
		MinuteOfDay: int32(r.MinuteOfDay),
		EpochMin:    r.EpochMinute(),
		TempC:       r.TempC,
		HumidityPct: r.HumidityPct,
	}
	if r.PressureHPa != nil {
		row.PressureHPa = *r.PressureHPa
		row.HasPressure = true
	}
	if r.IAQ != nil {
		row.IAQ = *r.IAQ
		row.HasIAQ = true
	}
	if r.NoiseDB != nil {
		row.NoiseDB = *r.NoiseDB
		row.HasNoise = true
	}
	return row
}

// RowToReading converts a Parquet row back to a Reading.
func RowToReading(row *ReadingRow) model.Reading {
	r := model.Reading{
		DeviceID:    row.DeviceID,
		Day:         row.Day,
		MinuteOfDay: int(row.MinuteOfDay),
		TempC:       row.TempC,
		HumidityPct: row.HumidityPct,
	}
	if row.HasPressure {
		v := row.PressureHPa
		r.PressureHPa = &v
	}
	if row.HasIAQ {
		v := row.IAQ
		r.IAQ = &v
	}
	if row.HasNoise {
		v := row.NoiseDB
		r.NoiseDB = &v
	}
	return r
}

// DayFileName returns the archive file name for a day partition.
func DayFileName(day string) string {
	return "readings-" + day + ".parquet"
}

// WriteDayFile writes one day partition to path. The write goes through a
// temp file and a rename so a crash never leaves a half-written archive
// that a cold scan would read.
func WriteDayFile(path string, readings []model.Reading) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("create archive directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}

	writer := parquet.NewGenericWriter[ReadingRow](f,
		parquet.Compression(&parquet.Zstd),
	)

	rows := make([]ReadingRow, len(readings))
	for i := range readings {
		rows[i] = ReadingToRow(&readings[i])
	}

	n, err := writer.Write(rows)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("write rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("close writer: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("close file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("rename: %w", err)
	}
	return int64(n), nil
}

// ReadDayFile reads every reading from one archive file.
func ReadDayFile(path string) ([]model.Reading, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[ReadingRow](f)
	defer reader.Close()

	rows := make([]ReadingRow, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	readings := make([]model.Reading, n)
	for i := 0; i < n; i++ {
		readings[i] = RowToReading(&rows[i])
	}
	return readings, nil
}
