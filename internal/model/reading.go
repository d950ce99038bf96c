package model

import (
	"fmt"
	"math"
	"time"
)

// MinutesPerDay is the number of minute slots in one UTC calendar day.
const MinutesPerDay = 1440

// DayLayout is the calendar day format used throughout the system (UTC).
const DayLayout = "2006-01-02"

// Reading is a single environmental measurement from an edge device.
// Its natural key is (DeviceID, Day, MinuteOfDay); content is immutable but
// replaceable via idempotent upsert.
type Reading struct {
	// Identity
	DeviceID    string // Reporting device (e.g., "bedroom-pi")
	Day         string // UTC calendar date, YYYY-MM-DD
	MinuteOfDay int    // Minute slot within Day, 0..1439

	// Required metrics
	TempC       float64
	HumidityPct float64

	// Optional metrics (nil when the device did not report them)
	PressureHPa *float64
	IAQ         *float64
	NoiseDB     *float64
}

// Key returns the unique series key for this reading.
func (r *Reading) Key() string {
	return fmt.Sprintf("%s/%s/%04d", r.DeviceID, r.Day, r.MinuteOfDay)
}

// EpochMinute returns the reading's timestamp as minutes since the Unix epoch.
func (r *Reading) EpochMinute() int64 {
	t, err := time.Parse(DayLayout, r.Day)
	if err != nil {
		return 0
	}
	return t.Unix()/60 + int64(r.MinuteOfDay)
}

// Time returns the reading's timestamp as a time.Time in UTC.
func (r *Reading) Time() time.Time {
	return time.Unix(r.EpochMinute()*60, 0).UTC()
}

// Value returns the value of the given metric and whether it is present.
func (r *Reading) Value(m Metric) (float64, bool) {
	switch m {
	case MetricTemp:
		return r.TempC, true
	case MetricHumidity:
		return r.HumidityPct, true
	case MetricPressure:
		if r.PressureHPa != nil {
			return *r.PressureHPa, true
		}
	case MetricIAQ:
		if r.IAQ != nil {
			return *r.IAQ, true
		}
	case MetricNoise:
		if r.NoiseDB != nil {
			return *r.NoiseDB, true
		}
	}
	return 0, false
}

// Equal reports whether two readings carry identical content.
// Used by idempotency tests; optional metrics compare by value, not pointer.
func (r *Reading) Equal(other *Reading) bool {
	if r.DeviceID != other.DeviceID || r.Day != other.Day || r.MinuteOfDay != other.MinuteOfDay {
		return false
	}
	if r.TempC != other.TempC || r.HumidityPct != other.HumidityPct {
		return false
	}
	return eqPtr(r.PressureHPa, other.PressureHPa) &&
		eqPtr(r.IAQ, other.IAQ) &&
		eqPtr(r.NoiseDB, other.NoiseDB)
}

func eqPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Finite reports whether all present metric values are finite numbers.
func (r *Reading) Finite() bool {
	for _, m := range AllMetrics() {
		if v, ok := r.Value(m); ok {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// DayFromEpochMinute returns the UTC calendar day containing the given
// epoch-minute timestamp.
func DayFromEpochMinute(epochMin int64) string {
	return time.Unix(epochMin*60, 0).UTC().Format(DayLayout)
}

// MinuteOfDayFromEpochMinute returns the minute slot within the UTC day.
func MinuteOfDayFromEpochMinute(epochMin int64) int {
	return int(((epochMin % MinutesPerDay) + MinutesPerDay) % MinutesPerDay)
}

// EpochMinuteOf converts a (day, minuteOfDay) pair into minutes since the
// Unix epoch. Returns an error if the day does not parse.
func EpochMinuteOf(day string, minuteOfDay int) (int64, error) {
	t, err := time.Parse(DayLayout, day)
	if err != nil {
		return 0, fmt.Errorf("parse day %q: %w", day, err)
	}
	return t.Unix()/60 + int64(minuteOfDay), nil
}

// ParseDay parses a YYYY-MM-DD day string into a UTC time at midnight.
func ParseDay(day string) (time.Time, error) {
	return time.Parse(DayLayout, day)
}

// DaysBetween returns every UTC calendar day from first to last inclusive,
// in chronological order. Returns nil if last precedes first, and an error
// if either day does not parse as YYYY-MM-DD: a window that cannot be
// partitioned by calendar day must fail loudly, never scan as empty.
func DaysBetween(first, last string) ([]string, error) {
	start, err := ParseDay(first)
	if err != nil {
		return nil, fmt.Errorf("parse day %q: %w", first, err)
	}
	end, err := ParseDay(last)
	if err != nil {
		return nil, fmt.Errorf("parse day %q: %w", last, err)
	}

	var days []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(DayLayout))
	}
	return days, nil
}
