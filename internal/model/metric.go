package model

import "fmt"

// Metric identifies an environmental metric carried by a reading.
type Metric int

const (
	// MetricTemp is the bedroom temperature in degrees Celsius. Required.
	MetricTemp Metric = iota
	// MetricHumidity is the relative humidity percentage. Required.
	MetricHumidity
	// MetricPressure is the atmospheric pressure in hectopascals. Optional.
	MetricPressure
	// MetricIAQ is the indoor air quality index. Optional.
	MetricIAQ
	// MetricNoise is the ambient noise level in decibels. Optional.
	MetricNoise
)

// String returns the wire name of the metric.
func (m Metric) String() string {
	switch m {
	case MetricTemp:
		return "temp_c"
	case MetricHumidity:
		return "humidity_pct"
	case MetricPressure:
		return "pressure_hpa"
	case MetricIAQ:
		return "iaq"
	case MetricNoise:
		return "noise_db"
	default:
		return fmt.Sprintf("unknown(%d)", m)
	}
}

// Required returns true if every valid reading must carry this metric.
func (m Metric) Required() bool {
	return m == MetricTemp || m == MetricHumidity
}

// ParseMetric parses a wire name into a Metric.
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "temp_c":
		return MetricTemp, nil
	case "humidity_pct":
		return MetricHumidity, nil
	case "pressure_hpa":
		return MetricPressure, nil
	case "iaq":
		return MetricIAQ, nil
	case "noise_db":
		return MetricNoise, nil
	default:
		return MetricTemp, fmt.Errorf("unknown metric: %s", s)
	}
}

// AllMetrics returns all metrics in wire order.
func AllMetrics() []Metric {
	return []Metric{MetricTemp, MetricHumidity, MetricPressure, MetricIAQ, MetricNoise}
}
