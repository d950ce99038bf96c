package aggregate

import (
	"math"

	"github.com/xtxerr/somnia/internal/model"
)

// SummaryStats holds whole-window statistics for one metric.
type SummaryStats struct {
	Count  int
	Min    float64
	Max    float64
	StdDev float64 // population standard deviation
}

// Summary holds the timeframe summary across all raw points in a window.
// It is computed over the raw point set, never over bucket boundaries.
type Summary struct {
	Window  Window
	Count   int // readings inside the window
	Metrics map[model.Metric]*SummaryStats
}

// HasData reports whether the summary holds any values for the metric.
func (s *Summary) HasData(m model.Metric) bool {
	_, ok := s.Metrics[m]
	return ok
}

// Summarize computes min, max, and population standard deviation per metric
// over all raw points in the window. This is a separate computation from
// bucketed percentiles and shares no bucket boundaries with them.
func Summarize(readings []model.Reading, win Window, metrics []model.Metric) (*Summary, error) {
	if err := win.Validate(); err != nil {
		return nil, err
	}
	if len(metrics) == 0 {
		metrics = model.AllMetrics()
	}

	values := make(map[model.Metric][]float64)
	count := 0
	for i := range readings {
		r := &readings[i]
		ts := r.EpochMinute()
		if ts < win.StartMin || ts >= win.EndMin {
			continue
		}
		count++
		for _, m := range metrics {
			if v, ok := r.Value(m); ok {
				values[m] = append(values[m], v)
			}
		}
	}

	summary := &Summary{
		Window:  win,
		Count:   count,
		Metrics: make(map[model.Metric]*SummaryStats),
	}

	for _, m := range metrics {
		vs := values[m]
		if len(vs) == 0 {
			continue // explicit no-data
		}
		summary.Metrics[m] = summarizeValues(vs)
	}

	return summary, nil
}

func summarizeValues(vs []float64) *SummaryStats {
	min, max := vs[0], vs[0]
	sum := 0.0
	for _, v := range vs {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}

	mean := sum / float64(len(vs))
	variance := 0.0
	for _, v := range vs {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(vs))

	return &SummaryStats{
		Count:  len(vs),
		Min:    min,
		Max:    max,
		StdDev: math.Sqrt(variance),
	}
}

// PopulationStdDev returns the population standard deviation of the values,
// or 0 for fewer than one value.
func PopulationStdDev(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	return summarizeValues(vs).StdDev
}
