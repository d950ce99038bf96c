package aggregate

import (
	"github.com/xtxerr/somnia/internal/model"
)

// SessionEnvStats holds environment aggregates for one metric during one
// sleep session.
type SessionEnvStats struct {
	Count int
	Avg   float64
	Min   float64
	Max   float64
}

// CorrelationResult joins one sleep session with the environment readings
// recorded during it. Env is nil when no readings overlapped the session:
// the result is absent, not zero.
type CorrelationResult struct {
	SessionID string
	StartMin  int64
	EndMin    int64
	Count     int // readings inside [StartMin, EndMin)
	Env       map[model.Metric]*SessionEnvStats
}

// HasData reports whether any environment readings overlapped the session.
func (c *CorrelationResult) HasData() bool {
	return c.Env != nil
}

// Correlate joins each sleep session against the environment series,
// selecting readings whose timestamp falls in [start, end) and computing
// avg/min/max per metric over the selection.
//
// The env series is expected to be the stitched, chronologically ordered
// working set for the full query window, so a session spanning a
// day-partition boundary sees points from both partitions with no
// duplication and no omission.
func Correlate(envSeries []model.Reading, sessions []model.SleepSession, metrics []model.Metric) []CorrelationResult {
	if len(metrics) == 0 {
		metrics = model.AllMetrics()
	}

	results := make([]CorrelationResult, 0, len(sessions))

	for si := range sessions {
		s := &sessions[si]
		result := CorrelationResult{
			SessionID: s.SessionID,
			StartMin:  s.StartMin,
			EndMin:    s.EndMin,
		}

		values := make(map[model.Metric][]float64)
		for i := range envSeries {
			r := &envSeries[i]
			if !s.Contains(r.EpochMinute()) {
				continue
			}
			result.Count++
			for _, m := range metrics {
				if v, ok := r.Value(m); ok {
					values[m] = append(values[m], v)
				}
			}
		}

		if result.Count > 0 {
			result.Env = make(map[model.Metric]*SessionEnvStats)
			for _, m := range metrics {
				vs := values[m]
				if len(vs) == 0 {
					continue // metric absent for this session
				}
				result.Env[m] = envStats(vs)
			}
		}

		results = append(results, result)
	}

	return results
}

func envStats(vs []float64) *SessionEnvStats {
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
	return &SessionEnvStats{
		Count: len(vs),
		Avg:   sum / float64(len(vs)),
		Min:   min,
		Max:   max,
	}
}
