package aggregate

import (
	"github.com/xtxerr/somnia/internal/model"
)

// Trend classifies a week-over-week change.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendWorsening Trend = "worsening"
	TrendFlat      Trend = "flat"

	// TrendChanged marks a non-flat delta on a metric with no inherent
	// better direction (environment metrics).
	TrendChanged Trend = "changed"
)

// Week-over-week trend epsilons. A delta below the metric's epsilon is
// classified as flat to suppress noise-driven false trends. These values
// are part of the documented contract, not incidental constants.
const (
	EpsilonSleepMin    = 5.0 // total and average sleep minutes
	EpsilonStageMin    = 5.0 // deep and REM minutes
	EpsilonEfficiency  = 1.0 // efficiency points
	EpsilonScore       = 2.0 // score points
	EpsilonConsistency = 5.0 // consistency (std of nightly minutes)
	EpsilonTempC       = 0.5 // average temperature, degrees Celsius
	EpsilonHumidityPct = 2.0 // average humidity, percentage points
)

// WeeklySleepSummary aggregates one week of sleep sessions.
type WeeklySleepSummary struct {
	Nights        int
	TotalSleepMin float64
	AvgSleepMin   float64
	AvgDeepMin    float64
	AvgRemMin     float64
	AvgEfficiency float64
	AvgScore      float64

	// Consistency is the population standard deviation of nightly sleep
	// durations in minutes; lower is better.
	Consistency float64

	ShortestNight *NightRef
	LongestNight  *NightRef

	// Environment averages during the week's sessions; nil when no
	// overlapping readings exist.
	AvgTempC       *float64
	AvgHumidityPct *float64
}

// NightRef points at a single night within a weekly summary.
type NightRef struct {
	SessionID string
	Date      string // sleep date (wake day)
	SleepMin  float64
}

// SummarizeWeek aggregates the sessions of one week plus the environment
// readings recorded during them. An empty session slice yields a zero-night
// summary; that is a no-data result, not an error.
func SummarizeWeek(sessions []model.SleepSession, env []model.Reading) WeeklySleepSummary {
	var s WeeklySleepSummary
	if len(sessions) == 0 {
		return s
	}

	s.Nights = len(sessions)

	durations := make([]float64, 0, len(sessions))
	var deep, rem, eff, score float64
	for i := range sessions {
		sess := &sessions[i]
		d := float64(sess.DurationMin())
		durations = append(durations, d)
		s.TotalSleepMin += d
		deep += float64(sess.DeepMin)
		rem += float64(sess.RemMin)
		eff += sess.Efficiency
		score += float64(sess.Score)

		ref := &NightRef{SessionID: sess.SessionID, Date: sess.SleepDate(), SleepMin: d}
		if s.ShortestNight == nil || d < s.ShortestNight.SleepMin {
			s.ShortestNight = ref
		}
		if s.LongestNight == nil || d > s.LongestNight.SleepMin {
			s.LongestNight = ref
		}
	}

	n := float64(s.Nights)
	s.AvgSleepMin = s.TotalSleepMin / n
	s.AvgDeepMin = deep / n
	s.AvgRemMin = rem / n
	s.AvgEfficiency = eff / n
	s.AvgScore = score / n
	s.Consistency = PopulationStdDev(durations)

	// Environment during sleep, averaged across all sessions' readings.
	var temps, hums []float64
	for i := range env {
		r := &env[i]
		ts := r.EpochMinute()
		for j := range sessions {
			if sessions[j].Contains(ts) {
				temps = append(temps, r.TempC)
				hums = append(hums, r.HumidityPct)
				break
			}
		}
	}
	if len(temps) > 0 {
		avgT := mean(temps)
		avgH := mean(hums)
		s.AvgTempC = &avgT
		s.AvgHumidityPct = &avgH
	}

	return s
}

func mean(vs []float64) float64 {
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// MetricDelta is one elementwise week-over-week difference.
type MetricDelta struct {
	Name    string
	Current float64
	Prior   float64
	Delta   float64 // current - prior
	Epsilon float64
	Trend   Trend
}

// WeekComparison is the week-over-week comparison object.
type WeekComparison struct {
	// Sleep deltas carry trend classification.
	Sleep []MetricDelta

	// Environment deltas carry no trend: temperature and humidity have no
	// inherent better direction, so only the raw change is reported.
	Env []MetricDelta
}

// WeekOverWeek compares the current week's summary against the prior week's.
// Deltas are elementwise (current - prior); trends classify each sleep delta
// as improving, worsening, or flat using the metric's documented epsilon.
func WeekOverWeek(current, prior WeeklySleepSummary) WeekComparison {
	var cmp WeekComparison

	higher := func(name string, cur, pri, eps float64) {
		cmp.Sleep = append(cmp.Sleep, classify(name, cur, pri, eps, true))
	}
	lower := func(name string, cur, pri, eps float64) {
		cmp.Sleep = append(cmp.Sleep, classify(name, cur, pri, eps, false))
	}

	higher("total_sleep_min", current.TotalSleepMin, prior.TotalSleepMin, EpsilonSleepMin)
	higher("avg_sleep_min", current.AvgSleepMin, prior.AvgSleepMin, EpsilonSleepMin)
	higher("avg_deep_min", current.AvgDeepMin, prior.AvgDeepMin, EpsilonStageMin)
	higher("avg_rem_min", current.AvgRemMin, prior.AvgRemMin, EpsilonStageMin)
	higher("avg_efficiency", current.AvgEfficiency, prior.AvgEfficiency, EpsilonEfficiency)
	higher("avg_score", current.AvgScore, prior.AvgScore, EpsilonScore)
	lower("consistency", current.Consistency, prior.Consistency, EpsilonConsistency)

	if current.AvgTempC != nil && prior.AvgTempC != nil {
		d := classify("avg_temp_c", *current.AvgTempC, *prior.AvgTempC, EpsilonTempC, true)
		d.Trend = envTrend(d.Delta, EpsilonTempC)
		cmp.Env = append(cmp.Env, d)
	}
	if current.AvgHumidityPct != nil && prior.AvgHumidityPct != nil {
		d := classify("avg_humidity_pct", *current.AvgHumidityPct, *prior.AvgHumidityPct, EpsilonHumidityPct, true)
		d.Trend = envTrend(d.Delta, EpsilonHumidityPct)
		cmp.Env = append(cmp.Env, d)
	}

	return cmp
}

// classify builds a MetricDelta with trend classification. higherIsBetter
// selects the direction that counts as improving.
func classify(name string, current, prior, epsilon float64, higherIsBetter bool) MetricDelta {
	delta := current - prior
	d := MetricDelta{
		Name:    name,
		Current: current,
		Prior:   prior,
		Delta:   delta,
		Epsilon: epsilon,
	}

	abs := delta
	if abs < 0 {
		abs = -abs
	}

	switch {
	case abs < epsilon:
		d.Trend = TrendFlat
	case (delta > 0) == higherIsBetter:
		d.Trend = TrendImproving
	default:
		d.Trend = TrendWorsening
	}
	return d
}

// envTrend collapses environment changes to flat-or-not; direction carries
// no judgment for neutral metrics.
func envTrend(delta, epsilon float64) Trend {
	if delta < 0 {
		delta = -delta
	}
	if delta < epsilon {
		return TrendFlat
	}
	return TrendChanged
}
