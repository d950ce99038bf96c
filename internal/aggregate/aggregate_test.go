package aggregate

import (
	"math"
	"testing"

	"github.com/xtxerr/somnia/internal/errors"
	"github.com/xtxerr/somnia/internal/model"
)

const testDay = "2026-03-10"

func mustEpochMin(t *testing.T, day string, minute int) int64 {
	t.Helper()
	ts, err := model.EpochMinuteOf(day, minute)
	if err != nil {
		t.Fatalf("EpochMinuteOf(%s, %d): %v", day, minute, err)
	}
	return ts
}

func reading(day string, minute int, temp, hum float64) model.Reading {
	return model.Reading{
		DeviceID:    "bedroom-pi",
		Day:         day,
		MinuteOfDay: minute,
		TempC:       temp,
		HumidityPct: hum,
	}
}

func dayWindow(t *testing.T, day string) Window {
	t.Helper()
	start := mustEpochMin(t, day, 0)
	return Window{StartMin: start, EndMin: start + model.MinutesPerDay}
}

// ============================================================================
// Nearest-rank percentiles
// ============================================================================

func TestNearestRank(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}

	tests := []struct {
		p    Percentile
		want float64
	}{
		{P50, 20},  // rank = ceil(0.50*4) = 2
		{P90, 40},  // rank = ceil(0.90*4) = 4
		{P99, 40},  // rank = ceil(0.99*4) = 4
		{PMax, 40}, // rank = 4
	}

	for _, tt := range tests {
		if got := NearestRank(sorted, tt.p); got != tt.want {
			t.Errorf("NearestRank(%v, %s) = %v, want %v", sorted, tt.p, got, tt.want)
		}
	}
}

func TestNearestRankSingleValue(t *testing.T) {
	sorted := []float64{42}
	for _, p := range AllPercentiles() {
		if got := NearestRank(sorted, p); got != 42 {
			t.Errorf("NearestRank single value %s = %v, want 42", p, got)
		}
	}
}

func TestNearestRankEmpty(t *testing.T) {
	if got := NearestRank(nil, P50); got != 0 {
		t.Errorf("NearestRank(nil) = %v, want 0", got)
	}
}

func TestNearestRankTwelvePoints(t *testing.T) {
	// 12 values: p90 rank = ceil(0.90*12) = 11.
	sorted := make([]float64, 12)
	for i := range sorted {
		sorted[i] = float64(i + 1)
	}
	if got := NearestRank(sorted, P90); got != 11 {
		t.Errorf("NearestRank 12 points p90 = %v, want 11", got)
	}
	if got := NearestRank(sorted, P50); got != 6 {
		t.Errorf("NearestRank 12 points p50 = %v, want 6", got)
	}
}

func TestParsePercentile(t *testing.T) {
	for _, p := range AllPercentiles() {
		got, err := ParsePercentile(p.String())
		if err != nil {
			t.Fatalf("ParsePercentile(%s): %v", p, err)
		}
		if got != p {
			t.Errorf("ParsePercentile(%s) = %v, want %v", p, got, p)
		}
	}

	if _, err := ParsePercentile("p95"); !errors.Is(err, errors.ErrInvalidPercentile) {
		t.Errorf("ParsePercentile(p95) error = %v, want ErrInvalidPercentile", err)
	}
}

// ============================================================================
// Bucketize
// ============================================================================

func TestBucketizeFullDayBucketCount(t *testing.T) {
	win := dayWindow(t, testDay)

	buckets, err := Bucketize(nil, win, 5, nil, nil)
	if err != nil {
		t.Fatalf("Bucketize: %v", err)
	}
	if len(buckets) != 288 {
		t.Fatalf("full day at 5min = %d buckets, want 288", len(buckets))
	}

	// Contiguous, non-overlapping, covering the window.
	if buckets[0].StartMin != win.StartMin {
		t.Errorf("first bucket starts at %d, want %d", buckets[0].StartMin, win.StartMin)
	}
	for i := 1; i < len(buckets); i++ {
		if buckets[i].StartMin != buckets[i-1].EndMin {
			t.Fatalf("gap between bucket %d and %d", i-1, i)
		}
	}
	if last := buckets[len(buckets)-1]; last.EndMin != win.EndMin {
		t.Errorf("last bucket ends at %d, want %d", last.EndMin, win.EndMin)
	}
}

func TestBucketizeHourly(t *testing.T) {
	win := dayWindow(t, testDay)
	buckets, err := Bucketize(nil, win, 60, nil, nil)
	if err != nil {
		t.Fatalf("Bucketize: %v", err)
	}
	if len(buckets) != 24 {
		t.Fatalf("full day at 60min = %d buckets, want 24", len(buckets))
	}
}

func TestBucketizeStats(t *testing.T) {
	// 12 readings in one 60-minute bucket, temps 1..12.
	readings := make([]model.Reading, 0, 12)
	for i := 0; i < 12; i++ {
		readings = append(readings, reading(testDay, i*5, float64(i+1), 50))
	}

	start := mustEpochMin(t, testDay, 0)
	win := Window{StartMin: start, EndMin: start + 60}

	buckets, err := Bucketize(readings, win, 60, []model.Metric{model.MetricTemp}, AllPercentiles())
	if err != nil {
		t.Fatalf("Bucketize: %v", err)
	}
	if len(buckets) != 1 {
		t.Fatalf("got %d buckets, want 1", len(buckets))
	}

	b := buckets[0]
	if b.Count != 12 {
		t.Errorf("bucket count = %d, want 12", b.Count)
	}
	stats := b.Stats[model.MetricTemp]
	if stats == nil {
		t.Fatal("temp stats missing")
	}
	if want := 6.5; stats.Avg != want {
		t.Errorf("avg = %v, want %v", stats.Avg, want)
	}
	if got := stats.Percentiles[P90]; got != 11 {
		t.Errorf("p90 = %v, want 11 (rank 11 of 12)", got)
	}
	if got := stats.Percentiles[PMax]; got != 12 {
		t.Errorf("max = %v, want 12", got)
	}
}

func TestBucketizeEmptyBucketsHaveNoData(t *testing.T) {
	// One reading in the first 5-minute slot, nothing else all day.
	readings := []model.Reading{reading(testDay, 2, 21.5, 48)}
	win := dayWindow(t, testDay)

	buckets, err := Bucketize(readings, win, 5, nil, []Percentile{P50})
	if err != nil {
		t.Fatalf("Bucketize: %v", err)
	}

	if !buckets[0].HasData(model.MetricTemp) {
		t.Error("first bucket should contain temp data")
	}
	for i := 1; i < len(buckets); i++ {
		b := &buckets[i]
		if b.Count != 0 {
			t.Fatalf("bucket %d count = %d, want 0", i, b.Count)
		}
		if len(b.Stats) != 0 {
			t.Fatalf("bucket %d carries stats despite no readings", i)
		}
	}
}

func TestBucketizeOptionalMetricAbsent(t *testing.T) {
	// No reading reports pressure, so the pressure key must be absent from
	// every bucket rather than present with zeros.
	readings := []model.Reading{reading(testDay, 0, 20, 45)}
	start := mustEpochMin(t, testDay, 0)
	win := Window{StartMin: start, EndMin: start + 5}

	buckets, err := Bucketize(readings, win, 5, nil, nil)
	if err != nil {
		t.Fatalf("Bucketize: %v", err)
	}
	if buckets[0].HasData(model.MetricPressure) {
		t.Error("pressure stats present for a reading that never reported pressure")
	}
	if !buckets[0].HasData(model.MetricHumidity) {
		t.Error("humidity stats missing")
	}
}

func TestBucketizeIgnoresOutOfWindowReadings(t *testing.T) {
	start := mustEpochMin(t, testDay, 60)
	win := Window{StartMin: start, EndMin: start + 60}

	readings := []model.Reading{
		reading(testDay, 59, 10, 40),  // before window
		reading(testDay, 60, 20, 40),  // first in-window minute
		reading(testDay, 119, 30, 40), // last in-window minute
		reading(testDay, 120, 40, 40), // at EndMin, excluded (half-open)
	}

	buckets, err := Bucketize(readings, win, 60, []model.Metric{model.MetricTemp}, nil)
	if err != nil {
		t.Fatalf("Bucketize: %v", err)
	}
	if len(buckets) != 1 {
		t.Fatalf("got %d buckets, want 1", len(buckets))
	}
	if buckets[0].Count != 2 {
		t.Errorf("bucket count = %d, want 2 (half-open window)", buckets[0].Count)
	}
	if avg := buckets[0].Stats[model.MetricTemp].Avg; avg != 25 {
		t.Errorf("avg = %v, want 25", avg)
	}
}

func TestBucketizeRejectsInvalidInput(t *testing.T) {
	win := dayWindow(t, testDay)

	if _, err := Bucketize(nil, win, 7, nil, nil); !errors.Is(err, errors.ErrInvalidBucketSize) {
		t.Errorf("bucket size 7 error = %v, want ErrInvalidBucketSize", err)
	}

	inverted := Window{StartMin: win.EndMin, EndMin: win.StartMin}
	if _, err := Bucketize(nil, inverted, 5, nil, nil); !errors.Is(err, errors.ErrInvalidWindow) {
		t.Errorf("inverted window error = %v, want ErrInvalidWindow", err)
	}

	if _, err := Bucketize(nil, win, 5, nil, []Percentile{Percentile(95)}); !errors.Is(err, errors.ErrInvalidPercentile) {
		t.Errorf("percentile 95 error = %v, want ErrInvalidPercentile", err)
	}
}

// ============================================================================
// Summarize
// ============================================================================

func TestSummarize(t *testing.T) {
	readings := []model.Reading{
		reading(testDay, 0, 2, 40),
		reading(testDay, 5, 4, 50),
		reading(testDay, 10, 4, 50),
		reading(testDay, 15, 4, 60),
		reading(testDay, 20, 5, 45),
		reading(testDay, 25, 5, 55),
		reading(testDay, 30, 7, 40),
		reading(testDay, 35, 9, 60),
	}
	win := dayWindow(t, testDay)

	summary, err := Summarize(readings, win, []model.Metric{model.MetricTemp})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.Count != 8 {
		t.Errorf("count = %d, want 8", summary.Count)
	}

	stats := summary.Metrics[model.MetricTemp]
	if stats == nil {
		t.Fatal("temp stats missing")
	}
	if stats.Min != 2 || stats.Max != 9 {
		t.Errorf("min/max = %v/%v, want 2/9", stats.Min, stats.Max)
	}
	// Population std of {2,4,4,4,5,5,7,9} is exactly 2.
	if got := stats.StdDev; math.Abs(got-2) > 1e-12 {
		t.Errorf("stddev = %v, want 2 (population)", got)
	}
}

func TestSummarizeEmptyWindow(t *testing.T) {
	win := dayWindow(t, testDay)

	summary, err := Summarize(nil, win, nil)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.Count != 0 {
		t.Errorf("count = %d, want 0", summary.Count)
	}
	if len(summary.Metrics) != 0 {
		t.Error("empty window produced metric stats")
	}
	if summary.HasData(model.MetricTemp) {
		t.Error("HasData reports data for an empty window")
	}
}

// ============================================================================
// Correlate
// ============================================================================

func TestCorrelate(t *testing.T) {
	sessionStart := mustEpochMin(t, testDay, 1380) // 23:00
	session := model.SleepSession{
		SessionID: "s-1",
		StartMin:  sessionStart,
		EndMin:    sessionStart + 480, // wakes 07:00 next day
	}

	nextDay := "2026-03-11"
	env := []model.Reading{
		reading(testDay, 1379, 30, 80), // minute before sleep, excluded
		reading(testDay, 1380, 20, 50), // sleep onset
		reading(testDay, 1439, 19, 48), // last minute of the first day
		reading(nextDay, 0, 18, 46),    // first minute across midnight
		reading(nextDay, 419, 21, 52),  // last in-session minute
		reading(nextDay, 420, 30, 80),  // wake minute, excluded (half-open)
	}

	results := Correlate(env, []model.SleepSession{session}, []model.Metric{model.MetricTemp})
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}

	r := results[0]
	if r.Count != 4 {
		t.Errorf("count = %d, want 4 (cross-midnight, half-open)", r.Count)
	}
	stats := r.Env[model.MetricTemp]
	if stats == nil {
		t.Fatal("temp stats missing")
	}
	if stats.Min != 18 || stats.Max != 21 {
		t.Errorf("min/max = %v/%v, want 18/21", stats.Min, stats.Max)
	}
	if want := 19.5; stats.Avg != want {
		t.Errorf("avg = %v, want %v", stats.Avg, want)
	}
}

func TestCorrelateNoOverlap(t *testing.T) {
	sessionStart := mustEpochMin(t, testDay, 0)
	session := model.SleepSession{
		SessionID: "s-dry",
		StartMin:  sessionStart,
		EndMin:    sessionStart + 480,
	}

	// Readings exist but none inside the session.
	env := []model.Reading{reading(testDay, 600, 22, 50)}

	results := Correlate(env, []model.SleepSession{session}, nil)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Env != nil {
		t.Error("Env should be nil when no readings overlap the session")
	}
	if results[0].HasData() {
		t.Error("HasData should report false for a dry session")
	}
}

// ============================================================================
// Weekly summary and week-over-week trends
// ============================================================================

func weekOf(t *testing.T, durationsMin ...int64) WeeklySleepSummary {
	t.Helper()
	sessions := make([]model.SleepSession, 0, len(durationsMin))
	base := mustEpochMin(t, testDay, 1320)
	for i, d := range durationsMin {
		start := base + int64(i)*model.MinutesPerDay
		sessions = append(sessions, model.SleepSession{
			SessionID:  "n-" + string(rune('a'+i)),
			StartMin:   start,
			EndMin:     start + d,
			DeepMin:    int(d / 5),
			RemMin:     int(d / 4),
			Efficiency: 90,
			Score:      80,
		})
	}
	return SummarizeWeek(sessions, nil)
}

func TestSummarizeWeek(t *testing.T) {
	s := weekOf(t, 400, 420, 440)

	if s.Nights != 3 {
		t.Errorf("nights = %d, want 3", s.Nights)
	}
	if s.TotalSleepMin != 1260 {
		t.Errorf("total = %v, want 1260", s.TotalSleepMin)
	}
	if s.AvgSleepMin != 420 {
		t.Errorf("avg = %v, want 420", s.AvgSleepMin)
	}
	// Population std of {400, 420, 440}.
	if want := math.Sqrt(800.0 / 3); math.Abs(s.Consistency-want) > 1e-9 {
		t.Errorf("consistency = %v, want %v", s.Consistency, want)
	}
	if s.ShortestNight == nil || s.ShortestNight.SleepMin != 400 {
		t.Errorf("shortest night = %+v, want 400 min", s.ShortestNight)
	}
	if s.LongestNight == nil || s.LongestNight.SleepMin != 440 {
		t.Errorf("longest night = %+v, want 440 min", s.LongestNight)
	}
	if s.AvgTempC != nil {
		t.Error("AvgTempC should be nil without environment readings")
	}
}

func TestSummarizeWeekEmpty(t *testing.T) {
	s := SummarizeWeek(nil, nil)
	if s.Nights != 0 || s.TotalSleepMin != 0 {
		t.Errorf("empty week = %+v, want zero summary", s)
	}
	if s.ShortestNight != nil || s.LongestNight != nil {
		t.Error("empty week should carry no night refs")
	}
}

func TestWeekOverWeekTrends(t *testing.T) {
	prior := weekOf(t, 420, 420, 420)
	current := weekOf(t, 430, 430, 430)

	cmp := WeekOverWeek(current, prior)

	byName := make(map[string]MetricDelta, len(cmp.Sleep))
	for _, d := range cmp.Sleep {
		byName[d.Name] = d
	}

	// Average durations 420 vs 430 minutes with epsilon 5: delta +10,
	// trend improving.
	avg, ok := byName["avg_sleep_min"]
	if !ok {
		t.Fatal("avg_sleep_min delta missing")
	}
	if avg.Delta != 10 {
		t.Errorf("avg_sleep_min delta = %v, want +10", avg.Delta)
	}
	if avg.Trend != TrendImproving {
		t.Errorf("avg_sleep_min trend = %s, want improving", avg.Trend)
	}

	// Consistency is identical (0 both weeks): flat.
	if d := byName["consistency"]; d.Trend != TrendFlat {
		t.Errorf("consistency trend = %s, want flat", d.Trend)
	}

	// Efficiency unchanged at 90: flat.
	if d := byName["avg_efficiency"]; d.Trend != TrendFlat {
		t.Errorf("avg_efficiency trend = %s, want flat", d.Trend)
	}
}

func TestWeekOverWeekSubEpsilonIsFlat(t *testing.T) {
	prior := weekOf(t, 420, 420)
	current := weekOf(t, 422, 422) // +2 min, below the 5-minute epsilon

	cmp := WeekOverWeek(current, prior)
	for _, d := range cmp.Sleep {
		if d.Name == "avg_sleep_min" && d.Trend != TrendFlat {
			t.Errorf("delta %v below epsilon classified %s, want flat", d.Delta, d.Trend)
		}
	}
}

func TestWeekOverWeekWorsening(t *testing.T) {
	prior := weekOf(t, 480, 480)
	current := weekOf(t, 400, 400)

	cmp := WeekOverWeek(current, prior)
	for _, d := range cmp.Sleep {
		if d.Name == "avg_sleep_min" {
			if d.Trend != TrendWorsening {
				t.Errorf("avg_sleep_min trend = %s, want worsening", d.Trend)
			}
			return
		}
	}
	t.Fatal("avg_sleep_min delta missing")
}

func TestWeekOverWeekEnvDeltas(t *testing.T) {
	temp1, hum1 := 19.0, 45.0
	temp2, hum2 := 20.0, 45.5
	prior := WeeklySleepSummary{Nights: 7, AvgTempC: &temp1, AvgHumidityPct: &hum1}
	current := WeeklySleepSummary{Nights: 7, AvgTempC: &temp2, AvgHumidityPct: &hum2}

	cmp := WeekOverWeek(current, prior)
	if len(cmp.Env) != 2 {
		t.Fatalf("got %d env deltas, want 2", len(cmp.Env))
	}

	for _, d := range cmp.Env {
		switch d.Name {
		case "avg_temp_c":
			if d.Delta != 1 || d.Trend != TrendChanged {
				t.Errorf("temp delta = %v trend %s, want +1 changed", d.Delta, d.Trend)
			}
		case "avg_humidity_pct":
			if d.Delta != 0.5 || d.Trend != TrendFlat {
				t.Errorf("humidity delta = %v trend %s, want +0.5 flat", d.Delta, d.Trend)
			}
		}
	}
}

func TestWeekOverWeekEnvMissing(t *testing.T) {
	cmp := WeekOverWeek(weekOf(t, 420), weekOf(t, 420))
	if cmp.Env != nil {
		t.Error("env deltas present without environment averages on both weeks")
	}
}
