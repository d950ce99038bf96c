// Package query serves read operations over the stored series. All
// computation is fetch-then-compute: the service materializes the working
// set for the request window, bounded by the documented limits, and hands
// it to the pure aggregation engine. Identical concurrent requests are
// deduplicated with singleflight so a dashboard refresh storm costs one
// store scan.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/xtxerr/somnia/internal/aggregate"
	"github.com/xtxerr/somnia/internal/errors"
	"github.com/xtxerr/somnia/internal/logging"
	"github.com/xtxerr/somnia/internal/model"
	"github.com/xtxerr/somnia/internal/validation"
)

// HotStore is the store surface the query service reads.
type HotStore interface {
	RangeScan(ctx context.Context, deviceID string, fromMin, toMin int64) ([]model.Reading, error)
	CountRange(ctx context.Context, deviceID string, fromMin, toMin int64) (int, error)
	SessionsOverlapping(ctx context.Context, fromMin, toMin int64) ([]model.SleepSession, error)
}

// ColdStore serves readings that have been archived out of the hot store.
// Optional; a nil ColdStore means every reading is hot.
type ColdStore interface {
	ScanRange(ctx context.Context, deviceID string, fromMin, toMin int64) ([]model.Reading, error)
	CountRange(ctx context.Context, deviceID string, fromMin, toMin int64) (int, error)
}

// Options configures the Service.
type Options struct {
	// MaxWindowDays is the maximum query span in calendar days.
	MaxWindowDays int

	// MaxPoints is the maximum working-set size for one query.
	MaxPoints int
}

// Stats holds query counters. Safe for concurrent use.
type Stats struct {
	Queries   atomic.Int64
	Rejected  atomic.Int64
	Deduped   atomic.Int64
	PointsFed atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Queries   int64 `json:"queries"`
	Rejected  int64 `json:"rejected"`
	Deduped   int64 `json:"deduped"`
	PointsFed int64 `json:"points_fed"`
}

// Service executes queries. Safe for concurrent use.
type Service struct {
	hot  HotStore
	cold ColdStore
	opts Options
	log  *slog.Logger

	sf singleflight.Group

	stats Stats
}

// New creates a query Service. cold may be nil.
func New(hot HotStore, cold ColdStore, opts Options) *Service {
	return &Service{
		hot:  hot,
		cold: cold,
		opts: opts,
		log:  logging.Component("query"),
	}
}

// BucketRequest asks for bucketed statistics over one device's series.
type BucketRequest struct {
	DeviceID      string
	Window        aggregate.Window
	BucketSizeMin int
	Metrics       []model.Metric
	Percentiles   []aggregate.Percentile
}

// SummaryRequest asks for whole-window statistics over one device's series.
type SummaryRequest struct {
	DeviceID string
	Window   aggregate.Window
	Metrics  []model.Metric
}

// CorrelationRequest asks for per-session environment aggregates.
type CorrelationRequest struct {
	DeviceID string
	Window   aggregate.Window
	Metrics  []model.Metric
}

// WeeklyRequest asks for a weekly sleep summary with week-over-week trends.
type WeeklyRequest struct {
	DeviceID  string
	WeekStart string // first day of the week, YYYY-MM-DD
}

// WeeklyResult is a weekly summary plus the comparison against the prior week.
type WeeklyResult struct {
	WeekStart  string                       `json:"week_start"`
	Current    aggregate.WeeklySleepSummary `json:"current"`
	Prior      aggregate.WeeklySleepSummary `json:"prior"`
	Comparison aggregate.WeekComparison     `json:"comparison"`
}

// Buckets partitions the window into fixed-width buckets with per-metric
// statistics, empty buckets included.
func (s *Service) Buckets(ctx context.Context, req BucketRequest) ([]aggregate.Bucket, error) {
	if !aggregate.ValidBucketSize(req.BucketSizeMin) {
		s.stats.Rejected.Add(1)
		return nil, errors.Wrapf(errors.ErrInvalidBucketSize, "%d", req.BucketSizeMin)
	}

	key := fmt.Sprintf("buckets|%s|%d|%d|%d|%s|%s",
		req.DeviceID, req.Window.StartMin, req.Window.EndMin, req.BucketSizeMin,
		metricsKey(req.Metrics), percentilesKey(req.Percentiles))

	v, err, shared := s.sf.Do(key, func() (interface{}, error) {
		series, err := s.fetchSeries(ctx, req.DeviceID, req.Window)
		if err != nil {
			return nil, err
		}
		return aggregate.Bucketize(series, req.Window, req.BucketSizeMin, req.Metrics, req.Percentiles)
	})
	s.record(shared)
	if err != nil {
		return nil, err
	}
	return v.([]aggregate.Bucket), nil
}

// Summary computes min/max/stddev per metric over the raw window points.
func (s *Service) Summary(ctx context.Context, req SummaryRequest) (*aggregate.Summary, error) {
	key := fmt.Sprintf("summary|%s|%d|%d|%s",
		req.DeviceID, req.Window.StartMin, req.Window.EndMin, metricsKey(req.Metrics))

	v, err, shared := s.sf.Do(key, func() (interface{}, error) {
		series, err := s.fetchSeries(ctx, req.DeviceID, req.Window)
		if err != nil {
			return nil, err
		}
		return aggregate.Summarize(series, req.Window, req.Metrics)
	})
	s.record(shared)
	if err != nil {
		return nil, err
	}
	return v.(*aggregate.Summary), nil
}

// Correlations joins each sleep session overlapping the window with the
// environment readings recorded during it. The environment series is fetched
// over the sessions' full envelope, so a session straddling the window edge
// or a day-partition boundary still sees all of its readings.
func (s *Service) Correlations(ctx context.Context, req CorrelationRequest) ([]aggregate.CorrelationResult, error) {
	key := fmt.Sprintf("correlate|%s|%d|%d|%s",
		req.DeviceID, req.Window.StartMin, req.Window.EndMin, metricsKey(req.Metrics))

	v, err, shared := s.sf.Do(key, func() (interface{}, error) {
		if err := s.validateWindow(req.Window); err != nil {
			return nil, err
		}
		if err := validation.ValidateDeviceID(req.DeviceID, validation.DefaultDeviceIDRules()); err != nil {
			return nil, errors.NewInvalidValue("device_id", req.DeviceID, err.Error())
		}

		sessions, err := s.hot.SessionsOverlapping(ctx, req.Window.StartMin, req.Window.EndMin)
		if err != nil {
			return nil, err
		}
		if len(sessions) == 0 {
			return []aggregate.CorrelationResult{}, nil
		}

		env, err := s.fetchBounded(ctx, req.DeviceID, sessionEnvelope(sessions, req.Window))
		if err != nil {
			return nil, err
		}
		return aggregate.Correlate(env, sessions, req.Metrics), nil
	})
	s.record(shared)
	if err != nil {
		return nil, err
	}
	return v.([]aggregate.CorrelationResult), nil
}

// Weekly summarizes the week starting at WeekStart and compares it against
// the week before.
func (s *Service) Weekly(ctx context.Context, req WeeklyRequest) (*WeeklyResult, error) {
	start, err := model.ParseDay(req.WeekStart)
	if err != nil {
		s.stats.Rejected.Add(1)
		return nil, errors.NewInvalidValue("week_start", req.WeekStart, "must be YYYY-MM-DD")
	}

	key := fmt.Sprintf("weekly|%s|%s", req.DeviceID, req.WeekStart)
	v, err, shared := s.sf.Do(key, func() (interface{}, error) {
		weekMin := start.Unix() / 60
		current, err := s.summarizeWeek(ctx, req.DeviceID, weekMin)
		if err != nil {
			return nil, err
		}
		prior, err := s.summarizeWeek(ctx, req.DeviceID, weekMin-7*model.MinutesPerDay)
		if err != nil {
			return nil, err
		}

		return &WeeklyResult{
			WeekStart:  req.WeekStart,
			Current:    current,
			Prior:      prior,
			Comparison: aggregate.WeekOverWeek(current, prior),
		}, nil
	})
	s.record(shared)
	if err != nil {
		return nil, err
	}
	return v.(*WeeklyResult), nil
}

func (s *Service) summarizeWeek(ctx context.Context, deviceID string, weekStartMin int64) (aggregate.WeeklySleepSummary, error) {
	win := aggregate.Window{
		StartMin: weekStartMin,
		EndMin:   weekStartMin + 7*model.MinutesPerDay,
	}

	sessions, err := s.hot.SessionsOverlapping(ctx, win.StartMin, win.EndMin)
	if err != nil {
		return aggregate.WeeklySleepSummary{}, err
	}
	if len(sessions) == 0 {
		return aggregate.WeeklySleepSummary{}, nil
	}

	env, err := s.fetchBounded(ctx, deviceID, sessionEnvelope(sessions, win))
	if err != nil {
		return aggregate.WeeklySleepSummary{}, err
	}
	return aggregate.SummarizeWeek(sessions, env), nil
}

// fetchSeries validates the window and materializes the working set for it:
// archived (cold) readings stitched before hot ones, chronologically, with
// hot rows winning any overlap.
func (s *Service) fetchSeries(ctx context.Context, deviceID string, win aggregate.Window) ([]model.Reading, error) {
	if err := s.validateWindow(win); err != nil {
		return nil, err
	}
	return s.fetchBounded(ctx, deviceID, win)
}

// fetchBounded materializes a window that was derived internally, such as a
// session envelope widening an already-validated request window. The span
// limit does not apply to it; the point limit still does, which is what
// bounds the cost of the scan.
func (s *Service) fetchBounded(ctx context.Context, deviceID string, win aggregate.Window) ([]model.Reading, error) {
	if err := win.Validate(); err != nil {
		s.stats.Rejected.Add(1)
		return nil, err
	}
	if err := validation.ValidateDeviceID(deviceID, validation.DefaultDeviceIDRules()); err != nil {
		return nil, errors.NewInvalidValue("device_id", deviceID, err.Error())
	}

	total, err := s.hot.CountRange(ctx, deviceID, win.StartMin, win.EndMin)
	if err != nil {
		return nil, err
	}
	if s.cold != nil {
		coldCount, err := s.cold.CountRange(ctx, deviceID, win.StartMin, win.EndMin)
		if err != nil {
			return nil, err
		}
		total += coldCount
	}
	if total > s.opts.MaxPoints {
		s.stats.Rejected.Add(1)
		s.log.Warn("query rejected",
			"device", deviceID, "points", total, "limit", s.opts.MaxPoints)
		return nil, errors.Wrapf(errors.ErrTooManyPoints, "%d points, limit %d", total, s.opts.MaxPoints)
	}

	hot, err := s.hot.RangeScan(ctx, deviceID, win.StartMin, win.EndMin)
	if err != nil {
		return nil, err
	}

	var cold []model.Reading
	if s.cold != nil {
		cold, err = s.cold.ScanRange(ctx, deviceID, win.StartMin, win.EndMin)
		if err != nil {
			return nil, err
		}
	}

	series := mergeSeries(cold, hot)
	s.stats.PointsFed.Add(int64(len(series)))
	return series, nil
}

func (s *Service) validateWindow(win aggregate.Window) error {
	if err := win.Validate(); err != nil {
		s.stats.Rejected.Add(1)
		return err
	}
	maxSpan := int64(s.opts.MaxWindowDays) * model.MinutesPerDay
	if win.SpanMin() > maxSpan {
		s.stats.Rejected.Add(1)
		return errors.Wrapf(errors.ErrWindowTooLarge,
			"%d minutes, limit %d days", win.SpanMin(), s.opts.MaxWindowDays)
	}
	return nil
}

func (s *Service) record(shared bool) {
	s.stats.Queries.Add(1)
	if shared {
		s.stats.Deduped.Add(1)
	}
}

// Stats returns a snapshot of the query counters.
func (s *Service) Stats() StatsSnapshot {
	return StatsSnapshot{
		Queries:   s.stats.Queries.Load(),
		Rejected:  s.stats.Rejected.Load(),
		Deduped:   s.stats.Deduped.Load(),
		PointsFed: s.stats.PointsFed.Load(),
	}
}

// mergeSeries merges two chronologically ordered series into one, dropping
// cold rows whose key also exists hot. After a crash between archive export
// and partition delete, a day can briefly exist in both tiers; the hot row
// is the authoritative one.
func mergeSeries(cold, hot []model.Reading) []model.Reading {
	if len(cold) == 0 {
		return hot
	}
	if len(hot) == 0 {
		return cold
	}

	hotKeys := make(map[string]struct{}, len(hot))
	for i := range hot {
		hotKeys[hot[i].Key()] = struct{}{}
	}

	out := make([]model.Reading, 0, len(cold)+len(hot))
	out = append(out, hot...)
	for i := range cold {
		if _, dup := hotKeys[cold[i].Key()]; !dup {
			out = append(out, cold[i])
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].EpochMinute() < out[j].EpochMinute()
	})
	return out
}

// sessionEnvelope widens the query window to cover every overlapping
// session in full, clamped to nothing smaller than the window itself.
func sessionEnvelope(sessions []model.SleepSession, win aggregate.Window) aggregate.Window {
	env := win
	for i := range sessions {
		if sessions[i].StartMin < env.StartMin {
			env.StartMin = sessions[i].StartMin
		}
		if sessions[i].EndMin > env.EndMin {
			env.EndMin = sessions[i].EndMin
		}
	}
	return env
}

func metricsKey(metrics []model.Metric) string {
	if len(metrics) == 0 {
		return "all"
	}
	names := make([]string, len(metrics))
	for i, m := range metrics {
		names[i] = m.String()
	}
	return strings.Join(names, ",")
}

func percentilesKey(ps []aggregate.Percentile) string {
	if len(ps) == 0 {
		return "none"
	}
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.String()
	}
	return strings.Join(names, ",")
}
