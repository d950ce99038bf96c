package aggregate

import (
	"fmt"
	"sort"

	"github.com/xtxerr/somnia/internal/errors"
	"github.com/xtxerr/somnia/internal/model"
)

// Percentile identifies a requested percentile. The numeric value is the
// percentile rank; PMax is expressed as p=100, which nearest-rank resolves
// to the largest sample.
type Percentile int

const (
	P50  Percentile = 50
	P90  Percentile = 90
	P99  Percentile = 99
	PMax Percentile = 100
)

// String returns the wire name of the percentile.
func (p Percentile) String() string {
	switch p {
	case P50:
		return "p50"
	case P90:
		return "p90"
	case P99:
		return "p99"
	case PMax:
		return "max"
	default:
		return fmt.Sprintf("p%d", int(p))
	}
}

// ParsePercentile parses a wire name into a Percentile.
func ParsePercentile(s string) (Percentile, error) {
	switch s {
	case "p50":
		return P50, nil
	case "p90":
		return P90, nil
	case "p99":
		return P99, nil
	case "max":
		return PMax, nil
	default:
		return 0, errors.Wrapf(errors.ErrInvalidPercentile, "%q", s)
	}
}

// AllPercentiles returns the supported percentile set in ascending order.
func AllPercentiles() []Percentile {
	return []Percentile{P50, P90, P99, PMax}
}

// ValidBucketSize reports whether the bucket size is one of the supported
// widths (5 or 60 minutes).
func ValidBucketSize(sizeMin int) bool {
	return sizeMin == 5 || sizeMin == 60
}

// Window is a half-open query interval [StartMin, EndMin) in epoch minutes.
type Window struct {
	StartMin int64
	EndMin   int64
}

// Validate checks the window for inversion.
func (w Window) Validate() error {
	if w.EndMin <= w.StartMin {
		return errors.ErrInvalidWindow
	}
	return nil
}

// SpanMin returns the window length in minutes.
func (w Window) SpanMin() int64 {
	return w.EndMin - w.StartMin
}

// MetricStats holds the computed statistics for one metric in one bucket.
type MetricStats struct {
	Count       int
	Avg         float64
	Percentiles map[Percentile]float64
}

// Bucket is a fixed-width, left-aligned time interval holding per-metric
// statistics. A metric absent from Stats carries the explicit no-data
// marker: it is never zero and never interpolated.
type Bucket struct {
	StartMin int64 // inclusive, aligned to the bucket width
	EndMin   int64 // exclusive
	Count    int   // readings whose timestamp fell inside the bucket
	Stats    map[model.Metric]*MetricStats
}

// HasData reports whether the bucket holds any values for the metric.
func (b *Bucket) HasData(m model.Metric) bool {
	_, ok := b.Stats[m]
	return ok
}

// Bucketize partitions readings into contiguous, non-overlapping buckets of
// bucketSizeMin minutes, left-aligned to epoch-minute boundaries, covering
// the whole window. Readings outside the window are ignored. Every bucket in
// the window appears in the result, including empty ones.
func Bucketize(readings []model.Reading, win Window, bucketSizeMin int, metrics []model.Metric, percentiles []Percentile) ([]Bucket, error) {
	if !ValidBucketSize(bucketSizeMin) {
		return nil, errors.Wrapf(errors.ErrInvalidBucketSize, "%d", bucketSizeMin)
	}
	if err := win.Validate(); err != nil {
		return nil, err
	}
	for _, p := range percentiles {
		if _, err := ParsePercentile(p.String()); err != nil {
			return nil, err
		}
	}
	if len(metrics) == 0 {
		metrics = model.AllMetrics()
	}

	size := int64(bucketSizeMin)
	firstStart := alignDown(win.StartMin, size)
	lastStart := alignDown(win.EndMin-1, size)
	n := int((lastStart-firstStart)/size) + 1

	buckets := make([]Bucket, n)
	for i := range buckets {
		start := firstStart + int64(i)*size
		buckets[i] = Bucket{
			StartMin: start,
			EndMin:   start + size,
			Stats:    make(map[model.Metric]*MetricStats),
		}
	}

	// Collect raw values per bucket per metric.
	values := make([]map[model.Metric][]float64, n)
	for i := range readings {
		r := &readings[i]
		ts := r.EpochMinute()
		if ts < win.StartMin || ts >= win.EndMin {
			continue
		}
		idx := int((alignDown(ts, size) - firstStart) / size)
		buckets[idx].Count++
		if values[idx] == nil {
			values[idx] = make(map[model.Metric][]float64)
		}
		for _, m := range metrics {
			if v, ok := r.Value(m); ok {
				values[idx][m] = append(values[idx][m], v)
			}
		}
	}

	for i := range buckets {
		for _, m := range metrics {
			vs := values[i][m]
			if len(vs) == 0 {
				continue // explicit no-data: metric stays absent
			}
			buckets[i].Stats[m] = computeStats(vs, percentiles)
		}
	}

	return buckets, nil
}

// computeStats computes the average and requested nearest-rank percentiles
// over the given values. The slice is sorted in place.
func computeStats(vs []float64, percentiles []Percentile) *MetricStats {
	sort.Float64s(vs)

	sum := 0.0
	for _, v := range vs {
		sum += v
	}

	stats := &MetricStats{
		Count: len(vs),
		Avg:   sum / float64(len(vs)),
	}

	if len(percentiles) > 0 {
		stats.Percentiles = make(map[Percentile]float64, len(percentiles))
		for _, p := range percentiles {
			stats.Percentiles[p] = NearestRank(vs, p)
		}
	}

	return stats
}

// NearestRank returns the nearest-rank percentile of the sorted values:
// rank = ceil(p/100 * n), 1-indexed, clamped to [1, n]. The computation is
// exact and deterministic; it never interpolates.
func NearestRank(sorted []float64, p Percentile) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}

	rank := (int(p)*n + 99) / 100 // integer ceil(p*n/100)
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}

// alignDown truncates an epoch-minute timestamp to the start of its bucket.
// Works for negative timestamps too (pre-1970), flooring rather than
// truncating toward zero.
func alignDown(ts, size int64) int64 {
	q := ts / size
	if ts%size < 0 {
		q--
	}
	return q * size
}
