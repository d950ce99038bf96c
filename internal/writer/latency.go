package writer

import (
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"
)

// latencySketch tracks apply-latency quantiles with a DDSketch. This is
// observability only: query-facing percentiles over readings are computed
// exactly elsewhere, never from a sketch.
type latencySketch struct {
	mu     sync.Mutex
	sketch *ddsketch.DDSketch
}

func newLatencySketch() *latencySketch {
	// 1% relative accuracy is plenty for latency reporting.
	sketch, err := ddsketch.NewDefaultDDSketch(0.01)
	if err != nil {
		// Only reachable with an invalid accuracy constant.
		panic(err)
	}
	return &latencySketch{sketch: sketch}
}

// record adds one apply duration in milliseconds.
func (l *latencySketch) record(ms float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	// Add only fails for non-positive values with certain mappings;
	// clamp instead of dropping the sample.
	if ms <= 0 {
		ms = 0.001
	}
	_ = l.sketch.Add(ms)
}

// quantiles returns the p50 and p99 apply latency in milliseconds, or zeros
// before any sample has been recorded.
func (l *latencySketch) quantiles() (p50, p99 float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sketch.GetCount() == 0 {
		return 0, 0
	}

	v50, err := l.sketch.GetValueAtQuantile(0.5)
	if err == nil {
		p50 = v50
	}
	v99, err := l.sketch.GetValueAtQuantile(0.99)
	if err == nil {
		p99 = v99
	}
	return p50, p99
}
