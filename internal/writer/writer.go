// Package writer drains the durable queue into the time-series store.
//
// A bounded pool of workers repeatedly dequeues, applies the idempotent
// upsert, and acks. A failed apply retries in place with bounded exponential
// backoff; when the retry budget is exhausted the message is dead-lettered
// with its failure reason and the worker moves on. Because the store apply
// is idempotent, at-least-once delivery from the queue is safe.
package writer

import (
	"context"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/somnia/internal/errors"
	"github.com/xtxerr/somnia/internal/logging"
	"github.com/xtxerr/somnia/internal/model"
	"github.com/xtxerr/somnia/internal/queue"
)

// Source is the queue surface the writer consumes.
type Source interface {
	Dequeue(ctx context.Context) (*queue.Message, error)
	Ack(id uuid.UUID) error
	Nack(id uuid.UUID) error
	DeadLetter(id uuid.UUID, reason string) error
}

// Applier is the store surface the writer drives.
type Applier interface {
	Upsert(ctx context.Context, r *model.Reading) error
}

// Options configures the Writer.
type Options struct {
	// Workers is the number of concurrent persistence workers.
	Workers int

	// RetryBudget is the number of apply attempts before dead-lettering.
	RetryBudget int

	// RetryBaseDelay is the initial backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the exponential backoff.
	RetryMaxDelay time.Duration
}

// Stats holds writer counters. Safe for concurrent use.
type Stats struct {
	Applied     atomic.Int64
	Retried     atomic.Int64
	DeadLetters atomic.Int64
	Errors      atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the counters, with apply-latency
// quantiles from the observability sketch.
type StatsSnapshot struct {
	Applied     int64 `json:"applied"`
	Retried     int64 `json:"retried"`
	DeadLetters int64 `json:"dead_letters"`
	Errors      int64 `json:"errors"`

	ApplyP50Ms float64 `json:"apply_p50_ms"`
	ApplyP99Ms float64 `json:"apply_p99_ms"`
}

// Writer is the persistence stage. Start launches the worker pool; Stop
// waits for in-flight applies to finish.
type Writer struct {
	opts   Options
	source Source
	store  Applier
	log    *slog.Logger

	latency *latencySketch

	cancel context.CancelFunc
	group  *errgroup.Group

	stats Stats
}

// New creates a Writer between the queue and the store.
func New(source Source, store Applier, opts Options) *Writer {
	return &Writer{
		opts:    opts,
		source:  source,
		store:   store,
		log:     logging.Component("writer"),
		latency: newLatencySketch(),
	}
}

// Start launches the worker pool.
func (w *Writer) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.group, ctx = errgroup.WithContext(ctx)

	for i := 0; i < w.opts.Workers; i++ {
		worker := i
		w.group.Go(func() error {
			w.run(ctx, worker)
			return nil
		})
	}

	w.log.Info("writer started", "workers", w.opts.Workers)
}

// Stop cancels the workers and waits for them to drain.
func (w *Writer) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.group != nil {
		w.group.Wait()
	}
	w.log.Info("writer stopped")
}

// run is one worker's dequeue-apply-ack loop.
func (w *Writer) run(ctx context.Context, worker int) {
	for {
		m, err := w.source.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, errors.ErrQueueClosed) {
				return
			}
			w.stats.Errors.Add(1)
			w.log.Error("dequeue failed", "worker", worker, "error", err)
			continue
		}

		w.process(ctx, m)
	}
}

// process applies one message within the retry budget.
func (w *Writer) process(ctx context.Context, m *queue.Message) {
	var lastErr error

	for attempt := 1; attempt <= w.opts.RetryBudget; attempt++ {
		start := time.Now()
		err := w.store.Upsert(ctx, &m.Reading)
		if err == nil {
			w.latency.record(float64(time.Since(start).Microseconds()) / 1000.0)
			if ackErr := w.source.Ack(m.ID); ackErr != nil {
				// The row is stored; a lost ack only means a redundant
				// replay, which the idempotent upsert absorbs.
				w.stats.Errors.Add(1)
				w.log.Warn("ack failed after apply", "id", m.ID, "error", ackErr)
			}
			w.stats.Applied.Add(1)
			return
		}

		lastErr = err
		w.stats.Errors.Add(1)

		if ctx.Err() != nil {
			// Shutting down mid-retry: hand the message back for a later
			// delivery instead of burning the remaining budget.
			if nackErr := w.source.Nack(m.ID); nackErr != nil {
				w.log.Warn("nack on shutdown failed", "id", m.ID, "error", nackErr)
			}
			return
		}

		if attempt < w.opts.RetryBudget {
			w.stats.Retried.Add(1)
			delay := Backoff(attempt, w.opts.RetryBaseDelay, w.opts.RetryMaxDelay)
			w.log.Debug("apply failed, backing off",
				"id", m.ID,
				"key", m.Reading.Key(),
				"attempt", attempt,
				"delay", delay,
				"error", err)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				if nackErr := w.source.Nack(m.ID); nackErr != nil {
					w.log.Warn("nack on shutdown failed", "id", m.ID, "error", nackErr)
				}
				return
			}
		}
	}

	reason := errors.Wrapf(errors.ErrRetryBudgetExhausted,
		"%d attempts, last: %v", w.opts.RetryBudget, lastErr).Error()
	if err := w.source.DeadLetter(m.ID, reason); err != nil {
		w.stats.Errors.Add(1)
		w.log.Error("dead-letter failed", "id", m.ID, "error", err)
		return
	}

	w.stats.DeadLetters.Add(1)
	w.log.Error("message dead-lettered",
		"id", m.ID,
		"key", m.Reading.Key(),
		"attempts", w.opts.RetryBudget,
		"error", lastErr)
}

// Backoff returns the delay before the given retry attempt (1-based):
// base doubled per attempt, capped, with ±20% jitter so a burst of failing
// messages does not retry in lockstep.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := base << (attempt - 1)
	if d > max || d <= 0 {
		d = max
	}

	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * jitter)
}

// Stats returns a snapshot of the writer counters.
func (w *Writer) Stats() StatsSnapshot {
	p50, p99 := w.latency.quantiles()
	return StatsSnapshot{
		Applied:     w.stats.Applied.Load(),
		Retried:     w.stats.Retried.Load(),
		DeadLetters: w.stats.DeadLetters.Load(),
		Errors:      w.stats.Errors.Load(),
		ApplyP50Ms:  p50,
		ApplyP99Ms:  p99,
	}
}
