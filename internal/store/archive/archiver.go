// Package archive exports cold day partitions from SQLite to Parquet and
// serves range scans over the exported files through DuckDB.
//
// The hot tier (SQLite) keeps a trailing window of days for fast writes and
// scans; anything older is rewritten as one Parquet file per day and dropped
// from SQLite. A query window reaching past the hot tier stitches cold rows
// in front of hot rows.
package archive

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/somnia/internal/logging"
	"github.com/xtxerr/somnia/internal/model"
	"github.com/xtxerr/somnia/internal/store"
)

// Options configures the Archiver.
type Options struct {
	// Dir is the directory holding one Parquet file per archived day.
	Dir string

	// HotDays is how many trailing days stay in SQLite. Days strictly
	// older than today-HotDays are eligible for export.
	HotDays int

	// Interval is how often the archiver scans for eligible partitions.
	Interval time.Duration
}

// Stats holds archiver counters. Safe for concurrent use.
type Stats struct {
	DaysArchived atomic.Int64
	RowsArchived atomic.Int64
	Errors       atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	DaysArchived int64 `json:"days_archived"`
	RowsArchived int64 `json:"rows_archived"`
	Errors       int64 `json:"errors"`
}

// Archiver moves cold day partitions out of the hot store.
type Archiver struct {
	store *store.Store
	opts  Options
	log   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats Stats
}

// New creates an Archiver over the given store.
func New(s *store.Store, opts Options) *Archiver {
	return &Archiver{
		store: s,
		opts:  opts,
		log:   logging.Component("archive"),
	}
}

// Start launches the periodic archive loop.
func (a *Archiver) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ticker := time.NewTicker(a.opts.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := a.RunOnce(ctx); err != nil && ctx.Err() == nil {
					a.log.Error("archive pass failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the archive loop and waits for an in-flight pass to finish.
func (a *Archiver) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

// RunOnce archives every eligible day partition. A day is exported to its
// Parquet file first and deleted from SQLite only after the file has been
// renamed into place, so a crash between the two steps duplicates data
// rather than losing it (and the idempotent cold/hot stitch tolerates the
// duplicate until the next pass deletes it).
func (a *Archiver) RunOnce(ctx context.Context) error {
	cutoff := CutoffDay(time.Now().UTC(), a.opts.HotDays)

	days, err := a.store.ListDays(ctx)
	if err != nil {
		a.stats.Errors.Add(1)
		return err
	}

	for _, day := range days {
		if day >= cutoff {
			continue
		}
		if err := a.archiveDay(ctx, day); err != nil {
			a.stats.Errors.Add(1)
			return err
		}
	}
	return nil
}

func (a *Archiver) archiveDay(ctx context.Context, day string) error {
	readings, err := a.store.ReadDay(ctx, day)
	if err != nil {
		return err
	}

	path := filepath.Join(a.opts.Dir, DayFileName(day))
	rows, err := WriteDayFile(path, readings)
	if err != nil {
		return err
	}

	deleted, err := a.store.DeleteDay(ctx, day)
	if err != nil {
		return err
	}

	a.stats.DaysArchived.Add(1)
	a.stats.RowsArchived.Add(rows)
	a.log.Info("archived day partition",
		"day", day,
		"rows", rows,
		"deleted", deleted,
		"path", path)
	return nil
}

// Stats returns a snapshot of the archiver counters.
func (a *Archiver) Stats() StatsSnapshot {
	return StatsSnapshot{
		DaysArchived: a.stats.DaysArchived.Load(),
		RowsArchived: a.stats.RowsArchived.Load(),
		Errors:       a.stats.Errors.Load(),
	}
}

// CutoffDay returns the first day that stays hot: days strictly before it
// are eligible for archiving.
func CutoffDay(now time.Time, hotDays int) string {
	return now.AddDate(0, 0, -hotDays).Format(model.DayLayout)
}
