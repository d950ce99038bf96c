// Package aggregate implements the pure aggregation engine.
//
// All functions here are pure: they operate on already-fetched slices and
// never touch the store. A query fetches its complete working set first,
// because exact nearest-rank percentiles require the final sample count.
//
// Key operations:
//   - Bucketize: fixed-width, left-aligned buckets with exact nearest-rank
//     percentiles per metric
//   - Summarize: whole-window min/max/population standard deviation
//   - Correlate: per-sleep-session environment aggregates
//   - WeekOverWeek: week deltas with documented trend epsilons
//
// Invalid parameters (bad bucket size, inverted window) are contract
// violations and fail immediately. Genuinely empty data within valid
// parameters produces explicit no-data results, never an error and never
// a fabricated zero.
package aggregate
