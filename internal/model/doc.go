// Package model defines the core data types shared across the pipeline.
//
// Key types:
//   - Reading: a single environmental sensor reading, keyed by
//     (deviceID, day, minuteOfDay)
//   - SleepSession: an externally-synced sleep interval with stage durations
//   - Metric: an environmental metric identifier
package model
