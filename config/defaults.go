// Package config provides configuration defaults and utilities
// for the somnia application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or environment variables.
package config

import "time"

// =============================================================================
// Network Defaults
// =============================================================================

const (
	// DefaultListenAddress is the default HTTP listen address.
	// Override via config: server.listen
	DefaultListenAddress = "0.0.0.0:9640"

	// DefaultMaxBodyBytes limits ingestion request body size to prevent OOM.
	// A single reading is a few hundred bytes; 64 KiB leaves room for batches.
	// Override via config: server.max_body_bytes
	DefaultMaxBodyBytes = 64 * 1024

	// DefaultReadHeaderTimeout bounds slow-header clients.
	DefaultReadHeaderTimeout = 10 * time.Second
)

// =============================================================================
// Gateway Defaults
// =============================================================================

const (
	// DefaultSecretHeader is the header carrying the ingestion shared secret.
	DefaultSecretHeader = "X-Secret"

	// DefaultClockSkew is the acceptance window around gateway time for
	// inbound reading timestamps. Readings outside it are rejected as
	// validation errors; they are never enqueued.
	// Override via config: gateway.clock_skew
	DefaultClockSkew = 15 * time.Minute

	// DefaultEnqueueTimeout bounds how long an admit call may block on a
	// full queue before returning a retryable error to the producer.
	// Override via config: gateway.enqueue_timeout
	DefaultEnqueueTimeout = 2 * time.Second

	// DefaultAuthFailureLimit is the number of failed authentications from
	// one IP before further requests are rejected for the window.
	DefaultAuthFailureLimit = 10

	// DefaultAuthFailureWindow is the counting window for auth failures.
	DefaultAuthFailureWindow = time.Minute
)

// =============================================================================
// Queue Defaults
// =============================================================================

const (
	// DefaultQueueDepth is the in-flight message channel capacity.
	// When full, enqueue blocks until the enqueue timeout.
	// Override via config: queue.depth
	DefaultQueueDepth = 4096

	// DefaultQueueSegmentSize is the maximum journal segment size before
	// rotation.
	// Override via config: queue.segment_size
	DefaultQueueSegmentSize = 16 * 1024 * 1024

	// DefaultRedeliveryDelay is how long an unacked message waits before
	// redelivery.
	// Override via config: queue.redelivery_delay
	DefaultRedeliveryDelay = 5 * time.Second
)

// =============================================================================
// Writer Defaults
// =============================================================================

const (
	// DefaultWriterWorkers is the number of concurrent persistence workers.
	// Each message maps to an independent partition key, so workers never
	// contend on row identity.
	// Override via config: writer.workers
	DefaultWriterWorkers = 4

	// DefaultRetryBudget is the number of apply attempts before a message is
	// dead-lettered. It is never silently dropped.
	// Override via config: writer.retry_budget
	DefaultRetryBudget = 5

	// DefaultRetryBaseDelay is the initial backoff delay after a transient
	// store failure. Doubles per attempt up to DefaultRetryMaxDelay,
	// with +/-20% jitter.
	// Override via config: writer.retry_base_delay
	DefaultRetryBaseDelay = 100 * time.Millisecond

	// DefaultRetryMaxDelay caps the exponential backoff.
	// Override via config: writer.retry_max_delay
	DefaultRetryMaxDelay = 5 * time.Second
)

// =============================================================================
// Query Defaults
// =============================================================================

const (
	// DefaultMaxWindowDays is the maximum query window span in calendar days.
	// Oversized requests are rejected, not truncated.
	// Override via config: query.max_window_days
	DefaultMaxWindowDays = 31

	// DefaultMaxPoints is the maximum working-set size for a single
	// aggregation query. Exact nearest-rank percentiles require the full
	// sample set in memory, so this bounds per-query cost.
	// Override via config: query.max_points
	DefaultMaxPoints = 100000
)

// =============================================================================
// Archive Defaults
// =============================================================================

const (
	// DefaultHotDays is how many trailing calendar days stay in SQLite
	// before a day partition is exported to parquet and pruned.
	// Override via config: archive.hot_days
	DefaultHotDays = 90

	// DefaultArchiveInterval is how often the archiver scans for day
	// partitions eligible for export.
	// Override via config: archive.interval
	DefaultArchiveInterval = time.Hour
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultDrainTimeout is how long to wait for in-flight applies during
	// shutdown. This follows the Kubernetes convention
	// (terminationGracePeriodSeconds = 30s).
	DefaultDrainTimeout = 30 * time.Second
)
