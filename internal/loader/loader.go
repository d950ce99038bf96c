// Package loader loads the somnia application configuration.
//
// Configuration is layered: documented defaults, then a YAML config file,
// then environment variables (SOMNIA_* prefix). Environment wins so secrets
// never need to live in the file.
package loader

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/xtxerr/somnia/config"
)

// Config is the complete application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Gateway GatewayConfig `yaml:"gateway"`
	Queue   QueueConfig   `yaml:"queue"`
	Writer  WriterConfig  `yaml:"writer"`
	Store   StoreConfig   `yaml:"store"`
	Query   QueryConfig   `yaml:"query"`
	Archive ArchiveConfig `yaml:"archive"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" env:"SOMNIA_LISTEN"`

	// MaxBodyBytes limits ingestion request body size.
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"SOMNIA_MAX_BODY_BYTES"`

	// DrainTimeout bounds graceful shutdown.
	DrainTimeout time.Duration `yaml:"drain_timeout" env:"SOMNIA_DRAIN_TIMEOUT"`
}

// GatewayConfig configures the ingestion gateway.
type GatewayConfig struct {
	// Secret is the shared ingestion secret. Environment only; a value in
	// the YAML file is honored but discouraged.
	Secret string `yaml:"secret" env:"SOMNIA_INGEST_SECRET"`

	// ClockSkew is the acceptance window around gateway time.
	ClockSkew time.Duration `yaml:"clock_skew" env:"SOMNIA_CLOCK_SKEW"`

	// EnqueueTimeout bounds how long admit may block on a full queue.
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout" env:"SOMNIA_ENQUEUE_TIMEOUT"`
}

// QueueConfig configures the durable queue.
type QueueConfig struct {
	// Dir is the journal directory. Defaults to {store.data_dir}/queue.
	Dir string `yaml:"dir" env:"SOMNIA_QUEUE_DIR"`

	// Depth is the in-flight channel capacity.
	Depth int `yaml:"depth" env:"SOMNIA_QUEUE_DEPTH"`

	// SegmentSize is the maximum journal segment size before rotation.
	SegmentSize int64 `yaml:"segment_size"`

	// RedeliveryDelay is how long an unacked message waits before redelivery.
	RedeliveryDelay time.Duration `yaml:"redelivery_delay"`
}

// WriterConfig configures the persistence writer.
type WriterConfig struct {
	// Workers is the number of concurrent persistence workers.
	Workers int `yaml:"workers" env:"SOMNIA_WRITER_WORKERS"`

	// RetryBudget is the number of apply attempts before dead-lettering.
	RetryBudget int `yaml:"retry_budget"`

	// RetryBaseDelay is the initial backoff delay.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	// RetryMaxDelay caps the exponential backoff.
	RetryMaxDelay time.Duration `yaml:"retry_max_delay"`
}

// StoreConfig configures the time-series store.
type StoreConfig struct {
	// DataDir is the root directory for all storage files.
	DataDir string `yaml:"data_dir" env:"SOMNIA_DATA_DIR"`

	// Path is the SQLite database path. Defaults to {data_dir}/somnia.db.
	Path string `yaml:"path" env:"SOMNIA_DB_PATH"`
}

// QueryConfig configures the query service.
type QueryConfig struct {
	// MaxWindowDays is the maximum query span in calendar days.
	MaxWindowDays int `yaml:"max_window_days" env:"SOMNIA_MAX_WINDOW_DAYS"`

	// MaxPoints is the maximum working-set size for one query.
	MaxPoints int `yaml:"max_points" env:"SOMNIA_MAX_POINTS"`
}

// ArchiveConfig configures cold-partition export.
type ArchiveConfig struct {
	// Enabled turns on the parquet archiver.
	Enabled bool `yaml:"enabled" env:"SOMNIA_ARCHIVE_ENABLED"`

	// Dir is the parquet directory. Defaults to {store.data_dir}/archive.
	Dir string `yaml:"dir" env:"SOMNIA_ARCHIVE_DIR"`

	// HotDays is how many trailing days stay in SQLite.
	HotDays int `yaml:"hot_days" env:"SOMNIA_ARCHIVE_HOT_DAYS"`

	// Interval is how often the archiver scans for eligible partitions.
	Interval time.Duration `yaml:"interval"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"SOMNIA_LOG_LEVEL"`

	// JSON selects JSON output instead of text.
	JSON bool `yaml:"json" env:"SOMNIA_LOG_JSON"`
}

// DefaultConfig returns a configuration with all documented defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:       config.DefaultListenAddress,
			MaxBodyBytes: config.DefaultMaxBodyBytes,
			DrainTimeout: config.DefaultDrainTimeout,
		},
		Gateway: GatewayConfig{
			ClockSkew:      config.DefaultClockSkew,
			EnqueueTimeout: config.DefaultEnqueueTimeout,
		},
		Queue: QueueConfig{
			Depth:           config.DefaultQueueDepth,
			SegmentSize:     config.DefaultQueueSegmentSize,
			RedeliveryDelay: config.DefaultRedeliveryDelay,
		},
		Writer: WriterConfig{
			Workers:        config.DefaultWriterWorkers,
			RetryBudget:    config.DefaultRetryBudget,
			RetryBaseDelay: config.DefaultRetryBaseDelay,
			RetryMaxDelay:  config.DefaultRetryMaxDelay,
		},
		Store: StoreConfig{
			DataDir: "data",
		},
		Query: QueryConfig{
			MaxWindowDays: config.DefaultMaxWindowDays,
			MaxPoints:     config.DefaultMaxPoints,
		},
		Archive: ArchiveConfig{
			HotDays:  config.DefaultHotDays,
			Interval: config.DefaultArchiveInterval,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML config file (if present), applies environment
// overrides, fills in derived defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No file: defaults + environment only.
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SetDataDir moves the storage root after loading, re-deriving every path
// that still points at the previous root. Paths configured explicitly by
// file or environment are left alone.
func (c *Config) SetDataDir(dir string) {
	old := c.Store.DataDir
	c.Store.DataDir = dir
	if c.Store.Path == old+"/somnia.db" {
		c.Store.Path = ""
	}
	if c.Queue.Dir == old+"/queue" {
		c.Queue.Dir = ""
	}
	if c.Archive.Dir == old+"/archive" {
		c.Archive.Dir = ""
	}
	c.applyDerived()
}

// applyDerived fills in paths derived from DataDir when unset.
func (c *Config) applyDerived() {
	if c.Store.Path == "" {
		c.Store.Path = c.Store.DataDir + "/somnia.db"
	}
	if c.Queue.Dir == "" {
		c.Queue.Dir = c.Store.DataDir + "/queue"
	}
	if c.Archive.Dir == "" {
		c.Archive.Dir = c.Store.DataDir + "/archive"
	}
}
