package loader

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}
	if err := c.Gateway.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("gateway: %w", err))
	}
	if err := c.Queue.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("queue: %w", err))
	}
	if err := c.Writer.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("writer: %w", err))
	}
	if err := c.Store.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if err := c.Query.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("query: %w", err))
	}
	if err := c.Archive.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("archive: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen is required"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max_body_bytes must be positive"))
	}
	if c.DrainTimeout <= 0 {
		errs = append(errs, errors.New("drain_timeout must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the gateway configuration.
func (c *GatewayConfig) Validate() error {
	var errs []error

	if c.Secret == "" {
		errs = append(errs, errors.New("secret is required (set SOMNIA_INGEST_SECRET)"))
	}
	if c.ClockSkew <= 0 {
		errs = append(errs, errors.New("clock_skew must be positive"))
	}
	if c.EnqueueTimeout <= 0 {
		errs = append(errs, errors.New("enqueue_timeout must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the queue configuration.
func (c *QueueConfig) Validate() error {
	var errs []error

	if c.Depth <= 0 {
		errs = append(errs, errors.New("depth must be positive"))
	}
	if c.SegmentSize <= 0 {
		errs = append(errs, errors.New("segment_size must be positive"))
	}
	if c.RedeliveryDelay <= 0 {
		errs = append(errs, errors.New("redelivery_delay must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the writer configuration.
func (c *WriterConfig) Validate() error {
	var errs []error

	if c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	if c.RetryBudget <= 0 {
		errs = append(errs, errors.New("retry_budget must be positive"))
	}
	if c.RetryBaseDelay <= 0 {
		errs = append(errs, errors.New("retry_base_delay must be positive"))
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		errs = append(errs, errors.New("retry_max_delay must be >= retry_base_delay"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the store configuration.
func (c *StoreConfig) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	return nil
}

// Validate checks the query configuration.
func (c *QueryConfig) Validate() error {
	var errs []error

	if c.MaxWindowDays <= 0 {
		errs = append(errs, errors.New("max_window_days must be positive"))
	}
	if c.MaxPoints <= 0 {
		errs = append(errs, errors.New("max_points must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the archive configuration.
func (c *ArchiveConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error

	if c.HotDays <= 0 {
		errs = append(errs, errors.New("hot_days must be positive"))
	}
	if c.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
