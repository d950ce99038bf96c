// Package service assembles the full pipeline: gateway, durable queue,
// persistence writer, day-partitioned store, archiver, query service, and
// the HTTP server, with one Start/Stop lifecycle.
package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/xtxerr/somnia/internal/gateway"
	"github.com/xtxerr/somnia/internal/loader"
	"github.com/xtxerr/somnia/internal/logging"
	"github.com/xtxerr/somnia/internal/query"
	"github.com/xtxerr/somnia/internal/queue"
	"github.com/xtxerr/somnia/internal/server"
	"github.com/xtxerr/somnia/internal/store"
	"github.com/xtxerr/somnia/internal/store/archive"
	"github.com/xtxerr/somnia/internal/writer"
)

var log = logging.Component("service")

// Service is the assembled pipeline.
type Service struct {
	cfg *loader.Config

	store    *store.Store
	dead     *queue.DeadLetters
	queue    *queue.Queue
	gateway  *gateway.Gateway
	writer   *writer.Writer
	cold     *archive.ColdReader
	archiver *archive.Archiver
	queries  *query.Service
	httpSrv  *server.Server

	running   atomic.Bool
	cancel    context.CancelFunc
	startTime time.Time
}

// New creates the pipeline from configuration. Nothing runs until Start.
func New(cfg *loader.Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	dead, err := queue.OpenDeadLetters(filepath.Join(cfg.Queue.Dir, "dead"), cfg.Queue.SegmentSize)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open dead letters: %w", err)
	}

	q, err := queue.Open(cfg.Queue.Dir, dead, queue.Options{
		Depth:           cfg.Queue.Depth,
		SegmentSize:     cfg.Queue.SegmentSize,
		RedeliveryDelay: cfg.Queue.RedeliveryDelay,
	})
	if err != nil {
		dead.Close()
		st.Close()
		return nil, fmt.Errorf("open queue: %w", err)
	}

	gw := gateway.New(q, gateway.Options{
		Secret:         cfg.Gateway.Secret,
		ClockSkew:      cfg.Gateway.ClockSkew,
		EnqueueTimeout: cfg.Gateway.EnqueueTimeout,
	})

	wr := writer.New(q, st, writer.Options{
		Workers:        cfg.Writer.Workers,
		RetryBudget:    cfg.Writer.RetryBudget,
		RetryBaseDelay: cfg.Writer.RetryBaseDelay,
		RetryMaxDelay:  cfg.Writer.RetryMaxDelay,
	})

	svc := &Service{
		cfg:     cfg,
		store:   st,
		dead:    dead,
		queue:   q,
		gateway: gw,
		writer:  wr,
	}

	var coldStore query.ColdStore
	if cfg.Archive.Enabled {
		cold, err := archive.NewColdReader(cfg.Archive.Dir)
		if err != nil {
			svc.closeStorage()
			return nil, fmt.Errorf("open cold reader: %w", err)
		}
		svc.cold = cold
		coldStore = cold
		svc.archiver = archive.New(st, archive.Options{
			Dir:      cfg.Archive.Dir,
			HotDays:  cfg.Archive.HotDays,
			Interval: cfg.Archive.Interval,
		})
	}

	svc.queries = query.New(st, coldStore, query.Options{
		MaxWindowDays: cfg.Query.MaxWindowDays,
		MaxPoints:     cfg.Query.MaxPoints,
	})

	httpCfg := server.DefaultConfig()
	httpCfg.Listen = cfg.Server.Listen
	httpCfg.MaxBodyBytes = cfg.Server.MaxBodyBytes
	httpCfg.DrainTimeout = cfg.Server.DrainTimeout
	svc.httpSrv = server.New(httpCfg, gw, svc.queries, st, dead, svc.Stats)

	return svc, nil
}

// Start launches the writer pool, the archiver, and the HTTP listener.
// It blocks until the listener exits.
func (s *Service) Start() error {
	if s.running.Load() {
		return fmt.Errorf("service already running")
	}
	s.running.Store(true)
	s.startTime = time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.writer.Start(ctx)
	if s.archiver != nil {
		s.archiver.Start(ctx)
	}

	log.Info("pipeline started",
		"listen", s.cfg.Server.Listen,
		"queue_dir", s.cfg.Queue.Dir,
		"store", s.cfg.Store.Path,
		"archive", s.cfg.Archive.Enabled,
	)

	return s.httpSrv.Run()
}

// Stop shuts the pipeline down in reverse dependency order: stop admitting,
// drain the writer, then close storage. Unprocessed queue entries stay
// journaled and are recovered on the next start.
func (s *Service) Stop() error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	s.httpSrv.Shutdown()

	if s.archiver != nil {
		s.archiver.Stop()
	}
	s.writer.Stop()
	s.cancel()

	var errs []error
	if err := s.queue.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close queue: %w", err))
	}
	s.closeStorageErrs(&errs)

	if len(errs) > 0 {
		return fmt.Errorf("stop errors: %v", errs)
	}
	log.Info("pipeline stopped", "uptime", time.Since(s.startTime).Round(time.Second))
	return nil
}

func (s *Service) closeStorage() {
	var errs []error
	s.closeStorageErrs(&errs)
	for _, err := range errs {
		log.Warn("close failed", "error", err)
	}
}

func (s *Service) closeStorageErrs(errs *[]error) {
	if s.cold != nil {
		if err := s.cold.Close(); err != nil {
			*errs = append(*errs, fmt.Errorf("close cold reader: %w", err))
		}
	}
	if err := s.dead.Close(); err != nil {
		*errs = append(*errs, fmt.Errorf("close dead letters: %w", err))
	}
	if err := s.store.Close(); err != nil {
		*errs = append(*errs, fmt.Errorf("close store: %w", err))
	}
}

// Stats aggregates every component's counters into one document.
func (s *Service) Stats() map[string]interface{} {
	doc := map[string]interface{}{
		"uptime_s": int64(time.Since(s.startTime).Seconds()),
		"gateway":  s.gateway.Stats(),
		"queue":    s.queue.Stats(),
		"writer":   s.writer.Stats(),
		"store":    s.store.Stats(),
		"query":    s.queries.Stats(),
	}
	if s.archiver != nil {
		doc["archive"] = s.archiver.Stats()
	}
	return doc
}
