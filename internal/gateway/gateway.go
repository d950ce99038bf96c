// Package gateway is the ingestion admission point. It authenticates the
// shared secret, validates the payload, and enqueues the reading; an accept
// acknowledges admission to the durable queue, never persistence.
package gateway

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/somnia/internal/errors"
	"github.com/xtxerr/somnia/internal/logging"
	"github.com/xtxerr/somnia/internal/model"
	"github.com/xtxerr/somnia/internal/queue"
)

// Enqueuer is the queue surface the gateway needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, r model.Reading) (uuid.UUID, error)
}

// Options configures a Gateway.
type Options struct {
	// Secret is the shared ingestion secret. Empty disables ingestion.
	Secret string

	// ClockSkew is the acceptance window around gateway time. A reading
	// timestamped outside [now-ClockSkew, now+ClockSkew] is rejected.
	ClockSkew time.Duration

	// EnqueueTimeout bounds how long admission may block on a full queue.
	EnqueueTimeout time.Duration
}

// Stats holds gateway counters. Safe for concurrent use.
type Stats struct {
	Accepted       atomic.Int64
	AuthFailed     atomic.Int64
	Invalid        atomic.Int64
	EnqueueTimeout atomic.Int64
	Sessions       atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Accepted       int64 `json:"accepted"`
	AuthFailed     int64 `json:"auth_failed"`
	Invalid        int64 `json:"invalid"`
	EnqueueTimeout int64 `json:"enqueue_timeout"`
	Sessions       int64 `json:"sessions"`
}

// Gateway validates and admits readings. Safe for concurrent use.
type Gateway struct {
	opts  Options
	queue Enqueuer
	log   *slog.Logger

	// now is the gateway clock; replaced in tests.
	now func() time.Time

	stats Stats
}

// New creates a Gateway in front of the given queue.
func New(q Enqueuer, opts Options) *Gateway {
	return &Gateway{
		opts:  opts,
		queue: q,
		log:   logging.Component("gateway"),
		now:   time.Now,
	}
}

// Authenticate checks the shared secret in constant time. The comparison
// cost must not reveal how many leading bytes matched.
func (g *Gateway) Authenticate(secret string) error {
	if g.opts.Secret == "" {
		return errors.Wrap(errors.ErrAuthFailed, "ingestion disabled: no secret configured")
	}
	if secret == "" {
		g.stats.AuthFailed.Add(1)
		return errors.ErrMissingSecret
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(g.opts.Secret)) != 1 {
		g.stats.AuthFailed.Add(1)
		return errors.ErrAuthFailed
	}
	return nil
}

// Admit authenticates, validates, and enqueues one reading. It returns the
// queue message ID on acceptance. A rejected reading is never enqueued; a
// full queue surfaces ErrEnqueueTimeout after the configured bound so the
// device can back off.
func (g *Gateway) Admit(ctx context.Context, secret string, body []byte) (uuid.UUID, error) {
	if err := g.Authenticate(secret); err != nil {
		return uuid.Nil, err
	}

	payload, err := ParseReadingPayload(body)
	if err != nil {
		g.stats.Invalid.Add(1)
		return uuid.Nil, err
	}

	r, err := payload.ToReading()
	if err != nil {
		g.stats.Invalid.Add(1)
		return uuid.Nil, err
	}

	if err := g.checkClockSkew(r); err != nil {
		g.stats.Invalid.Add(1)
		return uuid.Nil, err
	}

	enqueueCtx, cancel := context.WithTimeout(ctx, g.opts.EnqueueTimeout)
	defer cancel()

	id, err := g.queue.Enqueue(enqueueCtx, *r)
	if err != nil {
		if errors.Is(err, errors.ErrEnqueueTimeout) {
			g.stats.EnqueueTimeout.Add(1)
			g.log.Warn("queue full, rejecting reading",
				"device_id", r.DeviceID,
				"timeout", g.opts.EnqueueTimeout)
		}
		return uuid.Nil, err
	}

	g.stats.Accepted.Add(1)
	g.log.Debug("reading admitted",
		"id", id,
		"device_id", r.DeviceID,
		"day", r.Day,
		"minute", r.MinuteOfDay)
	return id, nil
}

// AdmitSession authenticates and validates one session payload from the
// external sync process. Sessions bypass the queue: the sync process is a
// trusted, low-volume writer and replays are idempotent at the store.
func (g *Gateway) AdmitSession(secret string, body []byte) (*model.SleepSession, error) {
	if err := g.Authenticate(secret); err != nil {
		return nil, err
	}

	payload, err := ParseSessionPayload(body)
	if err != nil {
		g.stats.Invalid.Add(1)
		return nil, err
	}

	s, err := payload.ToSession()
	if err != nil {
		g.stats.Invalid.Add(1)
		return nil, err
	}

	g.stats.Sessions.Add(1)
	return s, nil
}

// checkClockSkew rejects readings timestamped outside the acceptance window
// around gateway time. A device with a drifting clock would otherwise write
// into the wrong minute slots and quietly corrupt aggregates.
func (g *Gateway) checkClockSkew(r *model.Reading) error {
	if g.opts.ClockSkew <= 0 {
		return nil
	}

	ts := r.Time()
	now := g.now()
	if ts.Before(now.Add(-g.opts.ClockSkew)) || ts.After(now.Add(g.opts.ClockSkew)) {
		return errors.Wrapf(errors.ErrClockSkew,
			"reading at %s, gateway time %s, window ±%s",
			ts.Format(time.RFC3339), now.UTC().Format(time.RFC3339), g.opts.ClockSkew)
	}
	return nil
}

// Stats returns a snapshot of the gateway counters.
func (g *Gateway) Stats() StatsSnapshot {
	return StatsSnapshot{
		Accepted:       g.stats.Accepted.Load(),
		AuthFailed:     g.stats.AuthFailed.Load(),
		Invalid:        g.stats.Invalid.Load(),
		EnqueueTimeout: g.stats.EnqueueTimeout.Load(),
		Sessions:       g.stats.Sessions.Load(),
	}
}

var _ Enqueuer = (*queue.Queue)(nil)
