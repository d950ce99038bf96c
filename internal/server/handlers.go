package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/xtxerr/somnia/config"
	"github.com/xtxerr/somnia/internal/aggregate"
	"github.com/xtxerr/somnia/internal/errors"
	"github.com/xtxerr/somnia/internal/model"
	"github.com/xtxerr/somnia/internal/query"
	"github.com/xtxerr/somnia/internal/queue"
)

// SecretHeader is the request header carrying the ingestion shared secret.
const SecretHeader = config.DefaultSecretHeader

// SessionStore persists externally synced sleep sessions.
type SessionStore interface {
	PutSession(ctx context.Context, sess *model.SleepSession) error
}

// DeadLetterLister exposes the dead-letter journal for inspection.
type DeadLetterLister interface {
	List() ([]queue.DeadLetter, error)
}

// StatsFunc returns the operational counters document served by /v1/stats.
type StatsFunc func() map[string]interface{}

// =============================================================================
// Response helpers
// =============================================================================

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errors.HTTPStatus(err), errorResponse{Error: err.Error()})
}

// =============================================================================
// Write path: ingest and sessions
// =============================================================================

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, errors.Wrap(errors.ErrMalformedPayload, "read body"))
		return nil, false
	}
	return body, true
}

// checkBlocked enforces the failed-auth rate limiter before any work.
func (s *Server) checkBlocked(w http.ResponseWriter, r *http.Request) (string, bool) {
	ip := extractIP(r.RemoteAddr)
	if s.limiter != nil && s.limiter.IsBlocked(ip) {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many failed authentication attempts"})
		return ip, false
	}
	return ip, true
}

func (s *Server) recordAuthOutcome(ip string, err error) {
	if s.limiter == nil {
		return
	}
	if errors.IsAuth(err) {
		s.limiter.RecordFailure(ip)
		return
	}
	if err == nil {
		s.limiter.Reset(ip)
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ip, ok := s.checkBlocked(w, r)
	if !ok {
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	id, err := s.gw.Admit(r.Context(), r.Header.Get(SecretHeader), body)
	s.recordAuthOutcome(ip, err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id.String()})
}

func (s *Server) handlePutSession(w http.ResponseWriter, r *http.Request) {
	ip, ok := s.checkBlocked(w, r)
	if !ok {
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	sess, err := s.gw.AdmitSession(r.Header.Get(SecretHeader), body)
	s.recordAuthOutcome(ip, err)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.sessions.PutSession(r.Context(), sess); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"session_id": sess.SessionID})
}

// =============================================================================
// Read path: query surface
// =============================================================================

// parseWindow reads the query window from either from/to epoch minutes or a
// single day=YYYY-MM-DD shorthand.
func parseWindow(r *http.Request) (aggregate.Window, error) {
	q := r.URL.Query()

	if day := q.Get("day"); day != "" {
		start, err := model.EpochMinuteOf(day, 0)
		if err != nil {
			return aggregate.Window{}, errors.NewInvalidValue("day", day, "must be YYYY-MM-DD")
		}
		return aggregate.Window{StartMin: start, EndMin: start + model.MinutesPerDay}, nil
	}

	from, err := strconv.ParseInt(q.Get("from"), 10, 64)
	if err != nil {
		return aggregate.Window{}, errors.NewInvalidValue("from", q.Get("from"), "must be an epoch minute")
	}
	to, err := strconv.ParseInt(q.Get("to"), 10, 64)
	if err != nil {
		return aggregate.Window{}, errors.NewInvalidValue("to", q.Get("to"), "must be an epoch minute")
	}
	return aggregate.Window{StartMin: from, EndMin: to}, nil
}

func parseMetrics(r *http.Request) ([]model.Metric, error) {
	raw := r.URL.Query().Get("metrics")
	if raw == "" {
		return nil, nil // aggregation defaults to all metrics
	}
	var metrics []model.Metric
	for _, name := range strings.Split(raw, ",") {
		m, err := model.ParseMetric(strings.TrimSpace(name))
		if err != nil {
			return nil, errors.NewInvalidValue("metrics", name, "unknown metric")
		}
		metrics = append(metrics, m)
	}
	return metrics, nil
}

func parsePercentiles(r *http.Request) ([]aggregate.Percentile, error) {
	raw := r.URL.Query().Get("percentiles")
	if raw == "" {
		return aggregate.AllPercentiles(), nil
	}
	var ps []aggregate.Percentile
	for _, name := range strings.Split(raw, ",") {
		p, err := aggregate.ParsePercentile(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return ps, nil
}

func (s *Server) handleBuckets(w http.ResponseWriter, r *http.Request) {
	win, err := parseWindow(r)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics, err := parseMetrics(r)
	if err != nil {
		writeError(w, err)
		return
	}
	percentiles, err := parsePercentiles(r)
	if err != nil {
		writeError(w, err)
		return
	}
	bucketSize, err := strconv.Atoi(r.URL.Query().Get("bucket"))
	if err != nil {
		writeError(w, errors.NewInvalidValue("bucket", r.URL.Query().Get("bucket"), "must be minutes"))
		return
	}

	buckets, err := s.queries.Buckets(r.Context(), query.BucketRequest{
		DeviceID:      mux.Vars(r)["device"],
		Window:        win,
		BucketSizeMin: bucketSize,
		Metrics:       metrics,
		Percentiles:   percentiles,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	win, err := parseWindow(r)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics, err := parseMetrics(r)
	if err != nil {
		writeError(w, err)
		return
	}

	sum, err := s.queries.Summary(r.Context(), query.SummaryRequest{
		DeviceID: mux.Vars(r)["device"],
		Window:   win,
		Metrics:  metrics,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleCorrelations(w http.ResponseWriter, r *http.Request) {
	win, err := parseWindow(r)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics, err := parseMetrics(r)
	if err != nil {
		writeError(w, err)
		return
	}

	results, err := s.queries.Correlations(r.Context(), query.CorrelationRequest{
		DeviceID: mux.Vars(r)["device"],
		Window:   win,
		Metrics:  metrics,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleWeekly(w http.ResponseWriter, r *http.Request) {
	res, err := s.queries.Weekly(r.Context(), query.WeeklyRequest{
		DeviceID:  mux.Vars(r)["device"],
		WeekStart: r.URL.Query().Get("week_start"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// Operational endpoints
// =============================================================================

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	letters, err := s.dead.List()
	if err != nil {
		writeError(w, err)
		return
	}
	if letters == nil {
		letters = []queue.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, letters)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.statsFn == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.statsFn())
}
