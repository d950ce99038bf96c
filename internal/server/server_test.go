package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/somnia/internal/gateway"
	"github.com/xtxerr/somnia/internal/model"
	"github.com/xtxerr/somnia/internal/query"
	"github.com/xtxerr/somnia/internal/queue"
)

const testSecret = "test-secret"

// ============================================================================
// Fakes
// ============================================================================

type fakeEnqueuer struct {
	enqueued []model.Reading
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, r model.Reading) (uuid.UUID, error) {
	f.enqueued = append(f.enqueued, r)
	return uuid.New(), nil
}

type fakeHot struct {
	readings []model.Reading
	sessions []model.SleepSession
}

func (f *fakeHot) RangeScan(_ context.Context, deviceID string, fromMin, toMin int64) ([]model.Reading, error) {
	var out []model.Reading
	for i := range f.readings {
		r := &f.readings[i]
		ts := r.EpochMinute()
		if r.DeviceID == deviceID && ts >= fromMin && ts < toMin {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeHot) CountRange(ctx context.Context, deviceID string, fromMin, toMin int64) (int, error) {
	rs, err := f.RangeScan(ctx, deviceID, fromMin, toMin)
	return len(rs), err
}

func (f *fakeHot) SessionsOverlapping(_ context.Context, fromMin, toMin int64) ([]model.SleepSession, error) {
	var out []model.SleepSession
	for i := range f.sessions {
		if f.sessions[i].Overlaps(fromMin, toMin) {
			out = append(out, f.sessions[i])
		}
	}
	return out, nil
}

type fakeSessions struct {
	stored []model.SleepSession
}

func (f *fakeSessions) PutSession(_ context.Context, sess *model.SleepSession) error {
	f.stored = append(f.stored, *sess)
	return nil
}

type fakeDead struct {
	letters []queue.DeadLetter
}

func (f *fakeDead) List() ([]queue.DeadLetter, error) {
	return f.letters, nil
}

// ============================================================================
// Harness
// ============================================================================

type harness struct {
	srv      *Server
	enq      *fakeEnqueuer
	hot      *fakeHot
	sessions *fakeSessions
	dead     *fakeDead
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	enq := &fakeEnqueuer{}
	hot := &fakeHot{}
	sessions := &fakeSessions{}
	dead := &fakeDead{}

	gw := gateway.New(enq, gateway.Options{
		Secret:         testSecret,
		ClockSkew:      15 * time.Minute,
		EnqueueTimeout: time.Second,
	})
	queries := query.New(hot, nil, query.Options{MaxWindowDays: 31, MaxPoints: 100000})

	cfg := DefaultConfig()
	cfg.AuthFailureLimit = 3
	cfg.AuthFailureWindow = time.Minute

	srv := New(cfg, gw, queries, sessions, dead, func() map[string]interface{} {
		return map[string]interface{}{"gateway": gw.Stats()}
	})
	t.Cleanup(srv.Shutdown)

	return &harness{srv: srv, enq: enq, hot: hot, sessions: sessions, dead: dead}
}

func (h *harness) do(t *testing.T, method, path, secret, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "192.0.2.10:50000"
	if secret != "" {
		req.Header.Set(SecretHeader, secret)
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func nowReadingBody(temp float64) string {
	tsMin := time.Now().UTC().Unix() / 60
	return fmt.Sprintf(`{"device_id":"bedroom-pi","ts_min":%d,"temp_c":%g,"humidity_pct":45.0}`, tsMin, temp)
}

// ============================================================================
// Tests
// ============================================================================

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, "GET", "/v1/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestIngestAccepted(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, "POST", "/v1/readings", testSecret, nowReadingBody(21.5))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := uuid.Parse(resp["id"]); err != nil {
		t.Fatalf("id %q is not a uuid", resp["id"])
	}
	if len(h.enq.enqueued) != 1 {
		t.Fatalf("enqueued = %d, want 1", len(h.enq.enqueued))
	}
}

func TestIngestWrongSecret(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, "POST", "/v1/readings", "wrong", nowReadingBody(21.5))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(h.enq.enqueued) != 0 {
		t.Fatal("rejected request must not enqueue")
	}
}

func TestIngestMalformedPayload(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, "POST", "/v1/readings", testSecret, `{"device_id":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRepeatedAuthFailuresGetBlocked(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		rec := h.do(t, "POST", "/v1/readings", "wrong", nowReadingBody(20))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i, rec.Code)
		}
	}

	rec := h.do(t, "POST", "/v1/readings", "wrong", nowReadingBody(20))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 after limit", rec.Code)
	}

	// Even a correct secret is rejected while blocked.
	rec = h.do(t, "POST", "/v1/readings", testSecret, nowReadingBody(20))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 while blocked", rec.Code)
	}
}

func TestSuccessfulAuthResetsFailures(t *testing.T) {
	h := newHarness(t)
	h.do(t, "POST", "/v1/readings", "wrong", nowReadingBody(20))
	h.do(t, "POST", "/v1/readings", "wrong", nowReadingBody(20))

	rec := h.do(t, "POST", "/v1/readings", testSecret, nowReadingBody(20))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if got := h.srv.limiter.GetFailureCount("192.0.2.10"); got != 0 {
		t.Fatalf("failure count = %d, want 0 after success", got)
	}
}

func TestPutSession(t *testing.T) {
	h := newHarness(t)
	start, err := model.EpochMinuteOf("2026-03-10", 22*60)
	if err != nil {
		t.Fatal(err)
	}
	body := fmt.Sprintf(
		`{"session_id":"night-1","start_min":%d,"end_min":%d,"deep_min":90,"rem_min":100,"light_min":250,"awake_min":40,"efficiency":91.5}`,
		start, start+480)

	rec := h.do(t, "PUT", "/v1/sessions", testSecret, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if len(h.sessions.stored) != 1 || h.sessions.stored[0].SessionID != "night-1" {
		t.Fatalf("stored = %+v, want night-1", h.sessions.stored)
	}
}

func TestPutSessionRequiresSecret(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, "PUT", "/v1/sessions", "", `{"session_id":"x","start_min":1,"end_min":2}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(h.sessions.stored) != 0 {
		t.Fatal("unauthenticated session must not be stored")
	}
}

func TestBucketsEndpoint(t *testing.T) {
	h := newHarness(t)
	for m := 0; m < 120; m++ {
		h.hot.readings = append(h.hot.readings, model.Reading{
			DeviceID:    "bedroom-pi",
			Day:         "2026-03-10",
			MinuteOfDay: m,
			TempC:       20,
			HumidityPct: 45,
		})
	}

	rec := h.do(t, "GET", "/v1/devices/bedroom-pi/buckets?day=2026-03-10&bucket=60&metrics=temp_c&percentiles=p50", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var buckets []json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &buckets); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(buckets) != 24 {
		t.Fatalf("buckets = %d, want 24", len(buckets))
	}
}

func TestBucketsRejectsBadBucketSize(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, "GET", "/v1/devices/bedroom-pi/buckets?day=2026-03-10&bucket=7", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSummaryRejectsOversizedWindow(t *testing.T) {
	h := newHarness(t)
	from, err := model.EpochMinuteOf("2026-01-01", 0)
	if err != nil {
		t.Fatal(err)
	}
	to := from + 40*model.MinutesPerDay
	rec := h.do(t, "GET",
		fmt.Sprintf("/v1/devices/bedroom-pi/summary?from=%d&to=%d", from, to), "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWeeklyRejectsBadWeekStart(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, "GET", "/v1/devices/bedroom-pi/weekly?week_start=yesterday", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDeadLettersEndpoint(t *testing.T) {
	h := newHarness(t)
	h.dead.letters = []queue.DeadLetter{{
		Message: queue.Message{ID: uuid.New(), Attempts: 5},
		Reason:  "retry budget exhausted after 5 attempts",
	}}

	rec := h.do(t, "GET", "/v1/deadletters", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var letters []queue.DeadLetter
	if err := json.Unmarshal(rec.Body.Bytes(), &letters); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(letters) != 1 || letters[0].Message.Attempts != 5 {
		t.Fatalf("letters = %+v", letters)
	}
}

func TestStatsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.do(t, "POST", "/v1/readings", testSecret, nowReadingBody(20))

	rec := h.do(t, "GET", "/v1/stats", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := doc["gateway"]; !ok {
		t.Fatal("stats document missing gateway section")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, "GET", "/v1/readings", "", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
