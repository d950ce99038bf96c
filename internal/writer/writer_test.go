package writer

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/somnia/internal/errors"
	"github.com/xtxerr/somnia/internal/model"
	"github.com/xtxerr/somnia/internal/queue"
)

// fakeSource feeds a fixed set of messages and records outcomes.
type fakeSource struct {
	ch chan *queue.Message

	mu       sync.Mutex
	acked    []uuid.UUID
	nacked   []uuid.UUID
	dead     []uuid.UUID
	deadWhy  []string
	done     chan struct{}
	expected int
}

func newFakeSource(msgs ...*queue.Message) *fakeSource {
	ch := make(chan *queue.Message, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	return &fakeSource{
		ch:       ch,
		done:     make(chan struct{}),
		expected: len(msgs),
	}
}

func (f *fakeSource) Dequeue(ctx context.Context) (*queue.Message, error) {
	select {
	case m := <-f.ch:
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeSource) settle(id uuid.UUID, into *[]uuid.UUID) {
	f.mu.Lock()
	*into = append(*into, id)
	settled := len(f.acked) + len(f.nacked) + len(f.dead)
	f.mu.Unlock()
	if settled == f.expected {
		close(f.done)
	}
}

func (f *fakeSource) Ack(id uuid.UUID) error {
	f.settle(id, &f.acked)
	return nil
}

func (f *fakeSource) Nack(id uuid.UUID) error {
	f.settle(id, &f.nacked)
	return nil
}

func (f *fakeSource) DeadLetter(id uuid.UUID, reason string) error {
	f.mu.Lock()
	f.deadWhy = append(f.deadWhy, reason)
	f.mu.Unlock()
	f.settle(id, &f.dead)
	return nil
}

func (f *fakeSource) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not settle all messages")
	}
}

// fakeStore fails the first failures applies per key, then succeeds.
type fakeStore struct {
	mu       sync.Mutex
	failures int
	attempts map[string]int
	applied  []model.Reading
}

func newFakeStore(failures int) *fakeStore {
	return &fakeStore{failures: failures, attempts: make(map[string]int)}
}

func (f *fakeStore) Upsert(ctx context.Context, r *model.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[r.Key()]++
	if f.attempts[r.Key()] <= f.failures {
		return errors.Wrap(errors.ErrStoreUnavailable, "simulated outage")
	}
	f.applied = append(f.applied, *r)
	return nil
}

func testMessage(minute int) *queue.Message {
	return &queue.Message{
		ID: uuid.New(),
		Reading: model.Reading{
			DeviceID:    "bedroom-pi",
			Day:         "2026-03-10",
			MinuteOfDay: minute,
			TempC:       21,
			HumidityPct: 50,
		},
	}
}

func testWriterOptions() Options {
	return Options{
		Workers:        2,
		RetryBudget:    3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	}
}

// ============================================================================
// Apply paths
// ============================================================================

func TestAppliesAndAcks(t *testing.T) {
	src := newFakeSource(testMessage(1), testMessage(2), testMessage(3))
	st := newFakeStore(0)

	w := New(src, st, testWriterOptions())
	w.Start(context.Background())
	src.wait(t)
	w.Stop()

	if len(src.acked) != 3 {
		t.Errorf("acked = %d, want 3", len(src.acked))
	}
	if len(st.applied) != 3 {
		t.Errorf("applied = %d, want 3", len(st.applied))
	}

	stats := w.Stats()
	if stats.Applied != 3 || stats.DeadLetters != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ApplyP50Ms <= 0 {
		t.Errorf("apply latency p50 = %v, want > 0", stats.ApplyP50Ms)
	}
}

func TestRetriesTransientFailure(t *testing.T) {
	src := newFakeSource(testMessage(1))
	st := newFakeStore(2) // fails twice, succeeds on the third attempt

	w := New(src, st, testWriterOptions())
	w.Start(context.Background())
	src.wait(t)
	w.Stop()

	if len(src.acked) != 1 {
		t.Fatalf("acked = %d, want 1", len(src.acked))
	}
	if len(src.dead) != 0 {
		t.Fatalf("dead = %d, want 0", len(src.dead))
	}

	stats := w.Stats()
	if stats.Applied != 1 {
		t.Errorf("applied = %d, want 1", stats.Applied)
	}
	if stats.Retried != 2 {
		t.Errorf("retried = %d, want 2", stats.Retried)
	}
}

func TestDeadLettersAfterBudget(t *testing.T) {
	src := newFakeSource(testMessage(1))
	st := newFakeStore(1000) // never succeeds

	w := New(src, st, testWriterOptions())
	w.Start(context.Background())
	src.wait(t)
	w.Stop()

	if len(src.acked) != 0 {
		t.Errorf("acked = %d, want 0", len(src.acked))
	}
	if len(src.dead) != 1 {
		t.Fatalf("dead = %d, want 1", len(src.dead))
	}
	if got := src.deadWhy[0]; !strings.Contains(got, "3 attempts") {
		t.Errorf("reason = %q, want attempt count", got)
	}

	// Exactly the budget, no more.
	if got := st.attempts["bedroom-pi/2026-03-10/0001"]; got != 3 {
		t.Errorf("apply attempts = %d, want 3", got)
	}
	if w.Stats().DeadLetters != 1 {
		t.Errorf("stats = %+v", w.Stats())
	}
}

func TestMixedOutcomes(t *testing.T) {
	good := testMessage(1)
	bad := testMessage(2)
	bad.Reading.DeviceID = "doomed" // separate key, permanent failure

	src := newFakeSource(good, bad)
	st := newFakeStore(0)
	st.mu.Lock()
	st.attempts["doomed/2026-03-10/0002"] = -1000000 // never reaches success
	st.mu.Unlock()

	w := New(src, st, Options{
		Workers:        1,
		RetryBudget:    2,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  2 * time.Millisecond,
	})
	w.Start(context.Background())
	src.wait(t)
	w.Stop()

	if len(src.acked) != 1 || src.acked[0] != good.ID {
		t.Errorf("acked = %v, want just %s", src.acked, good.ID)
	}
	if len(src.dead) != 1 || src.dead[0] != bad.ID {
		t.Errorf("dead = %v, want just %s", src.dead, bad.ID)
	}
}

// ============================================================================
// Backoff
// ============================================================================

func TestBackoffDoublesAndCaps(t *testing.T) {
	base := 100 * time.Millisecond
	max := 5 * time.Second

	// Centers: 100ms, 200ms, 400ms, ..., capped at 5s. Jitter is ±20%.
	for attempt := 1; attempt <= 10; attempt++ {
		center := base << (attempt - 1)
		if center > max || center <= 0 {
			center = max
		}
		lo := time.Duration(float64(center) * 0.8)
		hi := time.Duration(float64(center) * 1.2)

		for i := 0; i < 20; i++ {
			d := Backoff(attempt, base, max)
			if d < lo || d > hi {
				t.Fatalf("Backoff(%d) = %v, want within [%v, %v]", attempt, d, lo, hi)
			}
		}
	}
}

func TestBackoffJitterVaries(t *testing.T) {
	seen := make(map[time.Duration]bool)
	for i := 0; i < 50; i++ {
		seen[Backoff(3, 100*time.Millisecond, 5*time.Second)] = true
	}
	if len(seen) < 2 {
		t.Error("backoff shows no jitter")
	}
}
