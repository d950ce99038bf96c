// Package queue provides the durable at-least-once buffer between the
// ingestion gateway and the persistence writer.
//
// Accepted readings are journaled before the producer sees an acknowledgment,
// then handed to consumers over a bounded channel. Delivery is unordered;
// a message stays pending until explicitly acked, so a crash or a nack leads
// to redelivery, never to loss. Consumers are expected to be idempotent.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/somnia/internal/errors"
	"github.com/xtxerr/somnia/internal/logging"
	"github.com/xtxerr/somnia/internal/model"
)

// Message is one queued reading with delivery bookkeeping.
type Message struct {
	ID         uuid.UUID
	Attempts   int   // delivery attempts so far
	EnqueuedMs int64 // enqueue wall-clock time, Unix milliseconds
	Reading    model.Reading
}

// Options configures a Queue.
type Options struct {
	// Depth bounds the number of pending-plus-inflight messages.
	Depth int

	// SegmentSize is the maximum journal segment size before rotation.
	SegmentSize int64

	// RedeliveryDelay is how long a nacked message waits before it is
	// delivered again.
	RedeliveryDelay time.Duration
}

// Stats holds queue counters. Safe for concurrent use.
type Stats struct {
	Enqueued    atomic.Int64
	Dequeued    atomic.Int64
	Acked       atomic.Int64
	Nacked      atomic.Int64
	Redelivered atomic.Int64
	Recovered   atomic.Int64
	DeadLetters atomic.Int64
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Enqueued    int64 `json:"enqueued"`
	Dequeued    int64 `json:"dequeued"`
	Acked       int64 `json:"acked"`
	Nacked      int64 `json:"nacked"`
	Redelivered int64 `json:"redelivered"`
	Recovered   int64 `json:"recovered"`
	DeadLetters int64 `json:"dead_letters"`
	Pending     int64 `json:"pending"`
}

// Queue is the durable buffer. All methods are safe for concurrent use.
type Queue struct {
	opts    Options
	journal *journal
	dead    *DeadLetters

	// tokens bounds total occupancy: one token per message from enqueue
	// until ack or dead-letter.
	tokens chan struct{}

	// ready carries deliverable messages. Capacity matches tokens, so a
	// send never blocks while a token is held. All sends happen with mu
	// held and check closed first, so Close never closes the channel with
	// a send in flight.
	ready chan *Message

	mu       sync.Mutex
	inflight map[uuid.UUID]*Message
	closed   bool

	redeliverWG sync.WaitGroup

	stats Stats
}

// Open opens the queue, replaying the journal to recover messages that were
// enqueued but never acked. Recovered messages are re-journaled into a fresh
// segment and the old segments are removed.
func Open(dir string, dead *DeadLetters, opts Options) (*Queue, error) {
	j, err := openJournal(dir, opts.SegmentSize)
	if err != nil {
		return nil, err
	}

	q := &Queue{
		opts:     opts,
		journal:  j,
		dead:     dead,
		tokens:   make(chan struct{}, opts.Depth),
		ready:    make(chan *Message, opts.Depth),
		inflight: make(map[uuid.UUID]*Message),
	}

	if err := q.recover(); err != nil {
		j.close()
		return nil, err
	}

	return q, nil
}

// recover folds all pre-existing segments into the pending set: enqueue
// records add, ack records remove. Survivors are re-journaled into the
// current segment so older segments can be dropped.
func (q *Queue) recover() error {
	segments, err := q.journal.listSegments()
	if err != nil {
		return err
	}

	pending := make(map[uuid.UUID]*Message)
	order := make([]uuid.UUID, 0)

	for _, seg := range segments {
		if seg.path == q.journal.currentPath {
			continue
		}
		err := replaySegment(seg.path, func(payload []byte) error {
			if len(payload) == 0 {
				return nil
			}
			switch payload[0] {
			case recEnqueue:
				m, err := decodeMessage(payload[1:])
				if err != nil {
					return nil // skip undecodable record, keep replaying
				}
				if _, seen := pending[m.ID]; !seen {
					order = append(order, m.ID)
				}
				pending[m.ID] = m
			case recAck:
				id, err := decodeAck(payload[1:])
				if err != nil {
					return nil
				}
				delete(pending, id)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	for _, id := range order {
		m, ok := pending[id]
		if !ok {
			continue
		}
		if len(q.tokens) == cap(q.tokens) {
			// Recovered backlog exceeds the configured depth. Keep the
			// overflow journaled only; it redelivers on the next restart.
			logging.Component("queue").Warn("recovery backlog exceeds queue depth, deferring overflow",
				"depth", q.opts.Depth)
			break
		}
		if err := q.journal.append(encodeMessage(m)); err != nil {
			return err
		}
		q.tokens <- struct{}{}
		q.ready <- m
		q.stats.Recovered.Add(1)
	}

	if err := q.journal.sync(); err != nil {
		return err
	}
	return q.journal.removeSegmentsBefore(q.journal.segmentSeq - 1)
}

// Enqueue journals the reading and makes it available for delivery. It
// blocks while the queue is at capacity, bounded by ctx; a full queue at
// deadline returns ErrEnqueueTimeout so the producer can signal pushback.
func (q *Queue) Enqueue(ctx context.Context, r model.Reading) (uuid.UUID, error) {
	m := &Message{
		ID:         uuid.New(),
		EnqueuedMs: time.Now().UnixMilli(),
		Reading:    r,
	}

	select {
	case q.tokens <- struct{}{}:
	case <-ctx.Done():
		return uuid.Nil, errors.Wrap(errors.ErrEnqueueTimeout, "queue at capacity")
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.tokens
		return uuid.Nil, errors.ErrQueueClosed
	}
	if err := q.journal.append(encodeMessage(m)); err != nil {
		q.mu.Unlock()
		<-q.tokens
		return uuid.Nil, errors.Wrap(err, "journal enqueue")
	}
	q.ready <- m
	q.mu.Unlock()

	q.stats.Enqueued.Add(1)
	return m.ID, nil
}

// Dequeue returns the next deliverable message, blocking until one is
// available or ctx is done. The message stays pending until Ack.
func (q *Queue) Dequeue(ctx context.Context) (*Message, error) {
	select {
	case m, ok := <-q.ready:
		if !ok {
			return nil, errors.ErrQueueClosed
		}
		m.Attempts++
		q.mu.Lock()
		q.inflight[m.ID] = m
		q.mu.Unlock()
		q.stats.Dequeued.Add(1)
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ack marks the message as durably handled. The ack is journaled so the
// message is not redelivered after a restart.
func (q *Queue) Ack(id uuid.UUID) error {
	q.mu.Lock()
	_, ok := q.inflight[id]
	if ok {
		delete(q.inflight, id)
	}
	if err := q.journal.append(encodeAck(id)); err != nil {
		q.mu.Unlock()
		return errors.Wrap(err, "journal ack")
	}
	q.mu.Unlock()

	if ok {
		<-q.tokens
	}
	q.stats.Acked.Add(1)
	return nil
}

// Nack returns the message to the queue for redelivery after the configured
// delay. Attempt count is preserved so the consumer can enforce its retry
// budget across redeliveries.
func (q *Queue) Nack(id uuid.UUID) error {
	q.mu.Lock()
	m, ok := q.inflight[id]
	if ok {
		delete(q.inflight, id)
	}
	closed := q.closed
	if ok && !closed {
		// Registered under mu so a concurrent Close either sees this
		// redelivery in its Wait or this Nack sees closed.
		q.redeliverWG.Add(1)
	}
	q.mu.Unlock()

	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "message %s not in flight", id)
	}
	if closed {
		// Message stays journaled; it redelivers on the next start.
		<-q.tokens
		return nil
	}

	q.stats.Nacked.Add(1)
	go func() {
		defer q.redeliverWG.Done()
		if q.opts.RedeliveryDelay > 0 {
			time.Sleep(q.opts.RedeliveryDelay)
		}
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		q.ready <- m
		q.mu.Unlock()
		q.stats.Redelivered.Add(1)
	}()

	return nil
}

// DeadLetter removes the message from circulation and records it in the
// dead-letter journal with the terminal failure reason.
func (q *Queue) DeadLetter(id uuid.UUID, reason string) error {
	q.mu.Lock()
	m, ok := q.inflight[id]
	if ok {
		delete(q.inflight, id)
	}
	q.mu.Unlock()

	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "message %s not in flight", id)
	}

	if q.dead != nil {
		if err := q.dead.Append(m, reason); err != nil {
			return errors.Wrap(err, "append dead letter")
		}
	}

	// Ack in the main journal so the message never redelivers.
	q.mu.Lock()
	err := q.journal.append(encodeAck(id))
	q.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "journal dead-letter ack")
	}

	<-q.tokens
	q.stats.DeadLetters.Add(1)
	return nil
}

// Depth returns the number of messages currently pending or in flight.
func (q *Queue) Depth() int {
	return len(q.tokens)
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() StatsSnapshot {
	return StatsSnapshot{
		Enqueued:    q.stats.Enqueued.Load(),
		Dequeued:    q.stats.Dequeued.Load(),
		Acked:       q.stats.Acked.Load(),
		Nacked:      q.stats.Nacked.Load(),
		Redelivered: q.stats.Redelivered.Load(),
		Recovered:   q.stats.Recovered.Load(),
		DeadLetters: q.stats.DeadLetters.Load(),
		Pending:     int64(len(q.tokens)),
	}
}

// Close stops accepting messages and closes the journal. Unacked messages
// stay journaled and redeliver on the next Open.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.redeliverWG.Wait()
	close(q.ready)

	if err := q.journal.sync(); err != nil {
		q.journal.close()
		return err
	}
	return q.journal.close()
}
