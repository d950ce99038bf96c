package queue

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Dead-letter record encoding: an enqueue-style message body followed by
// - Reason length (2 bytes) + Reason string
// - FailedMs (8 bytes)

const recDead = byte(3)

// DeadLetter is one terminally failed message with its failure context.
type DeadLetter struct {
	Message  Message
	Reason   string
	FailedMs int64 // dead-letter wall-clock time, Unix milliseconds
}

// DeadLetters is the append-only journal of messages whose retry budget was
// exhausted. Entries are kept for operator inspection and manual replay;
// nothing in the pipeline ever consumes them automatically.
type DeadLetters struct {
	journal *journal
}

// OpenDeadLetters opens (or creates) the dead-letter journal.
func OpenDeadLetters(dir string, segmentSize int64) (*DeadLetters, error) {
	j, err := openJournal(dir, segmentSize)
	if err != nil {
		return nil, err
	}
	return &DeadLetters{journal: j}, nil
}

// Append records a terminally failed message. The record is synced before
// returning: a dead letter is the last trace of a reading and must survive
// a crash that follows immediately.
func (d *DeadLetters) Append(m *Message, reason string) error {
	payload := encodeDeadLetter(&DeadLetter{
		Message:  *m,
		Reason:   reason,
		FailedMs: time.Now().UnixMilli(),
	})
	if err := d.journal.append(payload); err != nil {
		return err
	}
	return d.journal.sync()
}

// List returns every dead letter in append order.
func (d *DeadLetters) List() ([]DeadLetter, error) {
	segments, err := d.journal.listSegments()
	if err != nil {
		return nil, err
	}

	var letters []DeadLetter
	for _, seg := range segments {
		err := replaySegment(seg.path, func(payload []byte) error {
			if len(payload) == 0 || payload[0] != recDead {
				return nil
			}
			dl, err := decodeDeadLetter(payload[1:])
			if err != nil {
				return nil // skip undecodable record
			}
			letters = append(letters, *dl)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return letters, nil
}

// Close closes the dead-letter journal.
func (d *DeadLetters) Close() error {
	return d.journal.close()
}

func encodeDeadLetter(dl *DeadLetter) []byte {
	// encodeMessage emits the record type byte for the main journal;
	// replace it with the dead-letter type and append the failure context.
	buf := encodeMessage(&dl.Message)
	buf[0] = recDead
	buf = appendString(buf, dl.Reason)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(dl.FailedMs))
	return buf
}

func decodeDeadLetter(data []byte) (*DeadLetter, error) {
	m, err := decodeMessage(data)
	if err != nil {
		return nil, err
	}

	// decodeMessage consumed the message body; re-walk to find where the
	// failure context begins.
	offset, err := messageEncodedLen(data)
	if err != nil {
		return nil, err
	}

	dl := &DeadLetter{Message: *m}
	dl.Reason, offset, err = readString(data, offset)
	if err != nil {
		return nil, fmt.Errorf("reason: %w", err)
	}
	if offset+8 > len(data) {
		return nil, fmt.Errorf("data too short for failed_ms")
	}
	dl.FailedMs = int64(binary.LittleEndian.Uint64(data[offset:]))
	return dl, nil
}

// messageEncodedLen returns the encoded length of the message body at the
// start of data.
func messageEncodedLen(data []byte) (int, error) {
	if len(data) < 28 {
		return 0, fmt.Errorf("data too short for message header")
	}
	offset := 28

	for i := 0; i < 2; i++ { // device id, day
		if offset+2 > len(data) {
			return 0, fmt.Errorf("data too short for string length")
		}
		offset += 2 + int(binary.LittleEndian.Uint16(data[offset:]))
	}

	offset += 2 + 8 + 8 // minute, temp, humidity
	if offset+1 > len(data) {
		return 0, fmt.Errorf("data too short for flags")
	}
	flags := data[offset]
	offset++

	for _, bit := range []byte{optPressure, optIAQ, optNoise} {
		if flags&bit != 0 {
			offset += 8
		}
	}
	if offset > len(data) {
		return 0, fmt.Errorf("data too short for optional metrics")
	}
	return offset, nil
}
