package queue

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Journal record encoding (binary, little-endian):
//
// Enqueue record:
// - ID (16 bytes, UUID)
// - Attempts (4 bytes)
// - EnqueuedMs (8 bytes)
// - DeviceID length (2 bytes) + DeviceID string
// - Day length (2 bytes) + Day string
// - MinuteOfDay (2 bytes)
// - TempC (8 bytes, float64)
// - HumidityPct (8 bytes, float64)
// - Optional flags (1 byte: bit0 pressure, bit1 iaq, bit2 noise)
// - One 8-byte float64 per set flag, in bit order
//
// Ack record:
// - ID (16 bytes, UUID)

const (
	recEnqueue = byte(1)
	recAck     = byte(2)

	optPressure = 1 << 0
	optIAQ      = 1 << 1
	optNoise    = 1 << 2
)

// encodeMessage encodes an enqueue record, including the record type byte.
func encodeMessage(m *Message) []byte {
	buf := make([]byte, 0, 96)
	buf = append(buf, recEnqueue)
	buf = append(buf, m.ID[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(m.Attempts))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.EnqueuedMs))

	r := &m.Reading
	buf = appendString(buf, r.DeviceID)
	buf = appendString(buf, r.Day)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(r.MinuteOfDay))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(r.TempC))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(r.HumidityPct))

	var flags byte
	if r.PressureHPa != nil {
		flags |= optPressure
	}
	if r.IAQ != nil {
		flags |= optIAQ
	}
	if r.NoiseDB != nil {
		flags |= optNoise
	}
	buf = append(buf, flags)

	if r.PressureHPa != nil {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(*r.PressureHPa))
	}
	if r.IAQ != nil {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(*r.IAQ))
	}
	if r.NoiseDB != nil {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(*r.NoiseDB))
	}

	return buf
}

// encodeAck encodes an ack record, including the record type byte.
func encodeAck(id uuid.UUID) []byte {
	buf := make([]byte, 0, 17)
	buf = append(buf, recAck)
	return append(buf, id[:]...)
}

// decodeMessage decodes an enqueue record payload (after the type byte).
func decodeMessage(data []byte) (*Message, error) {
	if len(data) < 28 {
		return nil, fmt.Errorf("data too short for message header")
	}

	var m Message
	copy(m.ID[:], data[0:16])
	m.Attempts = int(binary.LittleEndian.Uint32(data[16:20]))
	m.EnqueuedMs = int64(binary.LittleEndian.Uint64(data[20:28]))
	offset := 28

	var err error
	m.Reading.DeviceID, offset, err = readString(data, offset)
	if err != nil {
		return nil, fmt.Errorf("device id: %w", err)
	}
	m.Reading.Day, offset, err = readString(data, offset)
	if err != nil {
		return nil, fmt.Errorf("day: %w", err)
	}

	if offset+2+8+8+1 > len(data) {
		return nil, fmt.Errorf("data too short for metrics")
	}
	m.Reading.MinuteOfDay = int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2
	m.Reading.TempC = math.Float64frombits(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8
	m.Reading.HumidityPct = math.Float64frombits(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8

	flags := data[offset]
	offset++

	readOpt := func(dst **float64) error {
		if offset+8 > len(data) {
			return fmt.Errorf("data too short for optional metric")
		}
		v := math.Float64frombits(binary.LittleEndian.Uint64(data[offset:]))
		offset += 8
		*dst = &v
		return nil
	}

	if flags&optPressure != 0 {
		if err := readOpt(&m.Reading.PressureHPa); err != nil {
			return nil, err
		}
	}
	if flags&optIAQ != 0 {
		if err := readOpt(&m.Reading.IAQ); err != nil {
			return nil, err
		}
	}
	if flags&optNoise != 0 {
		if err := readOpt(&m.Reading.NoiseDB); err != nil {
			return nil, err
		}
	}

	return &m, nil
}

// decodeAck decodes an ack record payload (after the type byte).
func decodeAck(data []byte) (uuid.UUID, error) {
	var id uuid.UUID
	if len(data) != 16 {
		return id, fmt.Errorf("ack record must be 16 bytes, got %d", len(data))
	}
	copy(id[:], data)
	return id, nil
}

// appendString appends a length-prefixed string to the buffer.
func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// readString reads a length-prefixed string from the buffer.
func readString(data []byte, offset int) (string, int, error) {
	if offset+2 > len(data) {
		return "", offset, fmt.Errorf("data too short for string length")
	}

	length := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2

	if offset+length > len(data) {
		return "", offset, fmt.Errorf("data too short for string content")
	}

	s := string(data[offset : offset+length])
	return s, offset + length, nil
}
