package queue

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// journal is an append-only segmented log backing the durable queue.
// Each segment file contains a sequence of records with CRC checksums.
//
// File format:
//   - Header: 8 bytes magic + 4 bytes version
//   - Records: [4 bytes length][4 bytes crc32][payload]
//
// The first payload byte is the record type (enqueue or ack); replaying
// every segment in sequence order reconstructs the pending set.
type journal struct {
	mu sync.Mutex

	dir            string
	currentSegment *os.File
	currentPath    string
	currentSize    int64
	segmentSeq     int64

	writer *bufio.Writer

	maxSegmentSize int64
}

const (
	journalMagic   = 0x534F4D514A4E4C01 // "SOMQJNL" + version 1
	journalVersion = 1

	headerSize       = 12 // 8 bytes magic + 4 bytes version
	recordHeaderSize = 8  // 4 bytes length + 4 bytes crc

	maxRecordSize = 1 << 20 // sanity bound, far above any encoded reading

	journalBufferSize = 64 * 1024
)

// openJournal opens (or creates) the journal directory and starts a fresh
// segment after any existing ones.
func openJournal(dir string, maxSegmentSize int64) (*journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	j := &journal{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
	}

	segments, err := j.listSegments()
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	if len(segments) > 0 {
		j.segmentSeq = segments[len(segments)-1].seq + 1
	}

	if err := j.rotateUnlocked(); err != nil {
		return nil, fmt.Errorf("create initial segment: %w", err)
	}

	return j, nil
}

// append writes one record and flushes it. The queue relies on a record
// being readable after append returns, so the buffered writer is flushed on
// every call.
func (j *journal) append(payload []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	recordSize := int64(recordHeaderSize + len(payload))
	if j.currentSize+recordSize > j.maxSegmentSize {
		if err := j.rotateUnlocked(); err != nil {
			return fmt.Errorf("rotate segment: %w", err)
		}
	}

	crc := crc32.ChecksumIEEE(payload)

	var header [recordHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], crc)

	if _, err := j.writer.Write(header[:]); err != nil {
		return err
	}
	if _, err := j.writer.Write(payload); err != nil {
		return err
	}
	if err := j.writer.Flush(); err != nil {
		return err
	}

	j.currentSize += recordSize
	return nil
}

// sync fsyncs the current segment.
func (j *journal) sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.writer != nil {
		if err := j.writer.Flush(); err != nil {
			return err
		}
	}
	if j.currentSegment != nil {
		return j.currentSegment.Sync()
	}
	return nil
}

func (j *journal) rotateUnlocked() error {
	if j.currentSegment != nil {
		if j.writer != nil {
			j.writer.Flush()
		}
		j.currentSegment.Close()
	}

	segmentName := fmt.Sprintf("%016d.jnl", j.segmentSeq)
	segmentPath := filepath.Join(j.dir, segmentName)

	f, err := os.OpenFile(segmentPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create segment %s: %w", segmentPath, err)
	}

	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[0:8], journalMagic)
	binary.LittleEndian.PutUint32(header[8:12], journalVersion)

	if _, err := f.Write(header[:]); err != nil {
		f.Close()
		os.Remove(segmentPath)
		return fmt.Errorf("write header: %w", err)
	}

	j.currentSegment = f
	j.currentPath = segmentPath
	j.currentSize = headerSize
	j.writer = bufio.NewWriterSize(f, journalBufferSize)
	j.segmentSeq++

	return nil
}

func (j *journal) close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.writer != nil {
		j.writer.Flush()
	}
	if j.currentSegment != nil {
		return j.currentSegment.Close()
	}
	return nil
}

// removeSegmentsBefore deletes every segment older than the current one.
// Called after recovery has folded old segments into the fresh segment.
func (j *journal) removeSegmentsBefore(seq int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	segments, err := j.listSegments()
	if err != nil {
		return err
	}
	for _, s := range segments {
		if s.seq >= seq {
			break
		}
		if s.path == j.currentPath {
			continue
		}
		if err := os.Remove(s.path); err != nil {
			return err
		}
	}
	return nil
}

type segmentInfo struct {
	path string
	seq  int64
}

func (j *journal) listSegments() ([]segmentInfo, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var segments []segmentInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if len(name) != 20 || name[16:] != ".jnl" {
			continue
		}

		var seq int64
		if _, err := fmt.Sscanf(name, "%016d.jnl", &seq); err != nil {
			continue
		}

		segments = append(segments, segmentInfo{
			path: filepath.Join(j.dir, name),
			seq:  seq,
		})
	}

	sort.Slice(segments, func(i, j int) bool {
		return segments[i].seq < segments[j].seq
	})

	return segments, nil
}

// replaySegment reads every record in one segment, calling fn for each
// decoded payload. Corrupt records terminate the segment replay without
// error: a torn tail write is expected after a crash.
func replaySegment(path string, fn func(payload []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open segment: %w", err)
	}
	defer f.Close()

	var header [headerSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if magic := binary.LittleEndian.Uint64(header[0:8]); magic != journalMagic {
		return fmt.Errorf("invalid magic: expected %x, got %x", journalMagic, magic)
	}
	if version := binary.LittleEndian.Uint32(header[8:12]); version != journalVersion {
		return fmt.Errorf("unsupported version: %d", version)
	}

	for {
		var rh [recordHeaderSize]byte
		if _, err := io.ReadFull(f, rh[:]); err != nil {
			return nil // EOF or torn header: done with this segment
		}

		length := binary.LittleEndian.Uint32(rh[0:4])
		expectedCRC := binary.LittleEndian.Uint32(rh[4:8])

		if length > maxRecordSize {
			return nil
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(f, payload); err != nil {
			return nil // torn payload
		}

		if crc32.ChecksumIEEE(payload) != expectedCRC {
			return nil // corrupt tail
		}

		if err := fn(payload); err != nil {
			return err
		}
	}
}
