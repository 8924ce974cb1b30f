package swap

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/zhufucdev/ledoxide/pkg/task"
)

// Log is an append-only, length-prefixed record file: each batch is a
// 4-byte big-endian payload length followed by a JSON-encoded array of
// records. The file is private process scratch, not a stable interchange
// format.
type Log struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Open creates or opens the backing file at path.
func Open(path string) (*Log, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("swap: open %s: %w", path, err)
	}
	return &Log{file: file, path: path}, nil
}

// OpenTemp creates a log backed by a fresh temporary file.
func OpenTemp() (*Log, error) {
	file, err := os.CreateTemp("", "ledoxide-swap-*")
	if err != nil {
		return nil, fmt.Errorf("swap: create temp file: %w", err)
	}
	return &Log{file: file, path: file.Name()}, nil
}

// Path returns the backing file's path.
func (l *Log) Path() string { return l.path }

// Append serializes the batch and appends it to the log. The write is
// flushed to disk before Append reports success. An empty batch is a
// no-op.
func (l *Log) Append(batch []*task.Record) error {
	if len(batch) == 0 {
		return nil
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("swap: encode batch: %w", err)
	}
	if int64(len(payload)) > math.MaxUint32 {
		return fmt.Errorf("swap: batch payload too large: %d bytes", len(payload))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("swap: seek end: %w", err)
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(payload)))
	if _, err := l.file.Write(length[:]); err != nil {
		return fmt.Errorf("swap: write length: %w", err)
	}
	if _, err := l.file.Write(payload); err != nil {
		return fmt.Errorf("swap: write payload: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("swap: sync: %w", err)
	}
	return nil
}

// Scan returns a scanner positioned at the start of the log. The scanner
// holds the log's lock until Close is called, so appends wait for open
// scanners.
func (l *Log) Scan() (*Scanner, error) {
	l.mu.Lock()
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("swap: seek start: %w", err)
	}
	return &Scanner{log: l, r: bufio.NewReader(l.file)}, nil
}

// Find scans the log for the record with the given id, oldest first. It
// returns (nil, nil) when the id is not present.
func (l *Log) Find(id string) (*task.Record, error) {
	sc, err := l.Scan()
	if err != nil {
		return nil, err
	}
	defer sc.Close()
	for sc.Next() {
		if rec := sc.Record(); rec.ID() == id {
			return rec, nil
		}
	}
	return nil, sc.Err()
}

// Close closes the backing file. Open scanners must be closed first.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Scanner iterates the records of a Log, oldest first. A scanner is
// single-use: it reads forward once and stops at end of log or on the
// first error.
type Scanner struct {
	log    *Log
	r      *bufio.Reader
	batch  []*task.Record
	next   int
	rec    *task.Record
	err    error
	done   bool
	closed bool
}

// Next advances to the next record, reporting whether one is available.
// Check Err once Next returns false.
func (s *Scanner) Next() bool {
	if s.done || s.closed {
		return false
	}
	for s.next >= len(s.batch) {
		batch, err := s.readBatch()
		if err != nil {
			if err != io.EOF {
				s.err = err
			}
			s.done = true
			return false
		}
		s.batch, s.next = batch, 0
	}
	s.rec = s.batch[s.next]
	s.next++
	return true
}

// readBatch reads one length-prefixed frame. io.EOF at a frame boundary
// means the log is exhausted; a truncated frame is an error.
func (s *Scanner) readBatch() ([]*task.Record, error) {
	var length [4]byte
	if _, err := io.ReadFull(s.r, length[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("swap: read frame length: %w", err)
	}
	payload := make([]byte, binary.BigEndian.Uint32(length[:]))
	if _, err := io.ReadFull(s.r, payload); err != nil {
		return nil, fmt.Errorf("swap: read frame payload: %w", err)
	}
	var batch []*task.Record
	if err := json.Unmarshal(payload, &batch); err != nil {
		return nil, fmt.Errorf("swap: decode batch: %w", err)
	}
	return batch, nil
}

// Record returns the record Next advanced to.
func (s *Scanner) Record() *task.Record { return s.rec }

// Err returns the first error the scanner hit, if any.
func (s *Scanner) Err() error { return s.err }

// Close releases the log for writers. The scanner cannot be reused.
func (s *Scanner) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.log.mu.Unlock()
}
