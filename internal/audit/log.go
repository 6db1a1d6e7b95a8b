package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// maxLineBytes bounds a single JSONL record when scanning.
const maxLineBytes = 1 << 20

// ErrBrokenLink is returned when a record does not extend its session's
// chain as already written to the log.
var ErrBrokenLink = errors.New("audit: record does not extend chain tail")

// tail is the last written position of one session.
type tail struct {
	hash string
	seq  uint64
}

// Log is an append-only JSONL file of decision records. It refuses records
// that do not link onto the last record written for their session, so the
// file always verifies.
type Log struct {
	path  string
	file  *os.File
	tails map[string]tail
	mu    sync.Mutex
}

// Open opens (or creates) an audit log file for appending.
// If the file already exists, it is scanned to recover every session's tail.
func Open(path string) (*Log, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	tails := make(map[string]tail)

	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("audit: read existing log: %w", err)
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			var rec Record
			if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
				f.Close()
				return nil, fmt.Errorf("audit: parse existing log: %w", err)
			}
			tails[rec.SessionID()] = tail{hash: rec.ContentHash, seq: rec.Reference.SequenceNumber}
		}
		f.Close()
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("audit: scan existing log: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}

	return &Log{
		path:  path,
		file:  file,
		tails: tails,
	}, nil
}

// Path returns the file path of the log.
func (l *Log) Path() string {
	return l.path
}

// Write appends a record produced by Append, then syncs to disk.
func (l *Log) Write(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sid := rec.SessionID()
	t, seen := l.tails[sid]
	prev := rec.Reference.PreviousHash
	switch {
	case !seen && prev != nil:
		return fmt.Errorf("%w: session %s has no entries, record references %s", ErrBrokenLink, sid, *prev)
	case seen && (prev == nil || *prev != t.hash):
		return fmt.Errorf("%w: session %s tail is %s", ErrBrokenLink, sid, t.hash)
	case rec.Reference.SequenceNumber != t.seq+1:
		return fmt.Errorf("%w: session %s expected sequence %d, got %d", ErrBrokenLink, sid, t.seq+1, rec.Reference.SequenceNumber)
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}

	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write record: %w", err)
	}

	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}

	l.tails[sid] = tail{hash: rec.ContentHash, seq: rec.Reference.SequenceNumber}
	return nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
