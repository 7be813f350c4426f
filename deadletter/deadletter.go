// Package deadletter persists events that couldn't be applied as an
// append-only JSONL file.
package deadletter

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/textileio/auctioneer-bot/pool"
)

// Record is a dead-lettered event.
type Record struct {
	ID     string           `json:"id"`
	Source string           `json:"source"`
	Kind   string           `json:"kind"`
	Ledger uint32           `json:"ledger"`
	Event  pool.EventRecord `json:"event"`
	Error  string           `json:"error"`
	Time   time.Time        `json:"time"`
}

// Log appends records to a file. It is safe for concurrent use. A nil
// *Log discards records.
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
}

// New returns a Log appending to path, or nil if path is blank.
func New(path string) *Log {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return &Log{path: path}
}

// Path returns the file path.
func (l *Log) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append records an event from source that failed with cause.
func (l *Log) Append(source string, e pool.Event, cause error) (Record, error) {
	rec, err := pool.ToRecord(e)
	if err != nil {
		return Record{}, fmt.Errorf("flattening event: %s", err)
	}
	r := Record{
		ID:     uuid.NewString(),
		Source: source,
		Kind:   e.Kind().String(),
		Ledger: e.Meta().Ledger,
		Event:  rec,
		Time:   time.Now().UTC(),
	}
	if cause != nil {
		r.Error = cause.Error()
	}
	if err := l.write(r); err != nil {
		return Record{}, fmt.Errorf("writing dead letter: %s", err)
	}
	return r, nil
}

func (l *Log) write(v interface{}) error {
	if l == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureOpenLocked(); err != nil {
		return err
	}
	if _, err := l.w.Write(b); err != nil {
		return err
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return err
	}
	return l.w.Flush()
}

func (l *Log) ensureOpenLocked() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	l.file = f
	l.w = bufio.NewWriterSize(f, 64*1024)
	return nil
}

// Records reads every record in the log. Malformed lines are skipped.
func (l *Log) Records() ([]Record, error) {
	if l == nil {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var recs []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		recs = append(recs, r)
	}
	return recs, sc.Err()
}

// Close flushes and closes the file.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	if l.w != nil {
		if err := l.w.Flush(); err != nil {
			firstErr = err
		}
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.w = nil
	l.file = nil

	if firstErr != nil && errors.Is(firstErr, os.ErrClosed) {
		return nil
	}
	return firstErr
}
