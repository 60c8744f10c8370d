package retry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// DLQEntry is one record that could not be processed.
type DLQEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	Data      any       `json:"data,omitempty"`
}

// DLQ is an append-only dead-letter log stored as JSON lines. Entries beyond
// MaxSize are counted but not written.
type DLQ struct {
	mu      sync.Mutex
	path    string
	maxSize int
	file    *os.File
	w       *bufio.Writer
	written int
	dropped int
}

// NewDLQ opens (or creates) the log at path. maxSize <= 0 means unlimited.
func NewDLQ(path string, maxSize int) (*DLQ, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open DLQ file: %w", err)
	}
	return &DLQ{path: path, maxSize: maxSize, file: f, w: bufio.NewWriter(f)}, nil
}

// Add appends an entry.
func (d *DLQ) Add(entry DLQEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return fmt.Errorf("DLQ %s is closed", d.path)
	}
	if d.maxSize > 0 && d.written >= d.maxSize {
		d.dropped++
		return nil
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.ID == "" {
		entry.ID = fmt.Sprintf("dlq-%d-%d", entry.Timestamp.Unix(), d.written+1)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ entry: %w", err)
	}
	data = append(data, '\n')
	if _, err := d.w.Write(data); err != nil {
		return fmt.Errorf("failed to write DLQ entry: %w", err)
	}
	d.written++
	return nil
}

// Stats returns written and dropped counts.
func (d *DLQ) Stats() (written, dropped int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written, d.dropped
}

// Path is the file location.
func (d *DLQ) Path() string { return d.path }

// Close flushes and closes the file.
func (d *DLQ) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	flushErr := d.w.Flush()
	closeErr := d.file.Close()
	d.file = nil
	if flushErr != nil {
		return fmt.Errorf("failed to flush DLQ: %w", flushErr)
	}
	return closeErr
}

// ReadDLQ loads every entry from a DLQ file.
func ReadDLQ(path string) ([]DLQEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read DLQ file: %w", err)
	}
	defer f.Close()

	var entries []DLQEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var e DLQEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal DLQ entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}
