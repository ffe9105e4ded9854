package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Writer persists routing decisions and shadow-mode results as JSON lines,
// one date-partitioned file per record category. It is write-only from the
// core's perspective: nothing in the execution path reads these files back.
type Writer struct {
	dataDir string
	mu      sync.Mutex
	buffers map[string][]json.RawMessage
	logger  *logrus.Entry
	ticker  *time.Ticker
	stop    chan struct{}
	once    sync.Once
}

const flushThreshold = 256

// NewWriter creates the audit directory tree and starts the background
// flush loop.
func NewWriter(dataDir string) (*Writer, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	w := &Writer{
		dataDir: dataDir,
		buffers: make(map[string][]json.RawMessage),
		logger:  logrus.WithField("component", "audit"),
		ticker:  time.NewTicker(5 * time.Second),
		stop:    make(chan struct{}),
	}
	go w.flushLoop()
	return w, nil
}

// Write buffers one record under a category ("decisions", "shadow").
func (w *Writer) Write(category string, record interface{}) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", category, err)
	}

	w.mu.Lock()
	w.buffers[category] = append(w.buffers[category], payload)
	full := len(w.buffers[category]) >= flushThreshold
	w.mu.Unlock()

	if full {
		return w.Flush()
	}
	return nil
}

// Flush writes every buffered record to its category file. A failing
// category keeps its unwritten records queued for the next flush; the
// other categories are still written, and all errors are joined.
func (w *Writer) Flush() error {
	w.mu.Lock()
	pending := w.buffers
	w.buffers = make(map[string][]json.RawMessage)
	w.mu.Unlock()

	var errs []error
	for category, records := range pending {
		if len(records) == 0 {
			continue
		}
		written, err := w.appendRecords(category, records)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", category, err))
			w.requeue(category, records[written:])
		}
	}
	return errors.Join(errs...)
}

// requeue puts unwritten records back at the head of a category buffer,
// ahead of anything written since the flush started.
func (w *Writer) requeue(category string, records []json.RawMessage) {
	if len(records) == 0 {
		return
	}
	w.mu.Lock()
	w.buffers[category] = append(records, w.buffers[category]...)
	w.mu.Unlock()
}

// Close flushes remaining records and stops the background loop.
func (w *Writer) Close() error {
	w.once.Do(func() {
		close(w.stop)
		w.ticker.Stop()
	})
	return w.Flush()
}

// appendRecords returns how many records were durably appended so the
// caller can requeue the remainder after a failure.
func (w *Writer) appendRecords(category string, records []json.RawMessage) (int, error) {
	path := filepath.Join(w.dataDir, fmt.Sprintf("%s-%s.jsonl", category, time.Now().UTC().Format("2006-01-02")))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open audit file %s: %w", path, err)
	}
	defer f.Close()

	for i, rec := range records {
		if _, err := f.Write(append(rec, '\n')); err != nil {
			return i, fmt.Errorf("failed to append audit record: %w", err)
		}
	}
	return len(records), nil
}

func (w *Writer) flushLoop() {
	for {
		select {
		case <-w.ticker.C:
			if err := w.Flush(); err != nil {
				w.logger.Errorf("background flush failed: %v", err)
			}
		case <-w.stop:
			return
		}
	}
}
