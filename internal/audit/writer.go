// Package audit keeps a JSON lines trail of fills and lock transitions.
// Entries never carry secrets.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	EventFill               = "fill"
	EventFillDeniedReprompt = "fill_denied_reprompt"
	EventUnlock             = "unlock"
	EventLock               = "lock"
)

// Entry is one audit line.
type Entry struct {
	TS       time.Time `json:"ts"`
	Event    string    `json:"event"`
	TabID    int       `json:"tab_id"`
	FrameID  int       `json:"frame_id"`
	CipherID string    `json:"cipher_id,omitempty"`
}

// Writer appends entries asynchronously to date-organized files.
type Writer struct {
	baseDir     string
	maxSizeMB   int
	now         func() time.Time
	writeCh     chan Entry
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	currentDate string
	logger      *lumberjack.Logger
	mu          sync.Mutex
}

func NewWriter(baseDir string, bufferSize, maxSizeMB int) *Writer {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	w := &Writer{
		baseDir:   baseDir,
		maxSizeMB: maxSizeMB,
		now:       time.Now,
		writeCh:   make(chan Entry, bufferSize),
		done:      make(chan struct{}),
	}
	w.wg.Add(1)
	go w.writeLoop()
	return w
}

// Record implements overlay.Auditor.
func (w *Writer) Record(event string, tabID, frameID int, cipherID string) {
	if err := w.Write(Entry{TS: w.now().UTC(), Event: event, TabID: tabID, FrameID: frameID, CipherID: cipherID}); err != nil {
		slog.Warn("audit entry dropped", "event", event, "error", err)
	}
}

// Write queues an entry without blocking.
func (w *Writer) Write(e Entry) error {
	select {
	case <-w.done:
		return fmt.Errorf("audit: writer is closed")
	default:
	}
	select {
	case w.writeCh <- e:
		return nil
	default:
		return fmt.Errorf("audit: buffer full")
	}
}

// Close flushes queued entries and closes the current file.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.logger != nil {
		return w.logger.Close()
	}
	return nil
}

func (w *Writer) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case e := <-w.writeCh:
			w.writeEntry(e)
		case <-w.done:
			for {
				select {
				case e := <-w.writeCh:
					w.writeEntry(e)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) writeEntry(e Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("audit: marshal entry", "error", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	date := e.TS.Format("2006-01-02")
	if w.logger == nil || date != w.currentDate {
		if err := w.rotateForDate(date); err != nil {
			slog.Error("audit: open file", "error", err)
			return
		}
	}
	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("audit: write entry", "error", err)
	}
}

func (w *Writer) rotateForDate(date string) error {
	if w.logger != nil {
		_ = w.logger.Close()
		w.logger = nil
	}
	dir := filepath.Join(w.baseDir, date)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	filename := filepath.Join(dir, "audit.jsonl")
	w.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    w.maxSizeMB,
		MaxBackups: 30,
		MaxAge:     90,
	}
	w.currentDate = date
	slog.Debug("audit file opened", "file", filename)
	return nil
}
