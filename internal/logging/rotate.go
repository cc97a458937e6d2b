package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	filePrefix    = "run"
	retentionDays = 7
)

// rotatingWriter appends to logs/run_YYYY-MM-DD.log and switches files
// when the date changes. Files older than the retention window are
// removed on open and on each rotation.
type rotatingWriter struct {
	mu   sync.Mutex
	dir  string
	day  string
	file *os.File
}

func newRotatingWriter(dir string) (*rotatingWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	w := &rotatingWriter{dir: dir}
	if err := w.open(time.Now()); err != nil {
		return nil, err
	}
	w.sweep(time.Now())
	return w, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	if day := now.Format("2006-01-02"); day != w.day {
		if err := w.open(now); err != nil {
			return 0, err
		}
		w.sweep(now)
	}
	return w.file.Write(p)
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Sweep removes expired log files. Exposed so a daily maintenance job
// can trigger retention even when nothing has been written that day.
func (w *rotatingWriter) Sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sweep(time.Now())
}

func (w *rotatingWriter) open(now time.Time) error {
	if w.file != nil {
		w.file.Close()
	}
	day := now.Format("2006-01-02")
	path := filepath.Join(w.dir, fmt.Sprintf("%s_%s.log", filePrefix, day))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	w.file = f
	w.day = day
	return nil
}

// sweep deletes run_*.log files older than the retention window. Files
// whose names don't parse as dates are left alone.
func (w *rotatingWriter) sweep(now time.Time) {
	cutoff := now.AddDate(0, 0, -retentionDays)
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, filePrefix+"_") || !strings.HasSuffix(name, ".log") {
			continue
		}
		dateStr := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix+"_"), ".log")
		day, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			os.Remove(filepath.Join(w.dir, name))
		}
	}
}
