// Package attendance appends recognition events to a CSV attendance log.
package attendance

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrCodeEU/faceattend/pkg/logging"
)

const (
	// DateLayout is the layout of the Date column.
	DateLayout = "2006-01-02"
	// TimeLayout is the layout of the Time column.
	TimeLayout = "15:04:05"
)

// Header is the first row of a new attendance log.
var Header = []string{"Name", "Date", "Time"}

// Record is one attendance row.
type Record struct {
	Name string
	Date string
	Time string
}

// NewRecord stamps name with the local date and time of t.
func NewRecord(name string, t time.Time) Record {
	local := t.Local()
	return Record{
		Name: name,
		Date: local.Format(DateLayout),
		Time: local.Format(TimeLayout),
	}
}

func (r Record) row() []string {
	return []string{r.Name, r.Date, r.Time}
}

// Recorder records that name was seen.
type Recorder interface {
	Record(name string) error
}

// Logger appends rows to a CSV file. The file is opened and closed for
// every row and is never read back.
type Logger struct {
	path string
	now  func() time.Time
}

// NewLogger returns a Logger writing to path.
func NewLogger(path string) *Logger {
	return &Logger{path: path, now: time.Now}
}

// Path returns the log file path.
func (l *Logger) Path() string {
	return l.path
}

// Record appends one row for name, writing the header first if the file
// did not exist.
func (l *Logger) Record(name string) error {
	rec := NewRecord(name, l.now())

	_, statErr := os.Stat(l.path)
	isNew := os.IsNotExist(statErr)

	if isNew {
		if dir := filepath.Dir(l.path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create attendance directory: %w", err)
			}
		}
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open attendance log: %w", err)
	}

	w := csv.NewWriter(f)
	if isNew {
		if err := w.Write(Header); err != nil {
			f.Close()
			return fmt.Errorf("failed to write attendance header: %w", err)
		}
	}
	if err := w.Write(rec.row()); err != nil {
		f.Close()
		return fmt.Errorf("failed to write attendance row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush attendance row: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close attendance log: %w", err)
	}

	logging.WithFields(logging.Fields{
		"name": rec.Name,
		"date": rec.Date,
		"time": rec.Time,
	}).Debug("Attendance recorded")
	return nil
}

// Throttle suppresses repeated rows for the same name within Cooldown.
// A zero Cooldown passes every call through.
type Throttle struct {
	next     Recorder
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewThrottle wraps next with a per-name cooldown.
func NewThrottle(next Recorder, cooldown time.Duration) *Throttle {
	return &Throttle{
		next:     next,
		cooldown: cooldown,
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
}

// Record forwards to the wrapped recorder unless name was recorded within
// the cooldown. Failed writes do not start a cooldown.
func (t *Throttle) Record(name string) error {
	if t.cooldown <= 0 {
		return t.next.Record(name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if last, ok := t.last[name]; ok && now.Sub(last) < t.cooldown {
		return nil
	}
	if err := t.next.Record(name); err != nil {
		return err
	}
	t.last[name] = now
	return nil
}
