// Package runlog records every attempt of a run and persists the record once.
package runlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"hazop/internal/logging"
	"hazop/internal/stage"
	"hazop/internal/units"
)

// ErrAlreadyPersisted is returned when a log is written or appended after Persist.
var ErrAlreadyPersisted = errors.New("execution log already persisted")

const (
	filePrefix = "execution_log_"
	fileLayout = "20060102_150405"
)

// Event is one attempt as recorded in the log.
type Event struct {
	Timestamp      time.Time    `json:"timestamp"`
	Stage          string       `json:"stage"`
	Unit           *units.Unit  `json:"unit"`
	Status         stage.Status `json:"status"`
	Message        string       `json:"message"`
	ElapsedSeconds float64      `json:"elapsed_time"`
}

// Record is the persisted form of a run.
type Record struct {
	RunID            string       `json:"run_id"`
	StartTime        time.Time    `json:"start_time"`
	EndTime          time.Time    `json:"end_time"`
	TotalElapsed     float64      `json:"total_elapsed"`
	ConfiguredStages []string     `json:"configured_stages"`
	Units            []units.Unit `json:"nodes_processed"`
	Outcome          string       `json:"outcome"`
	AbortReason      string       `json:"abort_reason,omitempty"`
	Events           []Event      `json:"events"`
}

// Log is an append-only attempt log owned by one run.
type Log struct {
	mu        sync.Mutex
	rec       Record
	persisted bool
	now       func() time.Time
}

// New starts a log for a run over the given stage ids.
func New(stages []string) *Log {
	return newWithClock(stages, time.Now)
}

func newWithClock(stages []string, now func() time.Time) *Log {
	return &Log{
		rec: Record{
			RunID:            uuid.New().String(),
			StartTime:        now(),
			ConfiguredStages: append([]string(nil), stages...),
			Units:            []units.Unit{},
			Events:           []Event{},
		},
		now: now,
	}
}

// RunID returns the run identifier.
func (l *Log) RunID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rec.RunID
}

// SetUnits records the enumerated unit set.
func (l *Log) SetUnits(us []units.Unit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.persisted {
		return ErrAlreadyPersisted
	}
	l.rec.Units = append([]units.Unit(nil), us...)
	return nil
}

// Append records an attempt, timestamped now.
func (l *Log) Append(a stage.Attempt) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.persisted {
		return Event{}, ErrAlreadyPersisted
	}

	var unit *units.Unit
	if a.Unit != nil {
		u := *a.Unit
		unit = &u
	}
	ev := Event{
		Timestamp:      l.now(),
		Stage:          a.Stage,
		Unit:           unit,
		Status:         a.Status,
		Message:        a.Message,
		ElapsedSeconds: a.Elapsed.Seconds(),
	}
	l.rec.Events = append(l.rec.Events, ev)
	return ev, nil
}

// Persist finalizes the record and writes it to dir as execution_log_<start>.json.
// It never overwrites an existing file; a second call returns ErrAlreadyPersisted.
func (l *Log) Persist(dir, outcome, abortReason string) (string, *Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.persisted {
		return "", nil, ErrAlreadyPersisted
	}

	rec := l.rec
	rec.EndTime = l.now()
	rec.TotalElapsed = rec.EndTime.Sub(rec.StartTime).Seconds()
	rec.Outcome = outcome
	rec.AbortReason = abortReason

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return "", nil, fmt.Errorf("failed to encode execution log: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	base := filePrefix + rec.StartTime.Format(fileLayout)
	path := filepath.Join(dir, base+".json")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, os.ErrExist) {
		// Another run started in the same second.
		path = filepath.Join(dir, base+"_"+rec.RunID[:8]+".json")
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to create execution log: %w", err)
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return "", nil, fmt.Errorf("failed to write execution log: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", nil, fmt.Errorf("failed to close execution log: %w", err)
	}

	l.rec = rec
	l.persisted = true
	logging.RunLog("persisted run %s (%s, %d events) to %s", rec.RunID, outcome, len(rec.Events), path)
	return path, &rec, nil
}

// Load reads a persisted record.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read execution log: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse execution log %s: %w", path, err)
	}
	return &rec, nil
}

// Latest returns the most recent execution log in dir.
func Latest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+"*.json"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no execution logs in %s", dir)
	}
	// Timestamped names sort chronologically.
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}
