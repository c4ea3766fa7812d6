// Package stage runs one pipeline stage attempt and classifies its outcome.
//
// A Stage is a capability: ProcessStage shells out through tactile, Func runs
// in-process. The Runner owns the timeout and turns an Outcome into an Attempt.
package stage

import (
	"context"
	"time"

	"hazop/internal/config"
	"hazop/internal/units"
)

// Status is the classified result of an attempt.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusTimeout Status = "TIMEOUT"
	StatusError   Status = "ERROR"
	StatusSkipped Status = "SKIPPED"
)

// Statuses lists every status in report order.
var Statuses = []Status{StatusSuccess, StatusFailed, StatusTimeout, StatusError, StatusSkipped}

// IsFailure reports whether the status counts against the run.
func (s Status) IsFailure() bool {
	return s == StatusFailed || s == StatusTimeout || s == StatusError
}

// MaxMessageLen bounds Attempt.Message.
const MaxMessageLen = 200

// Outcome is what a Stage reports before classification.
type Outcome struct {
	ExitCode int
	Stdout   string
	Stderr   string

	// TimedOut and Canceled mirror a kill by the stage's own timer or by ctx.
	TimedOut bool
	Canceled bool

	// TruncatedBytes counts output dropped past the capture cap.
	TruncatedBytes int64

	// Err is a launch or monitoring failure; the process may never have run.
	Err error
}

// Stage executes once per call, for unit or (unit == nil) for the whole run.
// Implementations must return promptly once ctx is done.
type Stage interface {
	Run(ctx context.Context, unit *units.Unit) Outcome
}

// Func adapts an in-process function to Stage.
type Func func(ctx context.Context, unit *units.Unit) Outcome

func (f Func) Run(ctx context.Context, unit *units.Unit) Outcome {
	return f(ctx, unit)
}

// Factory builds the Stage for a configured definition.
type Factory func(def config.StageConfig) (Stage, error)

// Attempt is one recorded stage execution. Treat it as immutable once built.
type Attempt struct {
	Stage     string
	Unit      *units.Unit
	StartedAt time.Time
	Elapsed   time.Duration
	Status    Status
	Message   string

	// RawOutput is the decoded stdout of the stage.
	RawOutput string
}

// WithStatus returns a copy of a with a new status and message.
func (a Attempt) WithStatus(s Status, message string) Attempt {
	a.Status = s
	a.Message = truncate(message)
	return a
}

// Skipped builds a SKIPPED attempt for a deselected stage.
func Skipped(stageID string, unit *units.Unit, now time.Time) Attempt {
	return Attempt{
		Stage:     stageID,
		Unit:      unit,
		StartedAt: now,
		Status:    StatusSkipped,
		Message:   "not selected",
	}
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= MaxMessageLen {
		return s
	}
	return string(r[:MaxMessageLen])
}
