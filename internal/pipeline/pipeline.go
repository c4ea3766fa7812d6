// Package pipeline sequences the configured stages of a run.
//
// Stages run strictly one at a time in ordinal order. A fan-out stage runs once
// per unit; the unit set is enumerated lazily from the source stage's artifact.
// Failure of a mandatory stage, an enumeration failure, or an interrupt aborts
// the run. Any other failure is recorded and the run continues. The execution
// log is persisted exactly once, whatever the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"hazop/internal/aggregate"
	"hazop/internal/config"
	"hazop/internal/logging"
	"hazop/internal/runlog"
	"hazop/internal/stage"
	"hazop/internal/textenc"
	"hazop/internal/units"
)

// State is the orchestrator state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

// AbortError describes why a run was aborted.
type AbortError struct {
	Stage  string
	Unit   *units.Unit
	Status stage.Status
	Reason string
}

func (e *AbortError) Error() string {
	if e.Unit != nil {
		return fmt.Sprintf("run aborted at %s unit %d: %s: %s", e.Stage, e.Unit.ID, e.Status, e.Reason)
	}
	return fmt.Sprintf("run aborted at %s: %s: %s", e.Stage, e.Status, e.Reason)
}

// Result is the outcome of Run.
type Result struct {
	RunID       string
	State       State
	Units       []units.Unit
	Attempts    []stage.Attempt
	Aggregates  map[string]string // stage id -> artifact path
	LogPath     string
	Record      *runlog.Record
	Abort       *AbortError
	Interrupted bool
}

// Succeeded reports a completed run without failed attempts.
func (r *Result) Succeeded() bool {
	return r.State == StateCompleted && r.Record != nil && r.Record.AllSucceeded()
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithReporter sets the progress reporter.
func WithReporter(r Reporter) Option {
	return func(o *Orchestrator) { o.reporter = r }
}

// WithRunner replaces the stage runner.
func WithRunner(r *stage.Runner) Option {
	return func(o *Orchestrator) { o.runner = r }
}

// Orchestrator drives one run. It is single-use.
type Orchestrator struct {
	cfg        *config.Config
	factory    stage.Factory
	runner     *stage.Runner
	reporter   Reporter
	enumerator *units.Enumerator
	aggregator *aggregate.Aggregator

	state    State
	log      *runlog.Log
	units    []units.Unit
	resolved bool
	result   *Result
}

// New validates cfg and builds an orchestrator.
func New(cfg *config.Config, factory stage.Factory, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if factory == nil {
		return nil, errors.New("stage factory is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:        cfg,
		factory:    factory,
		runner:     stage.NewRunner(cfg.GetDefaultTimeout()),
		reporter:   NopReporter{},
		enumerator: units.NewEnumerator(cfg.Units),
		aggregator: aggregate.New(cfg.OutputDir, cfg.GetAggregateDelimiter()),
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return o.state
}

func (o *Orchestrator) transition(to State) {
	logging.Pipeline("state %s -> %s", o.state, to)
	o.state = to
}

// Run executes the selected stages (ids or ordinals; empty means all).
//
// Invalid selections fail before anything runs and return a nil Result.
// Otherwise the Result is always returned, and the error is an *AbortError when
// the run aborted, or a persistence error when the log could not be written.
func (o *Orchestrator) Run(ctx context.Context, selection []string) (*Result, error) {
	if o.state != StateIdle {
		return nil, fmt.Errorf("orchestrator already used (state %s)", o.state)
	}

	selected, err := o.cfg.Select(selection)
	if err != nil {
		return nil, err
	}
	chosen := make(map[string]stage.Stage, len(selected))
	for _, def := range selected {
		impl, err := o.factory(def)
		if err != nil {
			return nil, fmt.Errorf("failed to build stage %s: %w", def.ID, err)
		}
		chosen[def.ID] = impl
	}

	sequence := o.cfg.Ordered()
	ids := make([]string, len(sequence))
	for i, def := range sequence {
		ids[i] = def.ID
	}

	o.log = runlog.New(ids)
	o.result = &Result{RunID: o.log.RunID(), Aggregates: make(map[string]string)}
	o.transition(StateRunning)
	logging.Pipeline("run %s started: %d of %d stages selected", o.result.RunID, len(selected), len(sequence))

	abort := o.runSequence(ctx, sequence, chosen)
	if abort != nil {
		o.result.Abort = abort
		o.result.Interrupted = ctx.Err() != nil
		o.transition(StateAborted)
		logging.PipelineError("%v", abort)
	} else {
		o.transition(StateCompleted)
	}
	o.result.State = o.state
	o.result.Units = o.units

	reason := ""
	if abort != nil {
		reason = abort.Error()
	}
	path, rec, perr := o.log.Persist(o.cfg.GetLogDir(), string(o.state), reason)
	o.result.LogPath = path
	o.result.Record = rec
	o.reporter.RunFinished(o.result)

	if perr != nil {
		logging.RunLogError("run %s: execution log not written: %v", o.result.RunID, perr)
		return o.result, fmt.Errorf("failed to persist execution log: %w", perr)
	}
	if abort != nil {
		return o.result, abort
	}
	return o.result, nil
}

func (o *Orchestrator) runSequence(ctx context.Context, sequence []config.StageConfig, chosen map[string]stage.Stage) *AbortError {
	for _, def := range sequence {
		if ctx.Err() != nil {
			return &AbortError{Stage: def.ID, Status: stage.StatusError, Reason: stage.MessageInterrupted}
		}

		impl, ok := chosen[def.ID]
		if !ok {
			o.skip(def)
			continue
		}

		var abort *AbortError
		if def.FanOut {
			abort = o.runFanOut(ctx, def, impl)
		} else {
			abort = o.runOnce(ctx, def, impl)
		}
		if abort != nil {
			return abort
		}
	}
	return nil
}

func (o *Orchestrator) runOnce(ctx context.Context, def config.StageConfig, impl stage.Stage) *AbortError {
	o.reporter.StageStarted(def, nil)
	attempt, _ := o.attempt(ctx, def, impl, nil)

	if !attempt.Status.IsFailure() {
		return nil
	}
	if ctx.Err() != nil || def.Mandatory {
		return &AbortError{Stage: def.ID, Status: attempt.Status, Reason: attempt.Message}
	}
	logging.PipelineWarn("optional stage %s %s, continuing", def.ID, attempt.Status)
	return nil
}

func (o *Orchestrator) runFanOut(ctx context.Context, def config.StageConfig, impl stage.Stage) *AbortError {
	if err := o.resolveUnits(); err != nil {
		return &AbortError{Stage: o.cfg.Units.SourceStage, Status: stage.StatusError, Reason: err.Error()}
	}

	entries := make([]aggregate.Entry, 0, len(o.units))
	for i := range o.units {
		unit := o.units[i]
		o.reporter.StageStarted(def, &unit)

		attempt, text := o.attempt(ctx, def, impl, &unit)
		if ctx.Err() != nil {
			return &AbortError{Stage: def.ID, Unit: &unit, Status: attempt.Status, Reason: attempt.Message}
		}
		entries = append(entries, aggregate.Entry{Unit: unit, Status: attempt.Status, Text: text})
	}

	path, included, err := o.aggregator.Write(def.AggregateName(), entries)
	if err != nil {
		// The attempts are already recorded; a broken aggregate does not abort.
		logging.PipelineError("aggregate for %s failed: %v", def.ID, err)
		return nil
	}
	o.result.Aggregates[def.ID] = path
	o.reporter.AggregateWritten(def, path, included, len(entries))
	return nil
}

// attempt runs one attempt, verifies its artifact, records it, and returns the
// unit's text for aggregation.
func (o *Orchestrator) attempt(ctx context.Context, def config.StageConfig, impl stage.Stage, unit *units.Unit) (stage.Attempt, string) {
	// Every unit writes the same artifact; a leftover must never pass as this attempt's output.
	if def.Output != "" {
		if err := o.clearArtifact(def.Output); err != nil {
			attempt := stage.Attempt{Stage: def.ID, Unit: unit, StartedAt: time.Now()}
			attempt = attempt.WithStatus(stage.StatusError, err.Error())
			o.record(attempt)
			return attempt, ""
		}
	}

	attempt := o.runner.Run(ctx, def, impl, unit)

	text := attempt.RawOutput
	if attempt.Status == stage.StatusSuccess && def.Output != "" {
		var err error
		text, err = o.readArtifact(def.Output)
		if err != nil {
			attempt = attempt.WithStatus(stage.StatusFailed, err.Error())
		}
	}

	o.record(attempt)
	return attempt, text
}

func (o *Orchestrator) clearArtifact(name string) error {
	err := os.Remove(o.cfg.OutputPath(name))
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	return fmt.Errorf("output artifact %s could not be cleared: %v", name, err)
}

func (o *Orchestrator) readArtifact(name string) (string, error) {
	data, err := os.ReadFile(o.cfg.OutputPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("output artifact %s missing", name)
		}
		return "", fmt.Errorf("output artifact %s unreadable: %v", name, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("output artifact %s empty", name)
	}
	logging.PipelineDebug("read artifact %s (%d bytes)", name, len(data))
	return textenc.Decode(data), nil
}

func (o *Orchestrator) record(a stage.Attempt) {
	if _, err := o.log.Append(a); err != nil {
		logging.PipelineError("failed to record attempt for %s: %v", a.Stage, err)
	}
	o.result.Attempts = append(o.result.Attempts, a)
	o.reporter.AttemptFinished(a)
}

func (o *Orchestrator) skip(def config.StageConfig) {
	logging.PipelineDebug("stage %s not selected", def.ID)
	o.reporter.StageSkipped(def)
	now := time.Now()

	if !def.FanOut {
		o.record(stage.Skipped(def.ID, nil, now))
		return
	}
	// Without a resolved unit set there is no (stage, unit) pair to record.
	if !o.resolved {
		return
	}
	for i := range o.units {
		unit := o.units[i]
		o.record(stage.Skipped(def.ID, &unit, now))
	}
}

func (o *Orchestrator) resolveUnits() error {
	if o.resolved {
		return nil
	}

	src, _ := o.cfg.SourceStage()
	timer := logging.StartTimer(logging.CategoryUnits, "unit enumeration")
	defer timer.Stop()

	data, err := os.ReadFile(o.cfg.OutputPath(src.Output))
	if err != nil {
		return &units.EnumerationError{SourceStage: src.ID, Cause: err}
	}

	res, err := o.enumerator.Enumerate(textenc.Decode(data))
	stats := o.enumerator.Stats()
	logging.Get(logging.CategoryUnits).Debug("extraction: %d processed, %d failed, by method %v",
		stats.TotalProcessed, stats.Failures, stats.ByMethod)
	if err != nil {
		return err
	}

	o.units = res.Units
	o.resolved = true
	if err := o.log.SetUnits(res.Units); err != nil {
		logging.PipelineError("failed to record units: %v", err)
	}
	o.reporter.UnitsResolved(res)
	return nil
}
