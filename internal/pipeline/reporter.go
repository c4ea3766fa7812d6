package pipeline

import (
	"hazop/internal/config"
	"hazop/internal/stage"
	"hazop/internal/units"
)

// Reporter receives user-visible progress. Calls arrive sequentially.
type Reporter interface {
	StageStarted(def config.StageConfig, unit *units.Unit)
	StageSkipped(def config.StageConfig)
	AttemptFinished(a stage.Attempt)
	UnitsResolved(res *units.Result)
	AggregateWritten(def config.StageConfig, path string, included, total int)
	RunFinished(res *Result)
}

// NopReporter discards progress.
type NopReporter struct{}

func (NopReporter) StageStarted(config.StageConfig, *units.Unit)          {}
func (NopReporter) StageSkipped(config.StageConfig)                       {}
func (NopReporter) AttemptFinished(stage.Attempt)                         {}
func (NopReporter) UnitsResolved(*units.Result)                           {}
func (NopReporter) AggregateWritten(config.StageConfig, string, int, int) {}
func (NopReporter) RunFinished(*Result)                                   {}
