package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"hazop/internal/config"
	"hazop/internal/pipeline"
	"hazop/internal/runlog"
	"hazop/internal/stage"
	"hazop/internal/units"
)

// consoleReporter prints one progress line per attempt and a closing summary.
type consoleReporter struct {
	out       io.Writer
	st        styles
	lastStage string
}

var _ pipeline.Reporter = (*consoleReporter)(nil)

func newConsoleReporter(out io.Writer, plain bool) *consoleReporter {
	return &consoleReporter{out: out, st: newStyles(plain)}
}

func (r *consoleReporter) header(def config.StageConfig) {
	if r.lastStage == def.ID {
		return
	}
	r.lastStage = def.ID
	title := fmt.Sprintf("==> %s (stage %d)", def.ID, def.Ordinal)
	if def.Description != "" {
		title += ": " + def.Description
	}
	fmt.Fprintln(r.out, r.st.Header.Render(title))
}

func (r *consoleReporter) StageStarted(def config.StageConfig, unit *units.Unit) {
	r.header(def)
	if unit != nil {
		fmt.Fprintln(r.out, r.st.Muted.Render(fmt.Sprintf("    running unit %s", unit)))
	}
}

func (r *consoleReporter) StageSkipped(def config.StageConfig) {
	r.lastStage = def.ID
	fmt.Fprintf(r.out, "%s %s not selected\n", r.st.Tag(stage.StatusSkipped), def.ID)
}

func (r *consoleReporter) AttemptFinished(a stage.Attempt) {
	// Skipped attempts are announced by StageSkipped.
	if a.Status == stage.StatusSkipped {
		return
	}
	target := a.Stage
	if a.Unit != nil {
		target = fmt.Sprintf("%s unit %s", a.Stage, a.Unit)
	}
	fmt.Fprintf(r.out, "%s %s %s %s\n",
		r.st.Tag(a.Status), target,
		r.st.Muted.Render(fmt.Sprintf("(%.1fs)", a.Elapsed.Seconds())),
		a.Message)
}

func (r *consoleReporter) UnitsResolved(res *units.Result) {
	how := string(res.Source)
	if res.Method != "" {
		how += " via " + string(res.Method)
	}
	ids := make([]string, len(res.Units))
	for i, u := range res.Units {
		ids[i] = fmt.Sprint(u.ID)
	}
	fmt.Fprintln(r.out, r.st.Info.Render(fmt.Sprintf("Found %d units (%s): %s", len(res.Units), how, strings.Join(ids, ", "))))
}

func (r *consoleReporter) AggregateWritten(def config.StageConfig, path string, included, total int) {
	fmt.Fprintln(r.out, r.st.Info.Render(fmt.Sprintf("Aggregated %d/%d units of %s -> %s", included, total, def.ID, path)))
}

func (r *consoleReporter) RunFinished(res *pipeline.Result) {
	fmt.Fprintln(r.out)
	if res.Record == nil {
		fmt.Fprintf(r.out, "Run %s %s (execution log not written)\n", res.RunID, res.State)
		return
	}
	fmt.Fprintln(r.out, renderRecord(r.st, res.Record, res.LogPath))
}

// renderRecord formats a persisted run as a boxed summary.
func renderRecord(st styles, rec *runlog.Record, path string) string {
	var b strings.Builder
	row := func(label, value string) {
		b.WriteString(st.Label.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}

	b.WriteString(st.Header.Render("HAZOP run summary"))
	b.WriteString("\n")
	row("Run", rec.RunID)
	row("Started", rec.StartTime.Format(time.DateTime))
	row("Finished", rec.EndTime.Format(time.DateTime))
	row("Elapsed", fmt.Sprintf("%.1fs", rec.TotalElapsed))
	row("Units", fmt.Sprint(len(rec.Units)))
	row("Outcome", rec.Outcome)
	if rec.AbortReason != "" {
		row("Abort reason", rec.AbortReason)
	}
	if path != "" {
		row("Log", path)
	}

	b.WriteString("\n")
	for _, s := range rec.Summary() {
		var parts []string
		for _, status := range stage.Statuses {
			if n := s.Counts[status]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s %d", st.Status(status), n))
			}
		}
		if len(parts) == 0 {
			parts = append(parts, st.Muted.Render("no attempts"))
		}
		row(s.Stage, strings.Join(parts, "  "))
	}

	return st.Summary.Render(strings.TrimRight(b.String(), "\n"))
}
