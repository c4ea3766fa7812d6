package runlog

import "hazop/internal/stage"

// StageSummary counts attempt statuses for one stage.
type StageSummary struct {
	Stage  string
	Counts map[stage.Status]int
}

// Total returns the number of attempts.
func (s StageSummary) Total() int {
	n := 0
	for _, c := range s.Counts {
		n += c
	}
	return n
}

// Failures returns FAILED + TIMEOUT + ERROR.
func (s StageSummary) Failures() int {
	n := 0
	for st, c := range s.Counts {
		if st.IsFailure() {
			n += c
		}
	}
	return n
}

// Summary returns per-stage counts in configured order.
// Stages without attempts are included with zero counts.
func (r *Record) Summary() []StageSummary {
	index := make(map[string]int)
	var out []StageSummary
	add := func(id string) int {
		if i, ok := index[id]; ok {
			return i
		}
		index[id] = len(out)
		out = append(out, StageSummary{Stage: id, Counts: make(map[stage.Status]int)})
		return len(out) - 1
	}

	for _, id := range r.ConfiguredStages {
		add(id)
	}
	for _, ev := range r.Events {
		out[add(ev.Stage)].Counts[ev.Status]++
	}
	return out
}

// AllSucceeded reports whether every non-skipped attempt succeeded.
func (r *Record) AllSucceeded() bool {
	for _, ev := range r.Events {
		if ev.Status.IsFailure() {
			return false
		}
	}
	return true
}
