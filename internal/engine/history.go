package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/roach88/reduce/internal/ir"
)

// Begin records the start of step name at the current depth and then
// descends one level.
func (rc *ReductionContext) Begin(name string) {
	rc.record(name, ir.MarkBegin)
	rc.indent++
	slog.Debug("step begin", "run_id", rc.runID, "step", name, "depth", rc.indent-1)
}

// End ascends one level, records the end of step name, promotes standard
// outputs to inputs and clears the step-local overlay.
func (rc *ReductionContext) End(name string) {
	if rc.indent > 0 {
		rc.indent--
	}
	rc.record(name, ir.MarkEnd)
	rc.FinalizeOutputs()
	rc.localparms = nil
	rc.stepDecls = nil
	slog.Debug("step end", "run_id", rc.runID, "step", name, "depth", rc.indent)
}

// abandon closes the bracket of a step that did not finish: it ascends one
// level and clears the step-local overlay without recording an end mark
// or promoting outputs.
func (rc *ReductionContext) abandon(name string) {
	if rc.indent > 0 {
		rc.indent--
	}
	rc.localparms = nil
	rc.stepDecls = nil
	slog.Debug("step abandoned", "run_id", rc.runID, "step", name, "depth", rc.indent)
}

// Depth returns the current nesting depth.
func (rc *ReductionContext) Depth() int { return rc.indent }

func (rc *ReductionContext) record(name string, mark ir.Mark) {
	rc.history = append(rc.history, ir.HistoryEntry{
		Seq:     rc.seq.Next(),
		Time:    rc.wall.Now(),
		Step:    name,
		Mark:    mark,
		Depth:   rc.indent,
		Inputs:  rc.InputFilenames(),
		Outputs: filenames(rc.outputs[StandardOutputs]),
	})
}

// History returns the step history ordered by time, ties broken by the
// order entries were recorded.
func (rc *ReductionContext) History() []ir.HistoryEntry {
	out := append([]ir.HistoryEntry(nil), rc.history...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.Before(out[j].Time)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// AnyDepth matches marks at every depth in BeginMark and EndMark.
const AnyDepth = -1

// BeginMark returns the first begin entry for step, optionally restricted
// to a depth.
func (rc *ReductionContext) BeginMark(step string, depth int) (ir.HistoryEntry, bool) {
	return rc.findMark(step, ir.MarkBegin, depth)
}

// EndMark returns the first end entry for step, optionally restricted to
// a depth.
func (rc *ReductionContext) EndMark(step string, depth int) (ir.HistoryEntry, bool) {
	return rc.findMark(step, ir.MarkEnd, depth)
}

func (rc *ReductionContext) findMark(step string, mark ir.Mark, depth int) (ir.HistoryEntry, bool) {
	for _, e := range rc.History() {
		if e.Step == step && e.Mark == mark && (depth == AnyDepth || e.Depth == depth) {
			return e, true
		}
	}
	return ir.HistoryEntry{}, false
}

// StepTiming is the elapsed time of one completed step.
type StepTiming struct {
	Step    string
	Depth   int
	Begin   time.Time
	End     time.Time
	Elapsed time.Duration
}

// Timings pairs each end mark with the most recent unmatched begin of the
// same step at the same depth. Ends without a begin are skipped.
func Timings(history []ir.HistoryEntry) []StepTiming {
	type key struct {
		step  string
		depth int
	}
	open := map[key][]time.Time{}
	var out []StepTiming
	for _, e := range history {
		k := key{e.Step, e.Depth}
		switch e.Mark {
		case ir.MarkBegin:
			open[k] = append(open[k], e.Time)
		case ir.MarkEnd:
			starts := open[k]
			if len(starts) == 0 {
				continue
			}
			begin := starts[len(starts)-1]
			open[k] = starts[:len(starts)-1]
			out = append(out, StepTiming{
				Step:    e.Step,
				Depth:   e.Depth,
				Begin:   begin,
				End:     e.Time,
				Elapsed: e.Time.Sub(begin),
			})
		}
	}
	return out
}

// ReportHistory renders the running times and data flow of the run.
func (rc *ReductionContext) ReportHistory() string {
	return FormatHistory(rc.History())
}

// FormatHistory renders a step history in the report format used by
// ReportHistory. Exposed for persisted histories.
func FormatHistory(history []ir.HistoryEntry) string {
	var b strings.Builder
	b.WriteString("RUNNING TIMES\n")
	b.WriteString("-------------\n")

	timings := Timings(history)
	ti := 0
	var start time.Time
	for i, e := range history {
		if i == 0 {
			start = e.Time
		}
		indent := strings.Repeat("  ", e.Depth)
		switch e.Mark {
		case ir.MarkBegin:
			fmt.Fprintf(&b, "%s%s begin at %s\n", indent, e.Step, stamp(e.Time))
		case ir.MarkEnd:
			elapsed := "(?)"
			if ti < len(timings) && timings[ti].End.Equal(e.Time) && timings[ti].Step == e.Step {
				elapsed = "(" + timings[ti].Elapsed.String() + ")"
				ti++
			}
			fmt.Fprintf(&b, "%s%s %s ends at %s\n", indent, e.Step, elapsed, stamp(e.Time))
		}
	}
	if len(history) > 0 {
		fmt.Fprintf(&b, "TOTAL RUNNING TIME: %s\n", history[len(history)-1].Time.Sub(start))
	}

	b.WriteString("\nSHOW IO\n")
	b.WriteString("-------\n")
	for i, e := range history {
		if i == 0 {
			fmt.Fprintf(&b, "%s\n", strings.Join(e.Inputs, ","))
		}
		if e.Mark == ir.MarkEnd {
			fmt.Fprintf(&b, "  |\n  v %s\n", e.Step)
			if len(e.Outputs) > 0 {
				fmt.Fprintf(&b, "  |\n%s\n", strings.Join(e.Outputs, ","))
			}
		}
	}
	return b.String()
}

func stamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
