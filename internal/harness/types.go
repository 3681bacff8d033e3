package harness

import (
	"github.com/roach88/reduce/internal/ir"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is false when the run failed unexpectedly or an assertion failed.
	Pass bool `json:"pass"`

	// History is the step history of the run.
	History []ir.HistoryEntry `json:"history"`

	// Report is ReportHistory of the run, compared against golden files.
	Report string `json:"report"`

	// Snapshots counts the snapshots the control loop saw.
	Snapshots int `json:"snapshots"`

	// Inputs are the files the context held when the run stopped.
	Inputs []string `json:"inputs"`

	// Params holds captured parameter values by step, then name.
	Params map[string]map[string]any `json:"params,omitempty"`

	// Requests lists the kinds of every request queued, in order.
	Requests []ir.RequestKind `json:"requests,omitempty"`

	// Err is the run error, if any.
	Err string `json:"err,omitempty"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		History: []ir.HistoryEntry{},
		Params:  map[string]map[string]any{},
		Errors:  []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// capture records the value a step saw for param.
func (r *Result) capture(step, param string, v any) {
	if r.Params[step] == nil {
		r.Params[step] = map[string]any{}
	}
	r.Params[step][param] = v
}

// begins returns the steps that began, in history order.
func (r *Result) begins() []string {
	var out []string
	for _, e := range r.History {
		if e.Mark == ir.MarkBegin {
			out = append(out, e.Step)
		}
	}
	return out
}
