package harness

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/reduce/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes the step history to help debug the failure.
type AssertionError struct {
	Type     string            // Assertion type for categorization
	Expected string            // Human-readable expected outcome
	Actual   string            // Human-readable actual outcome
	History  []ir.HistoryEntry // Full history for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nStep history:\n")
	for i, entry := range e.History {
		fmt.Fprintf(&buf, "  [%d] %s%s %s\n", i+1, strings.Repeat("  ", entry.Depth), entry.Step, entry.Mark)
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns
// one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertHistoryCount:
		return assertHistoryCount(result, a)
	case AssertHistoryOrder:
		return assertHistoryOrder(result, a)
	case AssertInputs:
		return assertInputs(result, a)
	case AssertSnapshots:
		return assertSnapshots(result, a)
	case AssertSkipped:
		return assertSkipped(result, a)
	case AssertParam:
		return assertParam(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertHistoryCount checks that step began exactly Count times.
func assertHistoryCount(result *Result, a Assertion) error {
	count := 0
	for _, step := range result.begins() {
		if step == a.Step {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertHistoryCount,
		Expected: fmt.Sprintf("%s begins %d time(s)", a.Step, a.Count),
		Actual:   fmt.Sprintf("%d time(s)", count),
		History:  result.History,
	}
}

// assertHistoryOrder checks that the steps began in order. Other steps
// may begin in between.
func assertHistoryOrder(result *Result, a Assertion) error {
	next := 0
	for _, step := range result.begins() {
		if next < len(a.Steps) && step == a.Steps[next] {
			next++
		}
	}
	if next == len(a.Steps) {
		return nil
	}
	return &AssertionError{
		Type:     AssertHistoryOrder,
		Expected: fmt.Sprintf("steps begin in order %v", a.Steps),
		Actual:   fmt.Sprintf("%s not found after %v in %v", a.Steps[next], a.Steps[:next], result.begins()),
		History:  result.History,
	}
}

func assertInputs(result *Result, a Assertion) error {
	got := result.Inputs
	if got == nil {
		got = []string{}
	}
	if reflect.DeepEqual(got, a.Files) {
		return nil
	}
	return &AssertionError{
		Type:     AssertInputs,
		Expected: fmt.Sprintf("inputs %v", a.Files),
		Actual:   fmt.Sprintf("inputs %v", got),
		History:  result.History,
	}
}

func assertSnapshots(result *Result, a Assertion) error {
	if result.Snapshots == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertSnapshots,
		Expected: fmt.Sprintf("%d snapshot(s)", a.Count),
		Actual:   fmt.Sprintf("%d snapshot(s)", result.Snapshots),
		History:  result.History,
	}
}

func assertSkipped(result *Result, a Assertion) error {
	for _, step := range result.begins() {
		if step == a.Step {
			return &AssertionError{
				Type:     AssertSkipped,
				Expected: fmt.Sprintf("%s never begins", a.Step),
				Actual:   fmt.Sprintf("%s began", a.Step),
				History:  result.History,
			}
		}
	}
	return nil
}

// assertParam compares the captured value by its printed form, so a YAML
// 3 matches an int 3 and a "3".
func assertParam(result *Result, a Assertion) error {
	v, ok := result.Params[a.Step][a.Param]
	actual := "not captured"
	if ok {
		if fmt.Sprint(v) == fmt.Sprint(a.Value) {
			return nil
		}
		actual = fmt.Sprintf("%v (%T)", v, v)
	}
	return &AssertionError{
		Type:     AssertParam,
		Expected: fmt.Sprintf("%s saw %s = %v", a.Step, a.Param, a.Value),
		Actual:   actual,
		History:  result.History,
	}
}
