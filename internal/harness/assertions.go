package harness

import (
	"fmt"
	"io"
	"strings"

	"github.com/roach88/pcielane/internal/sim"
)

// maxHistory caps the signal history printed with a failed assertion.
const maxHistory = 20

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string           // Assertion type for categorization
	Signal   string           // Signal under test, empty for lane_error
	Expected string           // Human-readable expected outcome
	Actual   string           // Human-readable actual outcome
	History  []sim.Transition // The signal's transitions for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Signal != "" {
		fmt.Fprintf(&buf, " %s", e.Signal)
	}
	buf.WriteString("\n")

	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.History) > 0 {
		lines := e.History
		fmt.Fprintf(&buf, "\nSignal history:\n")
		if len(lines) > maxHistory {
			fmt.Fprintf(&buf, "  ... %d earlier\n", len(lines)-maxHistory)
			lines = lines[len(lines)-maxHistory:]
		}
		for _, t := range lines {
			buf.WriteString("  ")
			writeTransition(&buf, t)
		}
	}

	return buf.String()
}

// WriteTrace writes one line per transition:
//
//	seq=718 t=2048ns rx#256 slips=2
func WriteTrace(w io.Writer, trace []sim.Transition) error {
	for _, t := range trace {
		if err := writeTransition(w, t); err != nil {
			return err
		}
	}
	return nil
}

func writeTransition(w io.Writer, t sim.Transition) error {
	_, err := fmt.Fprintf(w, "seq=%d t=%dns %s#%d %s=%s\n",
		t.Seq, t.Time.Nanoseconds(), t.Domain, t.Tick, t.Signal, t.Value)
	return err
}

func history(trace []sim.Transition, signal string) []sim.Transition {
	var out []sim.Transition
	for _, t := range trace {
		if t.Signal == signal {
			out = append(out, t)
		}
	}
	return out
}

// assertFinalValue checks the signal's last recorded value.
func assertFinalValue(trace []sim.Transition, a Assertion) error {
	h := history(trace, a.Signal)
	if len(h) == 0 {
		return &AssertionError{
			Type:     AssertFinalValue,
			Signal:   a.Signal,
			Expected: fmt.Sprintf("final value %s", a.Value),
			Actual:   "signal never observed",
		}
	}
	if last := h[len(h)-1]; last.Value != a.Value {
		return &AssertionError{
			Type:     AssertFinalValue,
			Signal:   a.Signal,
			Expected: fmt.Sprintf("final value %s", a.Value),
			Actual:   fmt.Sprintf("final value %s (since seq %d)", last.Value, last.Seq),
			History:  h,
		}
	}
	return nil
}

// assertTransitionCount counts changes after the first observation,
// optionally only those to a.Value.
func assertTransitionCount(trace []sim.Transition, a Assertion) error {
	h := history(trace, a.Signal)
	count := 0
	if len(h) > 1 {
		for _, t := range h[1:] {
			if a.Value == "" || t.Value == a.Value {
				count++
			}
		}
	}
	if count == a.Count {
		return nil
	}

	what := "transitions"
	if a.Value != "" {
		what = "transitions to " + a.Value
	}
	return &AssertionError{
		Type:     AssertTransitionCount,
		Signal:   a.Signal,
		Expected: fmt.Sprintf("exactly %d %s", a.Count, what),
		Actual:   fmt.Sprintf("found %d %s", count, what),
		History:  h,
	}
}

// assertReachedBy checks the signal takes a.Value at or before a.by.
func assertReachedBy(trace []sim.Transition, a Assertion) error {
	h := history(trace, a.Signal)
	for _, t := range h {
		if t.Value != a.Value {
			continue
		}
		if t.Time <= a.by {
			return nil
		}
		return &AssertionError{
			Type:     AssertReachedBy,
			Signal:   a.Signal,
			Expected: fmt.Sprintf("%s by %s", a.Value, a.by),
			Actual:   fmt.Sprintf("first reached at %s (seq %d)", t.Time, t.Seq),
			History:  h,
		}
	}
	return &AssertionError{
		Type:     AssertReachedBy,
		Signal:   a.Signal,
		Expected: fmt.Sprintf("%s by %s", a.Value, a.by),
		Actual:   "never reached",
		History:  h,
	}
}

// assertNever checks the signal never takes a.Value.
func assertNever(trace []sim.Transition, a Assertion) error {
	h := history(trace, a.Signal)
	for _, t := range h {
		if t.Value == a.Value {
			return &AssertionError{
				Type:     AssertNever,
				Signal:   a.Signal,
				Expected: fmt.Sprintf("never %s", a.Value),
				Actual:   fmt.Sprintf("%s at %s (seq %d)", a.Value, t.Time, t.Seq),
				History:  h,
			}
		}
	}
	return nil
}

func assertLaneError(result *Result, a Assertion) error {
	if result.LaneError == a.Code {
		return nil
	}
	expected, actual := a.Code, result.LaneError
	if expected == "" {
		expected = "no error"
	}
	if actual == "" {
		actual = "no error"
	}
	return &AssertionError{
		Type:     AssertLaneError,
		Expected: expected,
		Actual:   actual,
	}
}

// EvaluateAssertions checks every assertion against a finished run and
// returns the failure messages, empty when all hold.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	errs := []string{}
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertFinalValue:
			err = assertFinalValue(result.Trace, a)
		case AssertTransitionCount:
			err = assertTransitionCount(result.Trace, a)
		case AssertReachedBy:
			err = assertReachedBy(result.Trace, a)
		case AssertNever:
			err = assertNever(result.Trace, a)
		case AssertLaneError:
			err = assertLaneError(result, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %s", i, err))
		}
	}
	return errs
}
