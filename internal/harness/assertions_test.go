package harness

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pcielane/internal/sim"
)

func tr(seq int64, ns int, signal, value string) sim.Transition {
	return sim.Transition{
		Seq:    seq,
		Time:   time.Duration(ns) * time.Nanosecond,
		Domain: "rx",
		Tick:   int64(ns / 8),
		Signal: signal,
		Value:  value,
	}
}

func testResult() *Result {
	r := NewResult()
	r.Trace = []sim.Transition{
		tr(2, 0, sim.SignalAlignState, "SEARCH"),
		tr(2, 0, sim.SignalSlips, "1"),
		tr(718, 2048, sim.SignalSlips, "2"),
		tr(1435, 4096, sim.SignalSlips, "3"),
		tr(2152, 6144, sim.SignalAlignState, "LOCKED"),
	}
	return r
}

func TestEvaluateAssertions(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		errMsg    string
	}{
		{"final value", Assertion{Type: AssertFinalValue, Signal: sim.SignalAlignState, Value: "LOCKED"}, ""},
		{"final value wrong", Assertion{Type: AssertFinalValue, Signal: sim.SignalSlips, Value: "4"}, "final value 3 (since seq 1435)"},
		{"final value unseen", Assertion{Type: AssertFinalValue, Signal: sim.SignalLocked, Value: "1"}, "signal never observed"},
		{"count", Assertion{Type: AssertTransitionCount, Signal: sim.SignalSlips, Count: 2}, ""},
		{"count to value", Assertion{Type: AssertTransitionCount, Signal: sim.SignalSlips, Value: "3", Count: 1}, ""},
		{"count first observation excluded", Assertion{Type: AssertTransitionCount, Signal: sim.SignalAlignState, Value: "SEARCH", Count: 0}, ""},
		{"count unseen is zero", Assertion{Type: AssertTransitionCount, Signal: sim.SignalLocked, Count: 0}, ""},
		{"count wrong", Assertion{Type: AssertTransitionCount, Signal: sim.SignalSlips, Count: 3}, "found 2 transitions"},
		{"reached", Assertion{Type: AssertReachedBy, Signal: sim.SignalAlignState, Value: "LOCKED", by: 6144 * time.Nanosecond}, ""},
		{"reached late", Assertion{Type: AssertReachedBy, Signal: sim.SignalAlignState, Value: "LOCKED", by: 6 * time.Microsecond}, "first reached at 6.144µs"},
		{"never reached", Assertion{Type: AssertReachedBy, Signal: sim.SignalSlips, Value: "9", by: time.Microsecond}, "never reached"},
		{"never", Assertion{Type: AssertNever, Signal: sim.SignalSlips, Value: "0"}, ""},
		{"never violated", Assertion{Type: AssertNever, Signal: sim.SignalSlips, Value: "2"}, "2 at 2.048µs (seq 718)"},
		{"no lane error", Assertion{Type: AssertLaneError}, ""},
		{"missing lane error", Assertion{Type: AssertLaneError, Code: "DETECT_STALL"}, "Actual: no error"},
		{"unknown", Assertion{Type: "bogus"}, `unknown assertion type "bogus"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(testResult(), []Assertion{tt.assertion})
			if tt.errMsg == "" {
				assert.Empty(t, errs)
				return
			}
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], tt.errMsg)
			assert.True(t, strings.HasPrefix(errs[0], "assertions[0]: "))
		})
	}
}

func TestEvaluateAssertions_LaneError(t *testing.T) {
	r := testResult()
	r.LaneError = "DETECT_STALL"

	assert.Empty(t, EvaluateAssertions(r, []Assertion{{Type: AssertLaneError, Code: "DETECT_STALL"}}))
	errs := EvaluateAssertions(r, []Assertion{{Type: AssertLaneError}})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Expected: no error")
}

func TestAssertionError_Message(t *testing.T) {
	err := &AssertionError{
		Type:     AssertFinalValue,
		Signal:   sim.SignalSlips,
		Expected: "final value 4",
		Actual:   "final value 3",
		History:  testResult().Trace[1:4],
	}
	assert.Equal(t, `Assertion failed: final_value slips
  Expected: final value 4
  Actual: final value 3

Signal history:
  seq=2 t=0ns rx#0 slips=1
  seq=718 t=2048ns rx#256 slips=2
  seq=1435 t=4096ns rx#512 slips=3
`, err.Error())
}

func TestAssertionError_TruncatesHistory(t *testing.T) {
	var history []sim.Transition
	for i := 0; i < maxHistory+5; i++ {
		history = append(history, tr(int64(i), i*8, sim.SignalInvert, "0"))
	}
	err := &AssertionError{Type: AssertNever, Signal: sim.SignalInvert, History: history}
	msg := err.Error()
	assert.Contains(t, msg, "... 5 earlier")
	assert.NotContains(t, msg, "seq=4 ")
	assert.Contains(t, msg, "seq=24 ")
}
