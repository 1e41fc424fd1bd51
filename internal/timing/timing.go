// Package timing derives the lane controllers' tick counts from the
// nanosecond-scale requirements they implement.
//
// The receiver-detection hold times are electrical requirements. The
// transmitter must idle for at least 120 ns before detect-enable, and
// detect-enable must be stable for at least 120 ns before the strobe. These
// are expressed in nanoseconds and converted to ticks for a given clock
// period. The strobe width and the alignment window and inversion threshold
// are policy and are expressed in ticks directly.
package timing

import (
	"fmt"
	"time"
)

// Defaults for a 2.5 GT/s lane with 1:2 gearing (125 MHz byte clock).
const (
	DefaultTickPeriod  = 8 * time.Nanosecond
	DefaultDetectHold  = 120 * time.Nanosecond
	DefaultStrobeTicks = 4
	DefaultAlignWindow = 256
	DefaultInvertAfter = 65536
)

// Policy holds the timing contract of one lane.
type Policy struct {
	// TickPeriod is the period of the clock the controllers run on.
	TickPeriod time.Duration `json:"tick_period" yaml:"tick_period" toml:"tick_period"`

	// DetectHold is the minimum electrical-idle and detect-enable hold time.
	DetectHold time.Duration `json:"detect_hold" yaml:"detect_hold" toml:"detect_hold"`

	// StrobeTicks is how long the detect strobe is held high.
	StrobeTicks int `json:"strobe_ticks" yaml:"strobe_ticks" toml:"strobe_ticks"`

	// AlignWindow is the number of ticks between framing evaluations.
	AlignWindow int `json:"align_window" yaml:"align_window" toml:"align_window"`

	// InvertAfter is the error timer period after which the polarity
	// inversion bit toggles while searching.
	InvertAfter int `json:"invert_after" yaml:"invert_after" toml:"invert_after"`
}

// Default returns the 125 MHz policy.
func Default() Policy {
	return Policy{
		TickPeriod:  DefaultTickPeriod,
		DetectHold:  DefaultDetectHold,
		StrobeTicks: DefaultStrobeTicks,
		AlignWindow: DefaultAlignWindow,
		InvertAfter: DefaultInvertAfter,
	}
}

// ForPeriod returns p retargeted to another clock period. Hold times stay
// in nanoseconds so the derived tick counts change with the period.
func (p Policy) ForPeriod(period time.Duration) Policy {
	p.TickPeriod = period
	return p
}

// HoldTicks is the number of ticks covering DetectHold: ceil(hold/period).
func (p Policy) HoldTicks() int {
	if p.TickPeriod <= 0 {
		return 0
	}
	return int((p.DetectHold + p.TickPeriod - 1) / p.TickPeriod)
}

// HoldReload is the countdown value loaded for a hold: the timer counts
// HoldReload down to zero and acts on the tick after, which places the
// action HoldTicks after the load.
func (p Policy) HoldReload() int {
	if n := p.HoldTicks() - 1; n > 0 {
		return n
	}
	return 0
}

// EnableReload is the countdown loaded when detect-enable rises. It is one
// tick longer than HoldReload, so detect-enable is stable for HoldTicks+1
// ticks (128 ns at 8 ns) before the strobe.
func (p Policy) EnableReload() int {
	return p.HoldTicks()
}

// StrobeReload is the countdown value that keeps the strobe high for
// StrobeTicks ticks.
func (p Policy) StrobeReload() int {
	if p.StrobeTicks < 1 {
		return 0
	}
	return p.StrobeTicks - 1
}

// HoldTime is the hold actually produced after rounding to ticks.
func (p Policy) HoldTime() time.Duration {
	return time.Duration(p.HoldTicks()) * p.TickPeriod
}

// TicksFor converts a duration to a tick count on this policy's clock,
// rounding up.
func (p Policy) TicksFor(d time.Duration) int64 {
	if p.TickPeriod <= 0 || d <= 0 {
		return 0
	}
	return int64((d + p.TickPeriod - 1) / p.TickPeriod)
}

// ValidationError reports a policy field that cannot be used.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("timing: %s: %s", e.Field, e.Reason)
}

// Validate checks the policy for values the controllers cannot run with.
func (p Policy) Validate() error {
	switch {
	case p.TickPeriod <= 0:
		return &ValidationError{Field: "tick_period", Reason: "must be positive"}
	case p.DetectHold <= 0:
		return &ValidationError{Field: "detect_hold", Reason: "must be positive"}
	case p.StrobeTicks < 1:
		return &ValidationError{Field: "strobe_ticks", Reason: "must be at least 1"}
	case p.AlignWindow < 1:
		return &ValidationError{Field: "align_window", Reason: "must be at least 1"}
	case p.InvertAfter < p.AlignWindow:
		return &ValidationError{Field: "invert_after", Reason: "must not be shorter than align_window"}
	}
	return nil
}
