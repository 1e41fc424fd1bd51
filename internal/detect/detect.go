// Package detect implements the receiver-detection sequencer that runs in the
// transmit clock domain.
//
// The sequence follows the SERDES receiver-detection procedure:
//
//  1. With the transmitter in electrical idle, wait the idle hold time, then
//     drive detect-enable high to put the TX driver into detect mode.
//  2. Keep detect-enable stable for one tick past the hold time, then drive
//     the detect strobe high for the strobe width.
//  3. The SERDES drives done low and later high again with the result on
//     con. Done is asynchronous to the transmit clock and is usually still
//     high for a few samples after the strobe. The sequencer therefore waits
//     for an observed low before it trusts a high.
//
// Tick 0 is the first tick that samples Enable high. With the default policy
// detect-enable rises on tick 15, the strobe is high on ticks 31 to 34, and
// the sequencer waits for done from tick 36.
//
// There is no timeout. If done never toggles the sequencer stays in
// WAIT-DONE-L or WAIT-DONE-H until Enable is dropped.
package detect

import (
	"io"
	"log/slog"

	"github.com/roach88/pcielane/internal/timing"
)

// State is a receiver-detection sequencer state.
type State int

const (
	Start State = iota
	SetDetectHigh
	SetStrobeHigh
	SetStrobeLow
	WaitDoneLow
	WaitDoneHigh
	Done
)

var stateNames = [...]string{
	Start:         "START",
	SetDetectHigh: "SET-DETECT-H",
	SetStrobeHigh: "SET-STROBE-H",
	SetStrobeLow:  "SET-STROBE-L",
	WaitDoneLow:   "WAIT-DONE-L",
	WaitDoneHigh:  "WAIT-DONE-H",
	Done:          "DONE",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Waiting reports whether s is one of the unbounded waits on done.
func (s State) Waiting() bool {
	return s == WaitDoneLow || s == WaitDoneHigh
}

// Inputs are sampled once per transmit tick. Done and Connected must already
// be synchronized into the transmit domain.
type Inputs struct {
	Enable    bool
	Done      bool
	Connected bool
}

// Outputs are the sequencer's registers after a tick.
type Outputs struct {
	// DetectEnable drives the SERDES pcie_det_en input.
	DetectEnable bool `json:"det_en"`

	// Strobe drives the SERDES pcie_ct input.
	Strobe bool `json:"strobe"`

	// Status is the latched detection result. It is stale until Valid.
	Status bool `json:"det_status"`

	// Valid is true once the sequence has reached DONE.
	Valid bool `json:"det_valid"`
}

// Controller is the receiver-detection sequencer. It is owned by the
// transmit domain and must only be ticked from there.
type Controller struct {
	holdReload   int
	enableReload int
	strobeReload int

	state  State
	timer  int
	detEn  bool
	strobe bool
	status bool

	// ticks counts ticks since the last reset; the START tick is tick 0.
	ticks  int64
	logger *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger logs state transitions at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// New creates a sequencer in START using the hold and strobe counts derived
// from p.
func New(p timing.Policy, opts ...Option) *Controller {
	c := &Controller{
		holdReload:   p.HoldReload(),
		enableReload: p.EnableReload(),
		strobeReload: p.StrobeReload(),
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tick advances the sequencer by one transmit clock. Enable low is the
// sequencer's reset: it returns to START at once, dropping detect-enable,
// the strobe and the countdown. The latched Status survives a reset.
func (c *Controller) Tick(in Inputs) Outputs {
	if !in.Enable {
		c.reset()
		return c.Outputs()
	}

	from := c.state
	switch c.state {
	case Start:
		c.timer = c.holdReload
		c.state = SetDetectHigh

	case SetDetectHigh:
		if c.timer == 0 {
			c.detEn = true
			c.timer = c.enableReload
			c.state = SetStrobeHigh
		} else {
			c.timer--
		}

	case SetStrobeHigh:
		if c.timer == 0 {
			c.strobe = true
			c.timer = c.strobeReload
			c.state = SetStrobeLow
		} else {
			c.timer--
		}

	case SetStrobeLow:
		if c.timer == 0 {
			c.strobe = false
			c.state = WaitDoneLow
		} else {
			c.timer--
		}

	case WaitDoneLow:
		if !in.Done {
			c.state = WaitDoneHigh
		}

	case WaitDoneHigh:
		if in.Done {
			c.status = in.Connected
			c.state = Done
		}

	case Done:
	}

	if c.state != from {
		c.logger.Debug("detect transition",
			"tick", c.ticks,
			"from", from.String(),
			"to", c.state.String(),
		)
	}
	c.ticks++
	return c.Outputs()
}

func (c *Controller) reset() {
	if c.state != Start || c.ticks != 0 {
		c.logger.Debug("detect reset", "state", c.state.String(), "tick", c.ticks)
	}
	c.state = Start
	c.timer = 0
	c.detEn = false
	c.strobe = false
	c.ticks = 0
}

// Outputs returns the current register values.
func (c *Controller) Outputs() Outputs {
	return Outputs{
		DetectEnable: c.detEn,
		Strobe:       c.strobe,
		Status:       c.status,
		Valid:        c.state == Done,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// Timer returns the countdown register.
func (c *Controller) Timer() int {
	return c.timer
}

// Ticks returns the number of ticks run since the last reset.
func (c *Controller) Ticks() int64 {
	return c.ticks
}
