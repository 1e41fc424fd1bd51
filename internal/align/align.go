// Package align implements the receive-domain symbol alignment search.
//
// A free-running tick counter divides time into evaluation windows. At the
// start of each window the controller compares the received word with the
// framing pair. A match locks the lane. A mismatch requests one bit-slip and
// the search continues in the next window, giving the transceiver a whole
// window to apply the slip and refill its pipeline.
//
// While searching, an error timer runs on every tick and is not reset by
// window evaluations. Each time it crosses a multiple of the inversion
// threshold the polarity bit toggles, so the search alternates between normal
// and inverted wiring. There is no iteration cap.
package align

import (
	"io"
	"log/slog"

	"github.com/roach88/pcielane/internal/symbol"
	"github.com/roach88/pcielane/internal/timing"
)

// State is the alignment controller state.
type State int

const (
	Search State = iota
	Locked
)

func (s State) String() string {
	switch s {
	case Search:
		return "SEARCH"
	case Locked:
		return "LOCKED"
	default:
		return "UNKNOWN"
	}
}

// Inputs are sampled once per receive tick.
type Inputs struct {
	// Enable low holds the controller in reset.
	Enable bool

	// Word is the received word for this tick.
	Word symbol.Word
}

// Controller searches for the framing pair by slipping and inverting.
type Controller struct {
	window      int64
	invertAfter int64
	first       symbol.Symbol
	second      symbol.Symbol

	state    State
	tick     int64
	errTimer int64
	slips    uint64
	invert   bool

	logger *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithPattern overrides the framing pair searched for. The default is STP in
// slot 0 followed by COM in slot 1.
func WithPattern(first, second symbol.Symbol) Option {
	return func(c *Controller) {
		c.first = first
		c.second = second
	}
}

// WithLogger logs evaluations and state changes at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// New creates a controller in SEARCH using the window and inversion
// threshold from p.
func New(p timing.Policy, opts ...Option) *Controller {
	c := &Controller{
		window:      int64(max(p.AlignWindow, 1)),
		invertAfter: int64(max(p.InvertAfter, 1)),
		first:       symbol.STP,
		second:      symbol.COM,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tick advances the controller by one receive clock.
func (c *Controller) Tick(in Inputs) {
	if !in.Enable {
		c.reset()
		return
	}

	if c.state == Search {
		if c.tick%c.window == 0 {
			c.evaluate(in.Word)
		}
	}
	if c.state == Search {
		c.errTimer++
		if c.errTimer%c.invertAfter == 0 {
			c.invert = !c.invert
			c.logger.Debug("align invert", "tick", c.tick, "invert", c.invert)
		}
	}
	c.tick++
}

func (c *Controller) evaluate(w symbol.Word) {
	if w.Matches(c.first, c.second) {
		c.state = Locked
		c.errTimer = 0
		c.logger.Debug("align locked",
			"tick", c.tick,
			"slips", c.slips,
			"invert", c.invert,
		)
		return
	}
	c.slips++
	c.logger.Debug("align slip",
		"tick", c.tick,
		"word", w[0].String()+" "+w[1].String(),
		"slips", c.slips,
	)
}

// reset returns to SEARCH with fresh timers and normal polarity. The slip
// request count is a running total and is not cleared, so the slip level
// seen by the transceiver does not glitch.
func (c *Controller) reset() {
	if c.state != Search || c.tick != 0 {
		c.logger.Debug("align reset", "state", c.state.String(), "tick", c.tick)
	}
	c.state = Search
	c.tick = 0
	c.errTimer = 0
	c.invert = false
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// Slips returns the number of slip requests made so far.
func (c *Controller) Slips() uint64 {
	return c.slips
}

// Slip returns the slip request level. Each request toggles it.
func (c *Controller) Slip() bool {
	return c.slips%2 == 1
}

// Invert returns the polarity inversion request.
func (c *Controller) Invert() bool {
	return c.invert
}

// ErrorTimer returns the search error timer.
func (c *Controller) ErrorTimer() int64 {
	return c.errTimer
}

// Ticks returns the number of ticks run since the last reset.
func (c *Controller) Ticks() int64 {
	return c.tick
}
