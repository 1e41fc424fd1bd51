package lane

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/pcielane/internal/detect"
	"github.com/roach88/pcielane/internal/timing"
)

// WatchdogConfig bounds the detect sequencer's waits on done. A zero
// StallTimeout disables the watchdog and leaves the waits unbounded.
type WatchdogConfig struct {
	StallTimeout time.Duration `json:"stall_timeout" yaml:"stall_timeout" toml:"stall_timeout"`
	MaxRetries   int           `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
}

// Enabled reports whether the watchdog runs.
func (c WatchdogConfig) Enabled() bool {
	return c.StallTimeout > 0
}

// Validate rejects negative settings.
func (c WatchdogConfig) Validate() error {
	if c.StallTimeout < 0 {
		return fmt.Errorf("watchdog: stall_timeout must not be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("watchdog: max_retries must not be negative")
	}
	return nil
}

// Watchdog restarts a stalled detect sequence from the transmit domain. It
// sits outside the sequencer and acts only through the sequencer's enable,
// the way an external reset of det_enable would.
type Watchdog struct {
	timeout    int64
	maxRetries int

	waited  int64
	retries int
	hold    bool
	err     *Error

	logger *slog.Logger
}

// NewWatchdog converts cfg's timeout to ticks on p's clock.
func NewWatchdog(cfg WatchdogConfig, p timing.Policy, logger *slog.Logger) *Watchdog {
	return &Watchdog{
		timeout:    p.TicksFor(cfg.StallTimeout),
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}
}

// Gate returns the enable to present to the sequencer this tick. A pending
// restart holds it low for exactly one tick.
func (w *Watchdog) Gate(enable bool) bool {
	if w.hold {
		w.hold = false
		return false
	}
	return enable
}

// Observe inspects the sequencer after its tick. enable is the consumer's
// det_enable; dropping it clears the retry history.
func (w *Watchdog) Observe(state detect.State, enable bool) {
	if !enable {
		w.waited = 0
		w.retries = 0
		w.err = nil
		return
	}
	if !state.Waiting() || w.err != nil {
		w.waited = 0
		return
	}

	w.waited++
	if w.waited <= w.timeout {
		return
	}
	w.waited = 0

	if w.retries >= w.maxRetries {
		w.err = NewDetectStallError(state.String(), w.retries, w.timeout)
		w.logger.Warn("detect watchdog exhausted",
			"state", state.String(),
			"retries", w.retries,
		)
		return
	}
	w.retries++
	w.hold = true
	w.logger.Warn("detect watchdog restart",
		"state", state.String(),
		"retry", w.retries,
		"max_retries", w.maxRetries,
	)
}

// Retries returns the restarts made in the current detect attempt.
func (w *Watchdog) Retries() int {
	return w.retries
}

// Err returns the stall error once retries are exhausted.
func (w *Watchdog) Err() error {
	if w.err == nil {
		return nil
	}
	return w.err
}
