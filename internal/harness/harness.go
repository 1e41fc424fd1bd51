package harness

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/pcielane/internal/config"
	"github.com/roach88/pcielane/internal/engine"
	"github.com/roach88/pcielane/internal/lane"
	"github.com/roach88/pcielane/internal/sim"
)

// Harness holds what a scenario run shares with its caller: the base
// config, where run IDs come from and the logical clock to continue.
type Harness struct {
	cfg    config.Config
	runIDs engine.RunIDGenerator
	clock  *engine.Clock
	logger *slog.Logger
}

// Option configures a scenario run.
type Option func(*Harness)

// WithConfig sets the base config. A scenario's own config file replaces it.
func WithConfig(cfg config.Config) Option {
	return func(h *Harness) {
		h.cfg = cfg
	}
}

// WithRunIDs sets the run ID source for scenarios without a fixed run_id.
func WithRunIDs(g engine.RunIDGenerator) Option {
	return func(h *Harness) {
		h.runIDs = g
	}
}

// WithClock continues seq numbering from an earlier run.
func WithClock(c *engine.Clock) Option {
	return func(h *Harness) {
		h.clock = c
	}
}

// WithLogger sets the logger passed to the bench.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// Run executes a scenario on a fresh bench and returns the result.
//
// Execution flow:
// 1. Resolve the config and the fake transceiver
// 2. Apply each step before the edges at its time fire
// 3. Run to the scenario's duration
// 4. Evaluate assertions against the full trace
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	h := &Harness{
		cfg:    config.Default(),
		runIDs: engine.UUIDv7Generator{},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}

	bcfg, err := h.benchConfig(scenario)
	if err != nil {
		return nil, err
	}
	bench, err := sim.NewBench(bcfg)
	if err != nil {
		return nil, fmt.Errorf("build bench: %w", err)
	}

	result := NewResult()
	result.RunID = scenario.RunID
	if result.RunID == "" {
		result.RunID = h.runIDs.Generate()
	}
	result.Duration = scenario.duration
	result.Config = bcfg
	result.FirstSeq = bench.Clock().Current() + 1

	steps := slices.Clone(scenario.Steps)
	slices.SortStableFunc(steps, func(a, b Step) int { return cmp.Compare(a.at, b.at) })

	l := bench.Lane()
	for i, st := range steps {
		if err := bench.RunBefore(ctx, st.at); err != nil {
			return nil, fmt.Errorf("run to step %d: %w", i, err)
		}
		applyStep(l, st)
		h.logger.Debug("step applied", "scenario", scenario.Name, "step", i, "at", st.at)
	}
	if err := bench.RunBefore(ctx, scenario.duration); err != nil {
		return nil, fmt.Errorf("run to %s: %w", scenario.duration, err)
	}

	result.LastSeq = bench.Clock().Current()
	result.Trace = bench.Probe().Transitions()
	result.Status = l.Status()
	result.Counters = l.Counters()
	if err := l.Err(); err != nil {
		var le *lane.Error
		if errors.As(err, &le) {
			result.LaneError = string(le.Code)
		} else {
			result.LaneError = err.Error()
		}
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	result.Trace = filterSignals(result.Trace, scenario.Signals)

	h.logger.Info("scenario finished",
		"scenario", scenario.Name,
		"run_id", result.RunID,
		"pass", result.Pass,
		"last_seq", result.LastSeq,
	)
	return result, nil
}

// benchConfig resolves the config and the fake transceiver for a scenario.
func (h *Harness) benchConfig(s *Scenario) (sim.BenchConfig, error) {
	cfg := h.cfg
	if s.Config != "" {
		loaded, err := config.Load(s.Config)
		if err != nil {
			return sim.BenchConfig{}, fmt.Errorf("load scenario config: %w", err)
		}
		cfg = loaded
	}
	if s.Watchdog != nil {
		// Parsed once already by validateScenario.
		timeout, _ := time.ParseDuration(s.Watchdog.StallTimeout)
		cfg.Watchdog = lane.WatchdogConfig{
			StallTimeout: timeout,
			MaxRetries:   s.Watchdog.MaxRetries,
		}
	}
	if err := cfg.Validate(); err != nil {
		return sim.BenchConfig{}, fmt.Errorf("config: %w", err)
	}

	fake := sim.DefaultConfig()
	fake.Partner = s.Partner.partner()
	if s.Detect != nil {
		fake.Detect = *s.Detect
	}
	if s.LockDelay != nil {
		fake.LockDelay = *s.LockDelay
	}

	bcfg := cfg.Bench(fake, h.logger)
	bcfg.Clock = h.clock
	return bcfg, nil
}

func applyStep(l *lane.Lane, st Step) {
	if st.DetectEnable != nil {
		l.SetDetectEnable(*st.DetectEnable)
	}
	if st.AlignEnable != nil {
		l.SetAlignEnable(*st.AlignEnable)
	}
	if st.Invert != nil {
		l.SetInvert(*st.Invert)
	}
	if st.Slip {
		l.RequestSlip()
	}
	if st.Transmit != nil {
		l.Transmit(st.tx)
	}
}

func filterSignals(trace []sim.Transition, signals []string) []sim.Transition {
	if len(signals) == 0 {
		return trace
	}
	out := []sim.Transition{}
	for _, t := range trace {
		if slices.Contains(signals, t.Signal) {
			out = append(out, t)
		}
	}
	return out
}
