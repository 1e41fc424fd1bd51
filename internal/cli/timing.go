package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"github.com/roach88/pcielane/internal/lane"
	"github.com/roach88/pcielane/internal/sim"
	"github.com/roach88/pcielane/internal/timing"
)

// TimingResult is the resolved timing contract of a lane.
type TimingResult struct {
	Policy   timing.Policy       `json:"policy"`
	Clocks   sim.Clocks          `json:"clocks"`
	Watchdog lane.WatchdogConfig `json:"watchdog"`

	HoldTicks  int           `json:"hold_ticks"`
	HoldTime   time.Duration `json:"hold_time"`
	AlignTime  time.Duration `json:"align_time"`
	InvertTime time.Duration `json:"invert_time"`
	StallTicks int64         `json:"stall_ticks,omitempty"`
}

// WriteText implements TextWriter.
func (r TimingResult) WriteText(p *message.Printer, w io.Writer) error {
	p.Fprintf(w, "Timing policy (tx clock %s)\n", r.Policy.TickPeriod.String())
	p.Fprintf(w, "  Detect hold:  %s -> %d ticks (%s)\n", r.Policy.DetectHold.String(), r.HoldTicks, r.HoldTime.String())
	p.Fprintf(w, "  Strobe:       %d ticks\n", r.Policy.StrobeTicks)
	p.Fprintf(w, "  Align window: %d rx ticks (%s)\n", r.Policy.AlignWindow, r.AlignTime.String())
	p.Fprintf(w, "  Invert after: %d rx ticks (%s)\n", r.Policy.InvertAfter, r.InvertTime.String())
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Clocks")
	fmt.Fprintf(w, "  ref %s, rx %s, tx %s\n", r.Clocks.Ref, r.Clocks.Rx, r.Clocks.Tx)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Watchdog")
	if !r.Watchdog.Enabled() {
		fmt.Fprintln(w, "  disabled")
		return nil
	}
	p.Fprintf(w, "  stall timeout %s (%d ticks), max retries %d\n",
		r.Watchdog.StallTimeout.String(), r.StallTicks, r.Watchdog.MaxRetries)
	return nil
}

// NewTimingCommand creates the timing command.
func NewTimingCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "timing",
		Short: "Show the resolved timing policy",
		Long: `Show the timing policy a lane runs with after the --config file and
the transmit clock are applied, with hold times converted to ticks.

Examples:
  lanesim timing
  lanesim timing --config ./fast.toml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTiming(rootOpts, cmd)
		},
	}
	return cmd
}

func runTiming(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	policy := cfg.Policy()
	result := TimingResult{
		Policy:     policy,
		Clocks:     cfg.Clocks,
		Watchdog:   cfg.Watchdog,
		HoldTicks:  policy.HoldTicks(),
		HoldTime:   policy.HoldTime(),
		AlignTime:  time.Duration(policy.AlignWindow) * cfg.Clocks.Rx,
		InvertTime: time.Duration(policy.InvertAfter) * cfg.Clocks.Rx,
	}
	if cfg.Watchdog.Enabled() {
		result.StallTicks = policy.TicksFor(cfg.Watchdog.StallTimeout)
	}

	return opts.formatter(cmd).Success(result)
}
