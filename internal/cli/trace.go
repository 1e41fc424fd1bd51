package cli

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"github.com/roach88/pcielane/internal/sim"
	"github.com/roach88/pcielane/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string
	Signal   string // optional - filter to one signal
}

// TraceResult holds a stored run and its transitions.
type TraceResult struct {
	RunID       string            `json:"run_id"`
	Scenario    string            `json:"scenario"`
	ConfigHash  string            `json:"config_hash"`
	Duration    time.Duration     `json:"duration"`
	Pass        *bool             `json:"pass,omitempty"`
	FirstSeq    int64             `json:"first_seq"`
	LastSeq     int64             `json:"last_seq"`
	Counters    map[string]uint64 `json:"counters"`
	Transitions []sim.Transition  `json:"transitions"`
}

// WriteText implements TextWriter.
func (r TraceResult) WriteText(p *message.Printer, w io.Writer) error {
	p.Fprintf(w, "Trace for Run: %s\n", r.RunID)
	p.Fprintf(w, "Scenario: %s (%s)\n", r.Scenario, r.Duration.String())
	p.Fprintf(w, "Config: %s\n", shortHash(r.ConfigHash))
	p.Fprintf(w, "Status: %s\n", passStatus(r.Pass))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Transitions ===")
	if len(r.Transitions) == 0 {
		fmt.Fprintln(w, "  (no transitions)")
	} else {
		for _, t := range r.Transitions {
			p.Fprintf(w, "  [%d] %s %s#%d %s=%s\n", t.Seq, t.Time.String(), t.Domain, t.Tick, t.Signal, t.Value)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	p.Fprintf(w, "  Transitions: %d\n", len(r.Transitions))
	p.Fprintf(w, "  Edges:       %d (seq %d..%d)\n", r.LastSeq-r.FirstSeq+1, r.FirstSeq, r.LastSeq)
	for _, name := range counterNames {
		p.Fprintf(w, "  %-17s %d\n", name+":", r.Counters[name])
	}
	return nil
}

// counterNames fixes the order counters print in.
var counterNames = []string{
	"rx_ticks",
	"tx_ticks",
	"decode_errors",
	"disparity_errors",
	"detections",
	"receivers_found",
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show a stored run's signal transitions",
		Long: `Show the signal transitions recorded for a stored run.

Transitions are listed in seq order. Each line gives the seq, the
simulated time, the clock domain and tick that produced the change, and
the signal's new value.

Examples:
  lanesim trace --db ./lanesim.db --run 01900000-0000-7000-8000-000000000001
  lanesim trace --db ./lanesim.db --run smoke-1 --signal align_state
  lanesim trace --db ./lanesim.db --run smoke-1 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run ID to trace (required)")
	_ = cmd.MarkFlagRequired("run")
	cmd.Flags().StringVar(&opts.Signal, "signal", "", "filter to one signal")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	if opts.Signal != "" && !slices.Contains(sim.Signals, opts.Signal) {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown signal %q", opts.Signal))
	}

	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.ReadRun(ctx, opts.RunID)
	if errors.Is(err, store.ErrRunNotFound) {
		out := opts.formatter(cmd)
		if ferr := out.Error("E_RUN_NOT_FOUND", fmt.Sprintf("run not found: %s", opts.RunID), nil); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitCommandError, "run not found", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	transitions, err := st.ReadTransitions(ctx, opts.RunID, opts.Signal)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read transitions", err)
	}

	result := TraceResult{
		RunID:       run.ID,
		Scenario:    run.Scenario,
		ConfigHash:  run.ConfigHash,
		Duration:    run.Duration,
		Pass:        run.Pass,
		FirstSeq:    run.FirstSeq,
		LastSeq:     run.LastSeq,
		Counters:    run.Counters,
		Transitions: transitions,
	}

	out := opts.formatter(cmd)
	out.VerboseLog("read %d transitions for run %s", len(transitions), run.ID)
	return out.Success(result)
}

// passStatus returns a human-readable run status.
func passStatus(pass *bool) string {
	switch {
	case pass == nil:
		return "No assertions"
	case *pass:
		return "Passed"
	default:
		return "Failed"
	}
}
