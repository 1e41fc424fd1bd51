package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"github.com/roach88/pcielane/internal/engine"
	"github.com/roach88/pcielane/internal/harness"
	"github.com/roach88/pcielane/internal/lane"
	"github.com/roach88/pcielane/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	RunID    string

	// RunIDs allows overriding the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator
}

// RunSummary is the run command's output.
type RunSummary struct {
	Scenario  string        `json:"scenario"`
	RunID     string        `json:"run_id"`
	Pass      bool          `json:"pass"`
	Duration  time.Duration `json:"duration"`
	FirstSeq  int64         `json:"first_seq"`
	LastSeq   int64         `json:"last_seq"`
	Edges     int64         `json:"edges"`
	Status    lane.Status   `json:"status"`
	Counters  lane.Counters `json:"counters"`
	LaneError string        `json:"lane_error,omitempty"`
	Errors    []string      `json:"errors,omitempty"`
	Stored    bool          `json:"stored"`
}

// WriteText implements TextWriter.
func (s RunSummary) WriteText(p *message.Printer, w io.Writer) error {
	mark := "✓"
	if !s.Pass {
		mark = "✗"
	}
	p.Fprintf(w, "%s %s (run %s)\n", mark, s.Scenario, s.RunID)
	p.Fprintf(w, "  Simulated: %s, %d edges (seq %d..%d)\n", s.Duration.String(), s.Edges, s.FirstSeq, s.LastSeq)
	p.Fprintf(w, "  Status: present=%t locked=%t aligned=%t tx_locked=%t\n",
		s.Status.Present, s.Status.Locked, s.Status.Aligned, s.Status.TxLocked)
	p.Fprintf(w, "  Detect: det_status=%t det_valid=%t\n", s.Status.DetStatus, s.Status.DetValid)
	p.Fprintf(w, "  Counters: %d rx ticks, %d tx ticks, %d decode errors, %d detections\n",
		s.Counters.RxTicks, s.Counters.TxTicks, s.Counters.DecodeErrors, s.Counters.Detections)
	if s.LaneError != "" {
		p.Fprintf(w, "  Lane error: %s\n", s.LaneError)
	}
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
	if s.Stored {
		fmt.Fprintln(w, "  Stored.")
	}
	return nil
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run one scenario",
		Long: `Run a lane scenario on a fresh bench and report the outcome.

With --db the run and its signal transitions are stored in a SQLite
database (created if it doesn't exist). Seq numbers continue from the
last stored run so every stored transition has a unique seq.

Exit codes:
  0 - Scenario passed
  1 - An assertion failed
  2 - Command error (bad scenario, database, etc.)

Examples:
  lanesim run ./scenarios/aligned.yaml
  lanesim run ./scenarios/aligned.yaml --db ./lanesim.db
  lanesim run ./scenarios/aligned.yaml --db ./lanesim.db --run-id smoke-1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioCmd(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database to store the run")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run ID, overriding the scenario's")

	return cmd
}

func runScenarioCmd(opts *RunOptions, path string, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := opts.newLogger(cmd.ErrOrStderr(), cfg)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	if opts.RunID != "" {
		scenario.RunID = opts.RunID
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	hopts := []harness.Option{
		harness.WithConfig(cfg),
		harness.WithLogger(logger),
	}
	if opts.RunIDs != nil {
		hopts = append(hopts, harness.WithRunIDs(opts.RunIDs))
	}

	var st *store.Store
	if opts.Database != "" {
		logger.Debug("opening database", "path", opts.Database)
		st, err = store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()

		if scenario.RunID != "" {
			_, err := st.ReadRun(ctx, scenario.RunID)
			if err == nil {
				return NewExitError(ExitCommandError, fmt.Sprintf("run already stored: %s", scenario.RunID))
			}
			if !errors.Is(err, store.ErrRunNotFound) {
				return WrapExitError(ExitCommandError, "failed to check run ID", err)
			}
		}

		last, err := st.MaxSeq(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read last seq", err)
		}
		hopts = append(hopts, harness.WithClock(engine.NewClockAt(last)))
	}

	result, err := harness.Run(ctx, scenario, hopts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenario", err)
	}

	if st != nil {
		if err := storeResult(ctx, st, scenario, result); err != nil {
			return WrapExitError(ExitCommandError, "failed to store run", err)
		}
		logger.Debug("run stored", "run_id", result.RunID, "transitions", len(result.Trace))
	}

	summary := RunSummary{
		Scenario:  scenario.Name,
		RunID:     result.RunID,
		Pass:      result.Pass,
		Duration:  result.Duration,
		FirstSeq:  result.FirstSeq,
		LastSeq:   result.LastSeq,
		Edges:     result.LastSeq - result.FirstSeq + 1,
		Status:    result.Status,
		Counters:  result.Counters,
		LaneError: result.LaneError,
		Errors:    result.Errors,
		Stored:    st != nil,
	}

	var failure *CLIError
	if !result.Pass {
		failure = &CLIError{
			Code:    "E_SCENARIO_FAILED",
			Message: fmt.Sprintf("%d assertion(s) failed", len(result.Errors)),
			Details: result.Errors,
		}
	}
	if err := opts.formatter(cmd).Result(summary, failure); err != nil {
		return err
	}

	if failure != nil {
		return NewExitError(ExitFailure, failure.Message)
	}
	return nil
}

// storeResult writes the run row and its transitions.
func storeResult(ctx context.Context, st *store.Store, scenario *harness.Scenario, result *harness.Result) error {
	cfgJSON, err := json.Marshal(result.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	pass := result.Pass
	run := store.Run{
		ID:       result.RunID,
		Scenario: scenario.Name,
		Config:   cfgJSON,
		Duration: result.Duration,
		Pass:     &pass,
		FirstSeq: result.FirstSeq,
		LastSeq:  result.LastSeq,
		Counters: result.Counters.Map(),
	}
	if err := st.WriteRun(ctx, run); err != nil {
		return err
	}
	return st.WriteTransitions(ctx, result.RunID, result.Trace)
}

// signalContext cancels on SIGINT or SIGTERM. It uses the command's context
// when one is set (for testing).
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, stopping", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
