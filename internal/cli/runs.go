package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"github.com/roach88/pcielane/internal/store"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Database   string
	ConfigHash string // optional - hash prefix
}

// RunRow is one stored run in the runs listing.
type RunRow struct {
	ID         string        `json:"id"`
	Scenario   string        `json:"scenario"`
	ConfigHash string        `json:"config_hash"`
	Duration   time.Duration `json:"duration"`
	Pass       *bool         `json:"pass,omitempty"`
	FirstSeq   int64         `json:"first_seq"`
	LastSeq    int64         `json:"last_seq"`
}

// RunsResult lists stored runs, oldest first.
type RunsResult struct {
	Runs []RunRow `json:"runs"`
}

// WriteText implements TextWriter.
func (r RunsResult) WriteText(p *message.Printer, w io.Writer) error {
	if len(r.Runs) == 0 {
		fmt.Fprintln(w, "No runs stored.")
		return nil
	}
	for _, run := range r.Runs {
		p.Fprintf(w, "%s  %s  %-13s %s (%s, seq %d..%d)\n",
			run.ID, shortHash(run.ConfigHash), passStatus(run.Pass), run.Scenario,
			run.Duration.String(), run.FirstSeq, run.LastSeq)
	}
	p.Fprintf(w, "\n%d run(s)\n", len(r.Runs))
	return nil
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored runs",
		Long: `List the runs stored in a database, oldest first.

Each run shows the start of its config hash. Runs with the same hash ran
on identical settings; --config-hash lists only those.

Examples:
  lanesim runs --db ./lanesim.db
  lanesim runs --db ./lanesim.db --config-hash 3f2a9c
  lanesim runs --db ./lanesim.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.ConfigHash, "config-hash", "", "only runs whose config hash starts with this prefix")

	return cmd
}

func runRuns(opts *RunsOptions, cmd *cobra.Command) error {
	st, err := openExisting(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := commandContext(cmd)
	var runs []store.Run
	if opts.ConfigHash != "" {
		runs, err = st.ListRunsByConfig(ctx, opts.ConfigHash)
	} else {
		runs, err = st.ListRuns(ctx)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	result := RunsResult{Runs: make([]RunRow, 0, len(runs))}
	for _, r := range runs {
		result.Runs = append(result.Runs, RunRow{
			ID:         r.ID,
			Scenario:   r.Scenario,
			ConfigHash: r.ConfigHash,
			Duration:   r.Duration,
			Pass:       r.Pass,
			FirstSeq:   r.FirstSeq,
			LastSeq:    r.LastSeq,
		})
	}
	return opts.formatter(cmd).Success(result)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// openExisting opens a database that must already exist. store.Open would
// create an empty one.
func openExisting(path string) (*store.Store, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path))
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// commandContext returns the command's context, or Background when it was
// run without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
