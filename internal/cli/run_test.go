package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pcielane/internal/store"
)

const alignedRunID = "01900000-0000-7000-8000-000000000001"

var (
	alignedScenario    = filepath.Join("testdata", "scenarios", "aligned.yaml")
	noReceiverScenario = filepath.Join("testdata", "scenarios", "no_receiver.yaml")
	failingScenario    = filepath.Join("testdata", "failing", "misaligned.yaml")
)

// executeRun runs the run command and returns stdout.
func executeRun(t *testing.T, rootOpts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRunCommandMissingArgs(t *testing.T) {
	_, err := executeRun(t, &RootOptions{Format: "text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestRunCommandNonExistentScenario(t *testing.T) {
	_, err := executeRun(t, &RootOptions{Format: "text"}, "/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load scenario")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunCommandPassing(t *testing.T) {
	out, err := executeRun(t, &RootOptions{Format: "text"}, alignedScenario)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ aligned (run "+alignedRunID+")")
	assert.Contains(t, out, "aligned=true")
	assert.NotContains(t, out, "Stored.")
}

func TestRunCommandNegativeDetection(t *testing.T) {
	out, err := executeRun(t, &RootOptions{Format: "text"}, noReceiverScenario)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ no_receiver")
	assert.Contains(t, out, "det_status=false det_valid=true")
}

func TestRunCommandFailing(t *testing.T) {
	out, err := executeRun(t, &RootOptions{Format: "text"}, failingScenario)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 assertion(s) failed")

	assert.Contains(t, out, "✗ misaligned")
	assert.Contains(t, out, "Assertion failed: final_value align_state")
}

func TestRunCommandJSON(t *testing.T) {
	out, err := executeRun(t, &RootOptions{Format: "json"}, alignedScenario)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Pass)
	assert.Equal(t, alignedRunID, resp.Data.RunID)
	assert.Equal(t, int64(1), resp.Data.FirstSeq)
	assert.Equal(t, resp.Data.LastSeq, resp.Data.Edges)
	assert.True(t, resp.Data.Status.Aligned)
}

func TestRunCommandJSONFailing(t *testing.T) {
	out, err := executeRun(t, &RootOptions{Format: "json"}, failingScenario)
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_SCENARIO_FAILED", resp.Error.Code)
	assert.NotNil(t, resp.Data)
}

func TestRunCommandStoresRun(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "lanesim.db")

	out, err := executeRun(t, &RootOptions{Format: "text"}, alignedScenario, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Stored.")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	run, err := st.ReadRun(ctx, alignedRunID)
	require.NoError(t, err)
	assert.Equal(t, "aligned", run.Scenario)
	require.NotNil(t, run.Pass)
	assert.True(t, *run.Pass)
	assert.Equal(t, int64(1), run.FirstSeq)
	assert.NotZero(t, run.Counters["rx_ticks"])
	assert.Contains(t, string(run.Config), `"clocks"`)

	transitions, err := st.ReadTransitions(ctx, alignedRunID, "")
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, "align_state", transitions[0].Signal)
	assert.Equal(t, "LOCKED", transitions[0].Value)
}

func TestRunCommandContinuesSeq(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "lanesim.db")

	_, err := executeRun(t, &RootOptions{Format: "text"}, alignedScenario, "--db", dbPath)
	require.NoError(t, err)
	_, err = executeRun(t, &RootOptions{Format: "text"}, alignedScenario, "--db", dbPath, "--run-id", "second")
	require.NoError(t, err)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	first, err := st.ReadRun(ctx, alignedRunID)
	require.NoError(t, err)
	second, err := st.ReadRun(ctx, "second")
	require.NoError(t, err)

	assert.Equal(t, first.LastSeq+1, second.FirstSeq)
	assert.Equal(t, first.LastSeq-first.FirstSeq, second.LastSeq-second.FirstSeq, "same scenario, same edge count")

	transitions, err := st.ReadTransitions(ctx, "second", "align_state")
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Greater(t, transitions[0].Seq, first.LastSeq)
}

func TestRunCommandDuplicateRunID(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "lanesim.db")

	_, err := executeRun(t, &RootOptions{Format: "text"}, alignedScenario, "--db", dbPath)
	require.NoError(t, err)

	_, err = executeRun(t, &RootOptions{Format: "text"}, alignedScenario, "--db", dbPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run already stored")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunCommandStoresFailingRun(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "lanesim.db")

	_, err := executeRun(t, &RootOptions{Format: "text"}, failingScenario, "--db", dbPath, "--run-id", "bad")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	run, err := st.ReadRun(context.Background(), "bad")
	require.NoError(t, err)
	require.NotNil(t, run.Pass)
	assert.False(t, *run.Pass)
}

func TestRunCommandCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{alignedScenario})

	err := cmd.ExecuteContext(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to run scenario")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunCommandConfig(t *testing.T) {
	rootOpts := &RootOptions{Format: "json", Config: filepath.Join("testdata", "watchdog.toml")}
	out, err := executeRun(t, rootOpts, noReceiverScenario)
	require.NoError(t, err)
	assert.Contains(t, out, `"pass": true`)
}
