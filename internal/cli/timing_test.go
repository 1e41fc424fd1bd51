package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimingDefault(t *testing.T) {
	out, err := executeCmd(t, NewTimingCommand, &RootOptions{Format: "text"})
	require.NoError(t, err)

	assert.Contains(t, out, "Timing policy (tx clock 8ns)")
	assert.Contains(t, out, "Detect hold:  120ns -> 15 ticks (120ns)")
	assert.Contains(t, out, "Strobe:       4 ticks")
	assert.Contains(t, out, "Align window: 256 rx ticks (2.048µs)")
	assert.Contains(t, out, "Invert after: 65,536 rx ticks (524.288µs)")
	assert.Contains(t, out, "ref 10ns, rx 8ns, tx 8ns")
	assert.Contains(t, out, "disabled")
}

func TestTimingWithWatchdog(t *testing.T) {
	rootOpts := &RootOptions{Format: "text", Config: filepath.Join("testdata", "watchdog.toml")}
	out, err := executeCmd(t, NewTimingCommand, rootOpts)
	require.NoError(t, err)
	assert.Contains(t, out, "stall timeout 2µs (250 ticks), max retries 3")
}

func TestTimingJSON(t *testing.T) {
	out, err := executeCmd(t, NewTimingCommand, &RootOptions{Format: "json"})
	require.NoError(t, err)

	var resp struct {
		Data TimingResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 15, resp.Data.HoldTicks)
	assert.Equal(t, 120*time.Nanosecond, resp.Data.HoldTime)
	assert.Equal(t, 8*time.Nanosecond, resp.Data.Policy.TickPeriod)
	assert.Zero(t, resp.Data.StallTicks)
}

func TestTimingBadConfig(t *testing.T) {
	rootOpts := &RootOptions{Format: "text", Config: filepath.Join("testdata", "missing.toml")}
	_, err := executeCmd(t, NewTimingCommand, rootOpts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}
