package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pcielane/internal/sim"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8*time.Nanosecond, cfg.Timing.TickPeriod)
	assert.False(t, cfg.Watchdog.Enabled())
	assert.Equal(t, 14, cfg.Policy().HoldReload())
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load("testdata/lane.yaml")
	require.NoError(t, err)

	assert.Equal(t, 128, cfg.Timing.AlignWindow)
	assert.Equal(t, 65536, cfg.Timing.InvertAfter, "unset keys keep defaults")
	assert.Equal(t, 4*time.Nanosecond, cfg.Clocks.Tx)
	assert.Equal(t, 10*time.Nanosecond, cfg.Clocks.Ref)
	assert.Equal(t, 2*time.Microsecond, cfg.Watchdog.StallTimeout)
	assert.Equal(t, 3, cfg.Watchdog.MaxRetries)
	assert.Equal(t, "debug", cfg.Log.Level)

	assert.Equal(t, 4*time.Nanosecond, cfg.Timing.TickPeriod, "tick period follows clocks.tx")

	// 120 ns at 4 ns needs 30 ticks.
	assert.Equal(t, 29, cfg.Policy().HoldReload())
}

func TestLoad_TOML(t *testing.T) {
	cfg, err := Load("testdata/lane.toml")
	require.NoError(t, err)

	assert.Equal(t, 10*time.Nanosecond, cfg.Timing.TickPeriod)
	assert.Equal(t, 32768, cfg.Timing.InvertAfter)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 11, cfg.Policy().HoldReload())
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	for _, path := range []string{"testdata/unknown.yaml", "testdata/unknown.toml"} {
		t.Run(filepath.Ext(path), func(t *testing.T) {
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0644))
		return p
	}

	tests := []struct {
		name string
		path string
		msg  string
	}{
		{"missing", filepath.Join(dir, "nope.yaml"), "read config"},
		{"extension", write("lane.json", "{}"), "unsupported extension"},
		{"bad duration", write("d.yaml", "clocks:\n  tx: fast\n"), "clocks.tx"},
		{"schema", write("s.yaml", "timing:\n  invert_after: 16\n"), "schema"},
		{"log level", write("l.toml", "[log]\nlevel = \"loud\"\n"), "schema"},
		{"phase", write("p.yaml", "clocks:\n  rx_phase: 9ns\n"), "schema"},
		{"negative retries", write("w.yaml", "watchdog:\n  max_retries: -1\n"), "schema"},
		{"tick period without tx", write("t.toml", "[timing]\ntick_period = \"10ns\"\n"), "timing.tick_period 10ns disagrees with clocks.tx 8ns"},
		{"tick period against tx", write("t.yaml", "timing:\n  tick_period: 4ns\nclocks:\n  tx: 10ns\n"), "disagrees with clocks.tx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestValidate_TickPeriodMatchesTxClock(t *testing.T) {
	cfg := Default()
	cfg.Timing.TickPeriod = 10 * time.Nanosecond
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")

	cfg.Clocks.Tx = 10 * time.Nanosecond
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EmptyFileIsDefault(t *testing.T) {
	p := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(p, nil, 0644))

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestConfig_Bench(t *testing.T) {
	cfg, err := Load("testdata/lane.yaml")
	require.NoError(t, err)

	bc := cfg.Bench(sim.DefaultConfig(), nil)
	b, err := sim.NewBench(bc)
	require.NoError(t, err)
	assert.Equal(t, 29, b.Lane().Policy().HoldReload())
}
