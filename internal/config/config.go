// Package config loads lane bench settings from YAML or TOML files.
//
// A file only needs the keys it changes; everything else keeps the value
// from Default. Durations are written as Go duration strings ("8ns",
// "1.5us"). Unknown keys are rejected in both formats. The resolved
// configuration is checked against an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/pcielane/internal/lane"
	"github.com/roach88/pcielane/internal/sim"
	"github.com/roach88/pcielane/internal/timing"
)

//go:embed schema.cue
var schemaSource string

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Config is a resolved bench configuration.
type Config struct {
	Timing   timing.Policy       `json:"timing"`
	Clocks   sim.Clocks          `json:"clocks"`
	Watchdog lane.WatchdogConfig `json:"watchdog"`
	Log      LogConfig           `json:"log"`
}

// Default is a PCIe Gen1 lane: 100 MHz reference, 125 MHz byte clocks,
// no watchdog.
func Default() Config {
	return Config{
		Timing: timing.Default(),
		Clocks: sim.DefaultClocks(),
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// SlogLevel maps Log.Level to a slog level.
func (c Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type fileTiming struct {
	TickPeriod  string `yaml:"tick_period" toml:"tick_period"`
	DetectHold  string `yaml:"detect_hold" toml:"detect_hold"`
	StrobeTicks *int   `yaml:"strobe_ticks" toml:"strobe_ticks"`
	AlignWindow *int   `yaml:"align_window" toml:"align_window"`
	InvertAfter *int   `yaml:"invert_after" toml:"invert_after"`
}

type fileClocks struct {
	Ref     string `yaml:"ref" toml:"ref"`
	Rx      string `yaml:"rx" toml:"rx"`
	Tx      string `yaml:"tx" toml:"tx"`
	RxPhase string `yaml:"rx_phase" toml:"rx_phase"`
	TxPhase string `yaml:"tx_phase" toml:"tx_phase"`
}

type fileWatchdog struct {
	StallTimeout string `yaml:"stall_timeout" toml:"stall_timeout"`
	MaxRetries   *int   `yaml:"max_retries" toml:"max_retries"`
}

type fileLog struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// fileConfig mirrors the on-disk layout. Empty strings and nil pointers
// mean "keep the default".
type fileConfig struct {
	Timing   fileTiming   `yaml:"timing" toml:"timing"`
	Clocks   fileClocks   `yaml:"clocks" toml:"clocks"`
	Watchdog fileWatchdog `yaml:"watchdog" toml:"watchdog"`
	Log      fileLog      `yaml:"log" toml:"log"`
}

// Load reads a YAML (.yaml, .yml) or TOML (.toml) file over Default and
// validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = decodeYAML(data, &raw)
	case ".toml":
		err = decodeTOML(data, &raw)
	default:
		return Config{}, fmt.Errorf("config %s: unsupported extension %q", path, ext)
	}
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}

	cfg, err := raw.apply(Default())
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeYAML(data []byte, out *fileConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		// An empty document is an empty override.
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse YAML: %w", err)
	}
	return nil
}

func decodeTOML(data []byte, out *fileConfig) error {
	meta, err := toml.Decode(string(data), out)
	if err != nil {
		return fmt.Errorf("parse TOML: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

func parseDuration(field, s string, dst *time.Duration) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse %s: %w", field, err)
	}
	*dst = d
	return nil
}

func (f fileConfig) apply(cfg Config) (Config, error) {
	durations := []struct {
		field string
		value string
		dst   *time.Duration
	}{
		{"timing.tick_period", f.Timing.TickPeriod, &cfg.Timing.TickPeriod},
		{"timing.detect_hold", f.Timing.DetectHold, &cfg.Timing.DetectHold},
		{"clocks.ref", f.Clocks.Ref, &cfg.Clocks.Ref},
		{"clocks.rx", f.Clocks.Rx, &cfg.Clocks.Rx},
		{"clocks.tx", f.Clocks.Tx, &cfg.Clocks.Tx},
		{"clocks.rx_phase", f.Clocks.RxPhase, &cfg.Clocks.RxPhase},
		{"clocks.tx_phase", f.Clocks.TxPhase, &cfg.Clocks.TxPhase},
		{"watchdog.stall_timeout", f.Watchdog.StallTimeout, &cfg.Watchdog.StallTimeout},
	}
	for _, d := range durations {
		if err := parseDuration(d.field, d.value, d.dst); err != nil {
			return Config{}, err
		}
	}

	// The controllers run on the transmit clock, so tick_period follows
	// clocks.tx. A file may repeat it but not contradict it.
	if f.Timing.TickPeriod == "" {
		cfg.Timing.TickPeriod = cfg.Clocks.Tx
	} else if cfg.Timing.TickPeriod != cfg.Clocks.Tx {
		return Config{}, fmt.Errorf("timing.tick_period %s disagrees with clocks.tx %s",
			cfg.Timing.TickPeriod, cfg.Clocks.Tx)
	}

	if f.Timing.StrobeTicks != nil {
		cfg.Timing.StrobeTicks = *f.Timing.StrobeTicks
	}
	if f.Timing.AlignWindow != nil {
		cfg.Timing.AlignWindow = *f.Timing.AlignWindow
	}
	if f.Timing.InvertAfter != nil {
		cfg.Timing.InvertAfter = *f.Timing.InvertAfter
	}
	if f.Watchdog.MaxRetries != nil {
		cfg.Watchdog.MaxRetries = *f.Watchdog.MaxRetries
	}
	if f.Log.Level != "" {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(f.Log.Level))
	}
	if f.Log.Format != "" {
		cfg.Log.Format = strings.ToLower(strings.TrimSpace(f.Log.Format))
	}
	return cfg, nil
}

// schemaView is the shape the CUE schema constrains.
type schemaView struct {
	Timing struct {
		TickPeriodNS int64 `json:"tick_period_ns"`
		DetectHoldNS int64 `json:"detect_hold_ns"`
		StrobeTicks  int   `json:"strobe_ticks"`
		AlignWindow  int   `json:"align_window"`
		InvertAfter  int   `json:"invert_after"`
	} `json:"timing"`
	Clocks struct {
		RefNS     int64 `json:"ref_ns"`
		RxNS      int64 `json:"rx_ns"`
		TxNS      int64 `json:"tx_ns"`
		RxPhaseNS int64 `json:"rx_phase_ns"`
		TxPhaseNS int64 `json:"tx_phase_ns"`
	} `json:"clocks"`
	Watchdog struct {
		StallTimeoutNS int64 `json:"stall_timeout_ns"`
		MaxRetries     int   `json:"max_retries"`
	} `json:"watchdog"`
	Log LogConfig `json:"log"`
}

func (c Config) view() schemaView {
	var v schemaView
	v.Timing.TickPeriodNS = c.Timing.TickPeriod.Nanoseconds()
	v.Timing.DetectHoldNS = c.Timing.DetectHold.Nanoseconds()
	v.Timing.StrobeTicks = c.Timing.StrobeTicks
	v.Timing.AlignWindow = c.Timing.AlignWindow
	v.Timing.InvertAfter = c.Timing.InvertAfter
	v.Clocks.RefNS = c.Clocks.Ref.Nanoseconds()
	v.Clocks.RxNS = c.Clocks.Rx.Nanoseconds()
	v.Clocks.TxNS = c.Clocks.Tx.Nanoseconds()
	v.Clocks.RxPhaseNS = c.Clocks.RxPhase.Nanoseconds()
	v.Clocks.TxPhaseNS = c.Clocks.TxPhase.Nanoseconds()
	v.Watchdog.StallTimeoutNS = c.Watchdog.StallTimeout.Nanoseconds()
	v.Watchdog.MaxRetries = c.Watchdog.MaxRetries
	v.Log = c.Log
	return v
}

// Validate checks the configuration against the CUE schema and the
// timing and watchdog rules.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	val := ctx.Encode(c.view())
	if err := val.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema: %w", err)
	}

	if err := c.Timing.Validate(); err != nil {
		return err
	}
	return c.Watchdog.Validate()
}

// Policy returns the timing policy on the transmit clock. Validate keeps
// Timing.TickPeriod equal to Clocks.Tx; Policy holds to that for configs
// built in code that were never validated.
func (c Config) Policy() timing.Policy {
	return c.Timing.ForPeriod(c.Clocks.Tx)
}

// Bench returns a bench configuration for fake.
func (c Config) Bench(fake sim.Config, logger *slog.Logger) sim.BenchConfig {
	return sim.BenchConfig{
		Clocks:   c.Clocks,
		Policy:   c.Timing,
		Watchdog: c.Watchdog,
		Fake:     fake,
		Logger:   logger,
	}
}
