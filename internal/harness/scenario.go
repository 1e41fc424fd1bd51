package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pcielane/internal/sim"
	"github.com/roach88/pcielane/internal/symbol"
)

// Scenario defines a lane bring-up scenario.
// A scenario places a link partner on the far end of a fake transceiver,
// drives the lane's controls at chosen times, and asserts on the recorded
// signal trace.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// RunID is an optional fixed run ID for reproducible stored runs.
	RunID string `yaml:"run_id,omitempty"`

	// Config is an optional YAML or TOML config file, relative to the
	// scenario file.
	Config string `yaml:"config,omitempty"`

	// Partner describes the far end of the lane.
	Partner PartnerSpec `yaml:"partner,omitempty"`

	// Detect overrides the fake's receiver-detection latencies.
	Detect *sim.DetectModel `yaml:"detect,omitempty"`

	// LockDelay overrides the PLL lock time in reference ticks.
	LockDelay *int `yaml:"lock_delay,omitempty"`

	// Watchdog overrides the config's detection watchdog.
	Watchdog *WatchdogSpec `yaml:"watchdog,omitempty"`

	// Steps drive the lane's controls. Each applies before the edges at
	// its time fire.
	Steps []Step `yaml:"steps"`

	// Duration is how much simulated time to run, e.g. "2us". Edges at
	// exactly Duration do not fire.
	Duration string `yaml:"duration"`

	// Signals limits the result trace. Assertions see every signal.
	Signals []string `yaml:"signals,omitempty"`

	// Assertions validate the trace and the lane's final state.
	Assertions []Assertion `yaml:"assertions"`

	duration time.Duration
}

// PartnerSpec is sim.Partner with presence defaulting to true.
type PartnerSpec struct {
	Present      *bool    `yaml:"present,omitempty"`
	Pattern      []string `yaml:"pattern,omitempty"`
	BitOffset    int      `yaml:"bit_offset,omitempty"`
	Inverted     bool     `yaml:"inverted,omitempty"`
	BitErrorRate float64  `yaml:"bit_error_rate,omitempty"`
	Seed         uint64   `yaml:"seed,omitempty"`
}

func (p PartnerSpec) partner() sim.Partner {
	present := true
	if p.Present != nil {
		present = *p.Present
	}
	return sim.Partner{
		Present:      present,
		Pattern:      p.Pattern,
		BitOffset:    p.BitOffset,
		Inverted:     p.Inverted,
		BitErrorRate: p.BitErrorRate,
		Seed:         p.Seed,
	}
}

// WatchdogSpec sets the detection watchdog from a scenario.
type WatchdogSpec struct {
	StallTimeout string `yaml:"stall_timeout"`
	MaxRetries   int    `yaml:"max_retries"`
}

// Step changes lane controls at a point in simulated time. Unset fields
// leave the control alone.
type Step struct {
	// At is when the step applies, e.g. "0ns" or "1.5us".
	At string `yaml:"at"`

	DetectEnable *bool `yaml:"detect_enable,omitempty"`
	AlignEnable  *bool `yaml:"align_enable,omitempty"`
	Invert       *bool `yaml:"invert,omitempty"`

	// Slip requests one bit slip.
	Slip bool `yaml:"slip,omitempty"`

	// Transmit is the two symbols to send, by name.
	Transmit []string `yaml:"transmit,omitempty"`

	at time.Duration
	tx symbol.TxWord
}

// Assertion validates the trace or the lane's final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "final_value": Signal ends at Value
	// - "transition_count": Signal changes exactly Count times, or
	//   changes to Value Count times when Value is set
	// - "reached_by": Signal reaches Value no later than By
	// - "never": Signal never takes Value
	// - "lane_error": the lane reports error Code, or none for ""
	Type string `yaml:"type"`

	Signal string `yaml:"signal,omitempty"`
	Value  string `yaml:"value,omitempty"`
	Count  int    `yaml:"count,omitempty"`
	By     string `yaml:"by,omitempty"`
	Code   string `yaml:"code,omitempty"`

	by time.Duration
}

// Assertion type constants.
const (
	AssertFinalValue      = "final_value"
	AssertTransitionCount = "transition_count"
	AssertReachedBy       = "reached_by"
	AssertNever           = "never"
	AssertLaneError       = "lane_error"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// A relative config path is resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Config != "" && !filepath.IsAbs(scenario.Config) {
		scenario.Config = filepath.Join(filepath.Dir(path), scenario.Config)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks required fields and parses durations and symbol
// names in place.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Duration == "" {
		return fmt.Errorf("duration is required")
	}
	d, err := time.ParseDuration(s.Duration)
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %s", s.Duration)
	}
	s.duration = d

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Watchdog != nil {
		if _, err := time.ParseDuration(s.Watchdog.StallTimeout); err != nil {
			return fmt.Errorf("watchdog.stall_timeout: %w", err)
		}
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
		if s.Steps[i].at >= s.duration {
			return fmt.Errorf("steps[%d].at: %s is not before duration %s", i, s.Steps[i].At, s.Duration)
		}
	}

	for _, sig := range s.Signals {
		if !slices.Contains(sim.Signals, sig) {
			return fmt.Errorf("signals: unknown signal %q", sig)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, st *Step) error {
	if st.At == "" {
		return fmt.Errorf("steps[%d]: at is required", index)
	}
	at, err := time.ParseDuration(st.At)
	if err != nil {
		return fmt.Errorf("steps[%d].at: %w", index, err)
	}
	if at < 0 {
		return fmt.Errorf("steps[%d].at: must not be negative", index)
	}
	st.at = at

	if st.Transmit != nil {
		if len(st.Transmit) != 2 {
			return fmt.Errorf("steps[%d].transmit: need 2 symbols, got %d", index, len(st.Transmit))
		}
		var syms [2]symbol.Symbol
		for i, name := range st.Transmit {
			sym, err := symbol.ParseName(name)
			if err != nil {
				return fmt.Errorf("steps[%d].transmit: %w", index, err)
			}
			syms[i] = sym
		}
		st.tx = symbol.TxPair(syms[0], syms[1])
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	if a.Type != AssertLaneError {
		if a.Signal == "" {
			return fmt.Errorf("assertions[%d]: signal is required for %s", index, a.Type)
		}
		if !slices.Contains(sim.Signals, a.Signal) {
			return fmt.Errorf("assertions[%d]: unknown signal %q", index, a.Signal)
		}
	}

	switch a.Type {
	case AssertFinalValue, AssertNever:
		if a.Value == "" {
			return fmt.Errorf("assertions[%d]: value is required for %s", index, a.Type)
		}
	case AssertTransitionCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for transition_count", index)
		}
	case AssertReachedBy:
		if a.Value == "" {
			return fmt.Errorf("assertions[%d]: value is required for reached_by", index)
		}
		if a.By == "" {
			return fmt.Errorf("assertions[%d]: by is required for reached_by", index)
		}
		by, err := time.ParseDuration(a.By)
		if err != nil {
			return fmt.Errorf("assertions[%d].by: %w", index, err)
		}
		a.by = by
	case AssertLaneError:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
