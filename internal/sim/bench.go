package sim

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/pcielane/internal/engine"
	"github.com/roach88/pcielane/internal/lane"
	"github.com/roach88/pcielane/internal/timing"
)

// Domain names.
const (
	DomainRef = "ref"
	DomainRx  = "rx"
	DomainTx  = "tx"
)

// Clocks sets each domain's period and first edge.
type Clocks struct {
	Ref     time.Duration `yaml:"ref" toml:"ref" json:"ref"`
	Rx      time.Duration `yaml:"rx" toml:"rx" json:"rx"`
	Tx      time.Duration `yaml:"tx" toml:"tx" json:"tx"`
	RxPhase time.Duration `yaml:"rx_phase" toml:"rx_phase" json:"rx_phase"`
	TxPhase time.Duration `yaml:"tx_phase" toml:"tx_phase" json:"tx_phase"`
}

// DefaultClocks is a 100 MHz reference with 125 MHz recovered and transmit
// byte clocks.
func DefaultClocks() Clocks {
	return Clocks{
		Ref: 10 * time.Nanosecond,
		Rx:  8 * time.Nanosecond,
		Tx:  8 * time.Nanosecond,
	}
}

// BenchConfig configures a Bench.
type BenchConfig struct {
	Clocks   Clocks              `json:"clocks"`
	Policy   timing.Policy       `json:"policy"`
	Watchdog lane.WatchdogConfig `json:"watchdog"`
	Fake     Config              `json:"fake"`
	Logger   *slog.Logger        `json:"-"`

	// Clock, if set, continues seq numbering from an earlier run.
	Clock *engine.Clock `json:"-"`
}

// DefaultBenchConfig is a healthy lane with default timing.
func DefaultBenchConfig() BenchConfig {
	return BenchConfig{
		Clocks: DefaultClocks(),
		Policy: timing.Default(),
		Fake:   DefaultConfig(),
	}
}

// Bench is a lane on a fake transceiver in simulated time.
type Bench struct {
	sched *engine.Scheduler
	fake  *Fake
	lane  *lane.Lane
	probe *Probe
}

// NewBench builds the fake, the lane and the scheduler. The timing policy is
// retargeted to the transmit clock period so the nanosecond holds are kept.
func NewBench(cfg BenchConfig) (*Bench, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	fake, err := NewFake(cfg.Fake)
	if err != nil {
		return nil, fmt.Errorf("fake transceiver: %w", err)
	}

	policy := cfg.Policy
	if cfg.Clocks.Tx > 0 {
		policy = policy.ForPeriod(cfg.Clocks.Tx)
	}
	l, err := lane.New(fake,
		lane.WithPolicy(policy),
		lane.WithWatchdog(cfg.Watchdog),
		lane.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("lane: %w", err)
	}

	opts := []engine.SchedulerOption{engine.WithLogger(logger)}
	if cfg.Clock != nil {
		opts = append(opts, engine.WithClock(cfg.Clock))
	}

	b := &Bench{
		sched: engine.NewScheduler(opts...),
		fake:  fake,
		lane:  l,
		probe: NewProbe(),
	}

	domains := []struct {
		name          string
		period, phase time.Duration
		fn            engine.TickFunc
	}{
		{DomainRef, cfg.Clocks.Ref, 0, b.refTick},
		{DomainRx, cfg.Clocks.Rx, cfg.Clocks.RxPhase, b.rxTick},
		{DomainTx, cfg.Clocks.Tx, cfg.Clocks.TxPhase, b.txTick},
	}
	for _, d := range domains {
		if err := b.sched.AddDomain(d.name, d.period, d.phase, d.fn); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Bench) refTick(e engine.Edge) {
	b.fake.RefTick()
	b.probe.sampleRef(e, b.fake)
}

func (b *Bench) rxTick(e engine.Edge) {
	b.fake.RxTick()
	b.lane.RxTick()
	b.probe.sampleRx(e, b.lane)
}

func (b *Bench) txTick(e engine.Edge) {
	b.lane.TxTick()
	b.probe.sampleTx(e, b.lane)
}

// RunFor advances simulated time by d.
func (b *Bench) RunFor(ctx context.Context, d time.Duration) error {
	return b.sched.RunFor(ctx, d)
}

// RunBefore fires every edge earlier than the absolute simulated time t.
func (b *Bench) RunBefore(ctx context.Context, t time.Duration) error {
	return b.sched.RunBefore(ctx, t)
}

// RunUntil advances until done holds or limit elapses.
func (b *Bench) RunUntil(ctx context.Context, done func() bool, limit time.Duration) error {
	return b.sched.RunUntil(ctx, done, limit)
}

// Now returns the current simulated time.
func (b *Bench) Now() time.Duration {
	return b.sched.Now()
}

// Ticks returns how many edges a domain has fired.
func (b *Bench) Ticks(domain string) int64 {
	return b.sched.Ticks(domain)
}

// Lane returns the lane under test.
func (b *Bench) Lane() *lane.Lane {
	return b.lane
}

// Fake returns the transceiver.
func (b *Bench) Fake() *Fake {
	return b.fake
}

// Probe returns the signal recorder.
func (b *Bench) Probe() *Probe {
	return b.probe
}

// Clock returns the logical clock stamping the run.
func (b *Bench) Clock() *engine.Clock {
	return b.sched.Clock()
}
