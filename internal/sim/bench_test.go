package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pcielane/internal/align"
	"github.com/roach88/pcielane/internal/lane"
	"github.com/roach88/pcielane/internal/symbol"
)

func newTestBench(t *testing.T, mutate func(*BenchConfig)) *Bench {
	t.Helper()
	cfg := DefaultBenchConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	b, err := NewBench(cfg)
	require.NoError(t, err)
	return b
}

func rxTicks(n int) time.Duration {
	return time.Duration(n-1) * DefaultClocks().Rx
}

func TestBench_AlignedStreamLocksAtFirstWindow(t *testing.T) {
	b := newTestBench(t, nil)
	b.Lane().SetAlignEnable(true)

	require.NoError(t, b.RunFor(context.Background(), rxTicks(256)))

	locked, ok := b.Probe().First(SignalAlignState, align.Locked.String())
	require.True(t, ok)
	assert.Equal(t, int64(0), locked.Tick)
	assert.Zero(t, b.Probe().Count(SignalSlips))
	v, _ := b.Probe().Value(SignalSlips)
	assert.Equal(t, "0", v, "slip never toggled")
	assert.Zero(t, b.Fake().Slips())
}

func TestBench_OffsetStreamSlipsOncePerWindow(t *testing.T) {
	b := newTestBench(t, func(c *BenchConfig) {
		c.Fake.Partner.BitOffset = 3
	})
	b.Lane().SetAlignEnable(true)

	require.NoError(t, b.RunFor(context.Background(), rxTicks(1024)))

	var ticks []int64
	var values []string
	for _, tr := range b.Probe().Filter(SignalSlips) {
		ticks = append(ticks, tr.Tick)
		values = append(values, tr.Value)
	}
	assert.Equal(t, []int64{0, 256, 512}, ticks)
	assert.Equal(t, []string{"1", "2", "3"}, values)

	locked, ok := b.Probe().First(SignalAlignState, align.Locked.String())
	require.True(t, ok)
	assert.Equal(t, int64(768), locked.Tick)
	assert.Equal(t, 3, b.Fake().Slips())
}

func TestBench_InvertedWiringStillLocks(t *testing.T) {
	// K27.7 and K28.5 are their own complements' symbols, so the framing
	// pair decodes the same under either polarity.
	b := newTestBench(t, func(c *BenchConfig) {
		c.Fake.Partner.Inverted = true
		c.Fake.Partner.BitOffset = 2
	})
	b.Lane().SetAlignEnable(true)
	require.NoError(t, b.RunFor(context.Background(), rxTicks(1024)))

	assert.Equal(t, align.Locked, b.Lane().Internals().AlignState)
	assert.Equal(t, uint64(2), b.Lane().Internals().SlipRequests)
	assert.False(t, b.Lane().Internals().Invert)
}

func TestBench_DetectsPresentReceiver(t *testing.T) {
	b := newTestBench(t, nil)
	b.Lane().SetDetectEnable(true)

	err := b.RunUntil(context.Background(), func() bool {
		return b.Lane().Status().DetValid
	}, 2*time.Microsecond)
	require.NoError(t, err)

	st := b.Lane().Status()
	assert.True(t, st.DetStatus)

	p := b.Probe()
	detEn, ok := p.First(SignalDetEn, "1")
	require.True(t, ok)
	assert.Equal(t, int64(15), detEn.Tick)
	strobe := p.Filter(SignalStrobe)
	require.Len(t, strobe, 3)
	assert.Equal(t, int64(31), strobe[1].Tick)
	assert.Equal(t, int64(35), strobe[2].Tick)
	assert.Equal(t, int64(16), strobe[1].Tick-detEn.Tick, "det_en leads the strobe by 16 ticks")

	// done dipped low before the result was trusted
	_, ok = p.First(SignalDone, "0")
	assert.True(t, ok)

	_, idle := b.Fake().TxWords()
	assert.NotZero(t, idle, "transmitter idles during detection")
}

func TestBench_NoReceiver(t *testing.T) {
	b := newTestBench(t, func(c *BenchConfig) {
		c.Fake.Partner.Present = false
	})
	b.Lane().SetDetectEnable(true)
	b.Lane().SetAlignEnable(true)

	err := b.RunUntil(context.Background(), func() bool {
		return b.Lane().Status().DetValid
	}, 2*time.Microsecond)
	require.NoError(t, err)

	st := b.Lane().Status()
	assert.False(t, st.DetStatus)
	assert.False(t, st.Present)
	assert.False(t, st.Locked)
	assert.False(t, st.Aligned)
	assert.Equal(t, align.Search, b.Lane().Internals().AlignState)
}

func TestBench_LinkComesUp(t *testing.T) {
	b := newTestBench(t, nil)
	b.Lane().SetAlignEnable(true)
	require.NoError(t, b.RunFor(context.Background(), time.Microsecond))

	st := b.Lane().Status()
	assert.True(t, st.Present)
	assert.True(t, st.Locked)
	assert.True(t, st.Aligned)
	assert.True(t, st.TxLocked)
	assert.Equal(t, [2]bool{true, true}, st.RxValid)
	assert.Equal(t, symbol.Pair(symbol.STP, symbol.COM).Symbols(), st.Symbols.Symbols())

	locked, ok := b.Probe().First(SignalLocked, "1")
	require.True(t, ok)
	assert.GreaterOrEqual(t, locked.Time, 500*time.Nanosecond, "locks after the PLL delay")
}

func TestBench_StuckDoneWatchdog(t *testing.T) {
	b := newTestBench(t, func(c *BenchConfig) {
		c.Fake.Detect.StuckDone = true
		c.Watchdog = lane.WatchdogConfig{StallTimeout: 200 * time.Nanosecond, MaxRetries: 1}
	})
	b.Lane().SetDetectEnable(true)

	err := b.RunUntil(context.Background(), func() bool {
		return b.Lane().Err() != nil
	}, 10*time.Microsecond)
	require.NoError(t, err)
	assert.True(t, lane.IsDetectStall(b.Lane().Err()))
	assert.False(t, b.Lane().Status().DetValid)
}

func TestBench_StuckDoneWithoutWatchdogTimesOut(t *testing.T) {
	b := newTestBench(t, func(c *BenchConfig) {
		c.Fake.Detect.StuckDone = true
	})
	b.Lane().SetDetectEnable(true)

	err := b.RunUntil(context.Background(), func() bool {
		return b.Lane().Status().DetValid
	}, 5*time.Microsecond)
	require.Error(t, err)
	assert.NoError(t, b.Lane().Err())
}

func TestBench_BitErrorsAreDeterministic(t *testing.T) {
	run := func() lane.Counters {
		b := newTestBench(t, func(c *BenchConfig) {
			c.Fake.Partner.BitErrorRate = 0.01
			c.Fake.Partner.Seed = 7
		})
		b.Lane().SetAlignEnable(true)
		require.NoError(t, b.RunFor(context.Background(), 4*time.Microsecond))
		return b.Lane().Counters()
	}

	first := run()
	assert.NotZero(t, first.DecodeErrors+first.DisparityErrors)
	assert.Equal(t, first, run())
}

func TestBench_TimingFollowsTxClock(t *testing.T) {
	b := newTestBench(t, func(c *BenchConfig) {
		c.Clocks.Tx = 4 * time.Nanosecond
	})
	b.Lane().SetDetectEnable(true)
	require.NoError(t, b.RunFor(context.Background(), 400*time.Nanosecond))

	detEn, ok := b.Probe().First(SignalDetEn, "1")
	require.True(t, ok)
	assert.Equal(t, int64(30), detEn.Tick)
	assert.Equal(t, 120*time.Nanosecond, detEn.Time)
}

func TestBench_RejectsBadPattern(t *testing.T) {
	cfg := DefaultBenchConfig()
	cfg.Fake.Partner.Pattern = []string{"COM"}
	_, err := NewBench(cfg)
	assert.Error(t, err)

	cfg.Fake.Partner.Pattern = []string{"COM", "K1.0"}
	_, err = NewBench(cfg)
	assert.Error(t, err, "K1.0 has no 8b/10b code")
}

func TestBench_CustomPattern(t *testing.T) {
	b := newTestBench(t, func(c *BenchConfig) {
		c.Fake.Partner.Pattern = []string{"COM", "D10.2", "COM", "D21.5"}
	})
	require.NoError(t, b.RunFor(context.Background(), rxTicks(2)))
	got := b.Lane().Status().Symbols.Symbols()
	assert.Equal(t, [2]symbol.Symbol{symbol.COM, symbol.D(21, 5)}, got)
}
