package detect

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pcielane/internal/timing"
)

var enabled = Inputs{Enable: true, Done: true}

// run ticks c n times with the same inputs and returns every output.
func run(c *Controller, in Inputs, n int) []Outputs {
	out := make([]Outputs, n)
	for i := range out {
		out[i] = c.Tick(in)
	}
	return out
}

func TestController_DetectTiming(t *testing.T) {
	c := New(timing.Default())
	out := run(c, enabled, 40)

	firstDetEn := -1
	var strobeTicks []int
	for i, o := range out {
		if o.DetectEnable && firstDetEn < 0 {
			firstDetEn = i
		}
		if o.Strobe {
			strobeTicks = append(strobeTicks, i)
		}
	}

	assert.Equal(t, 15, firstDetEn, "det_en must rise 15 ticks after enable")
	assert.Equal(t, []int{31, 32, 33, 34}, strobeTicks, "strobe is one 4-tick pulse")
	assert.Equal(t, 16, strobeTicks[0]-firstDetEn, "det_en leads the strobe by 15+1 ticks")
	assert.Equal(t, WaitDoneLow, c.State())
	for _, o := range out {
		assert.False(t, o.Valid)
	}
}

func TestController_TimingFollowsPeriod(t *testing.T) {
	// 4 ns ticks need twice the hold ticks to keep 120 ns.
	c := New(timing.Default().ForPeriod(4 * time.Nanosecond))
	out := run(c, enabled, 70)

	first := func(pred func(Outputs) bool) int {
		for i, o := range out {
			if pred(o) {
				return i
			}
		}
		return -1
	}
	assert.Equal(t, 30, first(func(o Outputs) bool { return o.DetectEnable }))
	assert.Equal(t, 61, first(func(o Outputs) bool { return o.Strobe }))
}

func TestController_WaitsForLowBeforeHigh(t *testing.T) {
	c := New(timing.Default())
	run(c, enabled, 36)
	require.Equal(t, WaitDoneLow, c.State())

	// Done still high from before the strobe: not trusted.
	run(c, Inputs{Enable: true, Done: true, Connected: true}, 10)
	assert.Equal(t, WaitDoneLow, c.State())

	c.Tick(Inputs{Enable: true, Done: false})
	assert.Equal(t, WaitDoneHigh, c.State())

	o := c.Tick(Inputs{Enable: true, Done: true, Connected: true})
	assert.Equal(t, Done, c.State())
	assert.True(t, o.Valid)
	assert.True(t, o.Status)
}

func TestController_LatchesStatusOnce(t *testing.T) {
	c := New(timing.Default())
	run(c, enabled, 36)
	c.Tick(Inputs{Enable: true, Done: false})
	c.Tick(Inputs{Enable: true, Done: true, Connected: false})
	require.Equal(t, Done, c.State())

	// Later changes on con do not reach the latched result.
	o := c.Tick(Inputs{Enable: true, Done: true, Connected: true})
	assert.False(t, o.Status)
	assert.True(t, o.Valid)
}

func TestController_ResetMidStrobeHigh(t *testing.T) {
	c := New(timing.Default())
	run(c, enabled, 20)
	require.Equal(t, SetStrobeHigh, c.State())
	require.NotZero(t, c.Timer())

	o := c.Tick(Inputs{Enable: false})
	assert.Equal(t, Start, c.State())
	assert.Zero(t, c.Timer())
	assert.False(t, o.DetectEnable)
	assert.False(t, o.Strobe)
	assert.Zero(t, c.Ticks())

	// The sequence restarts from the beginning.
	out := run(c, enabled, 16)
	assert.False(t, out[14].DetectEnable)
	assert.True(t, out[15].DetectEnable)
}

func TestController_ResetDuringStrobeDropsStrobe(t *testing.T) {
	c := New(timing.Default())
	out := run(c, enabled, 33)
	require.True(t, out[32].Strobe)

	o := c.Tick(Inputs{Enable: false})
	assert.False(t, o.Strobe)
	assert.Equal(t, Start, c.State())
}

func TestController_StallsWithoutDone(t *testing.T) {
	c := New(timing.Default())
	run(c, enabled, 36)
	run(c, Inputs{Enable: true, Done: true}, 100000)
	assert.Equal(t, WaitDoneLow, c.State())
	assert.True(t, c.State().Waiting())

	c.Tick(Inputs{Enable: true, Done: false})
	run(c, Inputs{Enable: true, Done: false}, 100000)
	assert.Equal(t, WaitDoneHigh, c.State())
	assert.False(t, c.Outputs().Valid)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "SET-STROBE-L", SetStrobeLow.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
	assert.False(t, Done.Waiting())
}

func TestController_SequenceGolden(t *testing.T) {
	c := New(timing.Default())

	var buf bytes.Buffer
	var prev Outputs
	prevState := Start
	for tick := 0; tick < 56; tick++ {
		in := Inputs{
			Enable:    tick != 50,
			Done:      tick < 38 || tick >= 46,
			Connected: true,
		}
		o := c.Tick(in)
		if o != prev || c.State() != prevState {
			fmt.Fprintf(&buf, "tick=%d state=%s det_en=%t strobe=%t status=%t valid=%t\n",
				tick, c.State(), o.DetectEnable, o.Strobe, o.Status, o.Valid)
		}
		prev, prevState = o, c.State()
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "detect_sequence", buf.Bytes())
}
