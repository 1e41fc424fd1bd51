package lane

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pcielane/internal/detect"
	"github.com/roach88/pcielane/internal/symbol"
	"github.com/roach88/pcielane/internal/timing"
)

// stubTransceiver returns fixed status and records every control write.
type stubTransceiver struct {
	rx   RxStatus
	word symbol.Word
	tx   TxStatus

	rxCtl  []RxControl
	detCtl []DetectControl
	sent   []symbol.TxWord
}

func (s *stubTransceiver) RxStatus() RxStatus           { return s.rx }
func (s *stubTransceiver) RxWord() symbol.Word          { return s.word }
func (s *stubTransceiver) SetRxControl(c RxControl)     { s.rxCtl = append(s.rxCtl, c) }
func (s *stubTransceiver) TxStatus() TxStatus           { return s.tx }
func (s *stubTransceiver) SetDetectControl(c DetectControl) { s.detCtl = append(s.detCtl, c) }
func (s *stubTransceiver) Transmit(w symbol.TxWord)     { s.sent = append(s.sent, w) }

func (s *stubTransceiver) lastRx() RxControl {
	return s.rxCtl[len(s.rxCtl)-1]
}

func newTestLane(t *testing.T, x *stubTransceiver, opts ...Option) *Lane {
	t.Helper()
	l, err := New(x, opts...)
	require.NoError(t, err)
	return l
}

func TestLane_StatusIsSynchronized(t *testing.T) {
	x := &stubTransceiver{rx: RxStatus{LinkSync: true}}
	l := newTestLane(t, x)

	st := l.Status()
	assert.False(t, st.Present, "loss flags start asserted")
	assert.False(t, st.Locked)

	l.RxTick()
	st = l.Status()
	assert.False(t, st.Present)
	assert.False(t, st.Aligned)

	l.RxTick()
	st = l.Status()
	assert.True(t, st.Present)
	assert.True(t, st.Locked)
	assert.True(t, st.Aligned)

	x.rx.LossOfSignal = true
	l.RxTick()
	assert.True(t, l.Status().Present)
	l.RxTick()
	assert.False(t, l.Status().Present)
}

func TestLane_TxLocked(t *testing.T) {
	x := &stubTransceiver{}
	l := newTestLane(t, x)
	assert.False(t, l.Status().TxLocked)
	l.TxTick()
	l.TxTick()
	assert.True(t, l.Status().TxLocked)
}

func TestLane_ValidityAndCounters(t *testing.T) {
	x := &stubTransceiver{word: symbol.Word{symbol.Sentinel, symbol.NewRaw(symbol.COM, true)}}
	l := newTestLane(t, x)

	l.RxTick()
	st := l.Status()
	assert.Equal(t, [2]bool{false, true}, st.RxValid)
	assert.Equal(t, x.word, st.Symbols, "invalid data is exposed, not dropped")

	c := l.Counters()
	assert.Equal(t, uint64(1), c.RxTicks)
	assert.Equal(t, uint64(1), c.DecodeErrors)
	assert.Equal(t, uint64(1), c.DisparityErrors)
	assert.Equal(t, uint64(1), c.Map()["decode_errors"])
	assert.Len(t, c.Map(), 6)
}

func TestLane_InvertComposition(t *testing.T) {
	p := timing.Default()
	p.AlignWindow = 4
	p.InvertAfter = 8
	x := &stubTransceiver{word: symbol.Word{symbol.Sentinel, symbol.Sentinel}}
	l := newTestLane(t, x, WithPolicy(p))

	l.SetInvert(true)
	l.RxTick()
	assert.True(t, x.lastRx().Invert)
	assert.False(t, x.lastRx().AlignEnable)

	l.SetAlignEnable(true)
	for i := 0; i < 8; i++ {
		l.RxTick()
	}
	assert.True(t, l.align.Invert())
	assert.False(t, x.lastRx().Invert, "consumer and search inversion cancel")
	assert.True(t, x.lastRx().AlignEnable)
}

func TestLane_SlipComposition(t *testing.T) {
	p := timing.Default()
	p.AlignWindow = 4
	x := &stubTransceiver{word: symbol.Word{symbol.Sentinel, symbol.Sentinel}}
	l := newTestLane(t, x, WithPolicy(p))

	l.RequestSlip()
	l.RxTick()
	assert.True(t, x.lastRx().Slip)

	l.SetAlignEnable(true)
	l.RxTick() // search evaluates at its tick 0 and slips
	assert.False(t, x.lastRx().Slip)
	assert.Equal(t, uint64(2), l.Internals().SlipRequests)
}

func TestLane_AlignmentLocks(t *testing.T) {
	x := &stubTransceiver{word: symbol.Pair(symbol.STP, symbol.COM)}
	l := newTestLane(t, x)
	l.SetAlignEnable(true)
	l.RxTick()
	assert.Equal(t, "LOCKED", l.Internals().AlignState.String())
	assert.Zero(t, l.Internals().SlipRequests)
}

// runDetect ticks the transmit domain until the sequencer waits for done.
func runDetect(l *Lane) {
	for i := 0; i < 36; i++ {
		l.TxTick()
	}
}

func TestLane_DetectThroughSynchronizers(t *testing.T) {
	x := &stubTransceiver{tx: TxStatus{DetectDone: true}}
	l := newTestLane(t, x)
	l.Transmit(symbol.TxPair(symbol.COM, symbol.COM))
	l.SetDetectEnable(true)

	runDetect(l)
	require.Equal(t, detect.WaitDoneLow, l.Internals().DetectState)
	assert.True(t, x.detCtl[15].Enable)
	assert.False(t, x.detCtl[14].Enable)
	assert.False(t, x.detCtl[30].Strobe)
	assert.True(t, x.detCtl[31].Strobe)
	assert.True(t, x.detCtl[34].Strobe)
	assert.False(t, x.detCtl[35].Strobe)

	x.tx.DetectDone = false
	l.TxTick()
	assert.Equal(t, detect.WaitDoneLow, l.Internals().DetectState, "done low not yet through the synchronizer")
	l.TxTick()
	assert.Equal(t, detect.WaitDoneHigh, l.Internals().DetectState)

	x.tx = TxStatus{DetectDone: true, DetectResult: true}
	l.TxTick()
	l.TxTick()
	st := l.Status()
	assert.True(t, st.DetValid)
	assert.True(t, st.DetStatus)

	c := l.Counters()
	assert.Equal(t, uint64(1), c.Detections)
	assert.Equal(t, uint64(1), c.ReceiversFound)
}

func TestLane_ElectricalIdleDuringDetect(t *testing.T) {
	x := &stubTransceiver{tx: TxStatus{DetectDone: true}}
	l := newTestLane(t, x)
	w := symbol.TxPair(symbol.COM, symbol.SKP)
	l.Transmit(w)

	l.TxTick()
	assert.Equal(t, w, x.sent[0], "no detection: word passes through")

	l.SetDetectEnable(true)
	l.TxTick()
	assert.True(t, x.sent[1][0].ElecIdle)
	assert.True(t, x.sent[1][1].ElecIdle)
	assert.Equal(t, symbol.COM, x.sent[1][0].Symbol)
}

func TestLane_WatchdogGivesUp(t *testing.T) {
	x := &stubTransceiver{tx: TxStatus{DetectDone: true}}
	l := newTestLane(t, x, WithWatchdog(WatchdogConfig{
		StallTimeout: 80 * time.Nanosecond,
		MaxRetries:   2,
	}))
	l.SetDetectEnable(true)

	restarts := 0
	for i := 0; i < 400; i++ {
		l.TxTick()
		if l.Internals().DetectState == detect.Start {
			restarts++
		}
	}
	err := l.Err()
	require.Error(t, err)
	assert.True(t, IsDetectStall(err))
	assert.Equal(t, 2, restarts)
	assert.Equal(t, 2, l.Internals().WatchdogRetries)
	assert.Contains(t, err.Error(), "state=WAIT-DONE-L")

	l.SetDetectEnable(false)
	l.TxTick()
	assert.NoError(t, l.Err())
}

func TestLane_WatchdogRestartsDetection(t *testing.T) {
	x := &stubTransceiver{tx: TxStatus{DetectDone: true}}
	l := newTestLane(t, x, WithWatchdog(WatchdogConfig{
		StallTimeout: 80 * time.Nanosecond,
		MaxRetries:   3,
	}))
	l.SetDetectEnable(true)

	for i := 0; i < 60; i++ {
		l.TxTick()
	}
	require.Equal(t, 1, l.Internals().WatchdogRetries)

	// The partner answers on the second attempt.
	for l.Internals().DetectState != detect.WaitDoneLow {
		l.TxTick()
	}
	x.tx.DetectDone = false
	for i := 0; i < 3; i++ {
		l.TxTick()
	}
	x.tx = TxStatus{DetectDone: true, DetectResult: true}
	for i := 0; i < 3; i++ {
		l.TxTick()
	}
	assert.True(t, l.Status().DetValid)
	assert.NoError(t, l.Err())
}

func TestLane_WatchdogDisabledWaitsForever(t *testing.T) {
	x := &stubTransceiver{tx: TxStatus{DetectDone: true}}
	l := newTestLane(t, x)
	l.SetDetectEnable(true)
	for i := 0; i < 10000; i++ {
		l.TxTick()
	}
	assert.Equal(t, detect.WaitDoneLow, l.Internals().DetectState)
	assert.NoError(t, l.Err())
}

func TestNew_RejectsBadConfig(t *testing.T) {
	p := timing.Default()
	p.StrobeTicks = 0
	_, err := New(&stubTransceiver{}, WithPolicy(p))
	require.Error(t, err)
	assert.True(t, IsConfigError(err))

	_, err = New(&stubTransceiver{}, WithWatchdog(WatchdogConfig{StallTimeout: time.Microsecond, MaxRetries: -1}))
	assert.True(t, IsConfigError(err))
	assert.False(t, IsDetectStall(err))
}
