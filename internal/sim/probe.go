package sim

import (
	"strconv"
	"time"

	"github.com/roach88/pcielane/internal/engine"
	"github.com/roach88/pcielane/internal/lane"
)

// Signal names recorded by the probe.
const (
	SignalPresent     = "present"
	SignalLocked      = "locked"
	SignalAligned     = "aligned"
	SignalRxValid0    = "rx_valid0"
	SignalRxValid1    = "rx_valid1"
	SignalAlignState  = "align_state"
	SignalSlips       = "slips"
	SignalInvert      = "invert"
	SignalTxLocked    = "tx_locked"
	SignalDetEn       = "det_en"
	SignalStrobe      = "strobe"
	SignalDetectState = "detect_state"
	SignalDetStatus   = "det_status"
	SignalDetValid    = "det_valid"
	SignalDone        = "pcie_done"
	SignalCon         = "pcie_con"
)

// Signals lists every recorded signal.
var Signals = []string{
	SignalPresent, SignalLocked, SignalAligned, SignalRxValid0, SignalRxValid1,
	SignalAlignState, SignalSlips, SignalInvert,
	SignalTxLocked, SignalDetEn, SignalStrobe, SignalDetectState, SignalDetStatus, SignalDetValid,
	SignalDone, SignalCon,
}

// Transition is one recorded signal change.
type Transition struct {
	Seq    int64         `json:"seq"`
	Time   time.Duration `json:"time"`
	Domain string        `json:"domain"`
	Tick   int64         `json:"tick"`
	Signal string        `json:"signal"`
	Value  string        `json:"value"`
}

// Probe records signal changes. The first observation of each signal is
// recorded too, so the trace starts from known values.
type Probe struct {
	last        map[string]string
	transitions []Transition
}

// NewProbe returns an empty probe.
func NewProbe() *Probe {
	return &Probe{last: make(map[string]string)}
}

// Record notes value for signal at edge e if it differs from the last value.
func (p *Probe) Record(e engine.Edge, signal, value string) {
	if prev, ok := p.last[signal]; ok && prev == value {
		return
	}
	p.last[signal] = value
	p.transitions = append(p.transitions, Transition{
		Seq:    e.Seq,
		Time:   e.Time,
		Domain: e.Domain,
		Tick:   e.N,
		Signal: signal,
		Value:  value,
	})
}

// Transitions returns every recorded transition in seq order.
func (p *Probe) Transitions() []Transition {
	out := make([]Transition, len(p.transitions))
	copy(out, p.transitions)
	return out
}

// Value returns the last recorded value of a signal.
func (p *Probe) Value(signal string) (string, bool) {
	v, ok := p.last[signal]
	return v, ok
}

// Count returns how many times a signal changed after its first
// observation.
func (p *Probe) Count(signal string) int {
	n := 0
	for _, t := range p.transitions {
		if t.Signal == signal {
			n++
		}
	}
	if n > 0 {
		n--
	}
	return n
}

// First returns the earliest transition of signal to value.
func (p *Probe) First(signal, value string) (Transition, bool) {
	for _, t := range p.transitions {
		if t.Signal == signal && t.Value == value {
			return t, true
		}
	}
	return Transition{}, false
}

// Filter returns the transitions of one signal.
func (p *Probe) Filter(signal string) []Transition {
	var out []Transition
	for _, t := range p.transitions {
		if t.Signal == signal {
			out = append(out, t)
		}
	}
	return out
}

func bit(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func (p *Probe) sampleRx(e engine.Edge, l *lane.Lane) {
	st := l.Status()
	in := l.Internals()
	p.Record(e, SignalPresent, bit(st.Present))
	p.Record(e, SignalLocked, bit(st.Locked))
	p.Record(e, SignalAligned, bit(st.Aligned))
	p.Record(e, SignalRxValid0, bit(st.RxValid[0]))
	p.Record(e, SignalRxValid1, bit(st.RxValid[1]))
	p.Record(e, SignalAlignState, in.AlignState.String())
	p.Record(e, SignalSlips, strconv.FormatUint(in.SlipRequests, 10))
	p.Record(e, SignalInvert, bit(in.Invert))
}

func (p *Probe) sampleTx(e engine.Edge, l *lane.Lane) {
	st := l.Status()
	in := l.Internals()
	p.Record(e, SignalTxLocked, bit(st.TxLocked))
	p.Record(e, SignalDetEn, bit(in.DetectEnable))
	p.Record(e, SignalStrobe, bit(in.Strobe))
	p.Record(e, SignalDetectState, in.DetectState.String())
	p.Record(e, SignalDetStatus, bit(st.DetStatus))
	p.Record(e, SignalDetValid, bit(st.DetValid))
}

func (p *Probe) sampleRef(e engine.Edge, f *Fake) {
	ts := f.TxStatus()
	p.Record(e, SignalDone, bit(ts.DetectDone))
	p.Record(e, SignalCon, bit(ts.DetectResult))
}
