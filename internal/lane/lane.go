// Package lane composes the receiver-detection sequencer, the alignment
// search and the status synchronizers onto one SERDES channel.
//
// A Lane has two domain processes. RxTick runs on the receive clock: it
// synchronizes the receive status flags, classifies the received word and
// runs the alignment search. TxTick runs on the transmit clock: it
// synchronizes the detect flags, runs the detect sequencer and drives the
// transmit bus. The two share nothing but the consumer's control values and
// the transceiver; flags cross into each domain through cdc synchronizers.
//
// Status is a pass-through naming boundary. Present, Locked and Aligned are
// the synchronized inverse of loss-of-signal, the inverse of loss-of-lock,
// and link-sync respectively. Consumers should only trust Aligned once
// Present and Locked hold; the lane does not enforce that ordering.
package lane

import (
	"io"
	"log/slog"

	"github.com/roach88/pcielane/internal/align"
	"github.com/roach88/pcielane/internal/cdc"
	"github.com/roach88/pcielane/internal/detect"
	"github.com/roach88/pcielane/internal/symbol"
	"github.com/roach88/pcielane/internal/timing"
)

// Synchronized flag names.
const (
	sigLOS   = "los"
	sigLOL   = "lol"
	sigLSM   = "lsm"
	sigTxLOL = "tx_lol"
	sigDone  = "done"
	sigCon   = "con"
)

// Status is the consumer-facing view of the lane.
type Status struct {
	Present  bool `json:"present"`
	Locked   bool `json:"locked"`
	Aligned  bool `json:"aligned"`
	TxLocked bool `json:"tx_locked"`

	RxValid [2]bool     `json:"rx_valid"`
	Symbols symbol.Word `json:"symbols"`

	DetStatus bool `json:"det_status"`
	DetValid  bool `json:"det_valid"`
}

// Internals exposes controller state for tracing.
type Internals struct {
	DetectState     detect.State
	AlignState      align.State
	SlipRequests    uint64
	Invert          bool
	DetectEnable    bool
	Strobe          bool
	WatchdogRetries int
}

// Counters accumulate per-lane event counts.
type Counters struct {
	RxTicks         uint64 `json:"rx_ticks"`
	TxTicks         uint64 `json:"tx_ticks"`
	DecodeErrors    uint64 `json:"decode_errors"`
	DisparityErrors uint64 `json:"disparity_errors"`
	Detections      uint64 `json:"detections"`
	ReceiversFound  uint64 `json:"receivers_found"`
}

// Map returns the counters keyed by their JSON names.
func (c Counters) Map() map[string]uint64 {
	return map[string]uint64{
		"rx_ticks":         c.RxTicks,
		"tx_ticks":         c.TxTicks,
		"decode_errors":    c.DecodeErrors,
		"disparity_errors": c.DisparityErrors,
		"detections":       c.Detections,
		"receivers_found":  c.ReceiversFound,
	}
}

type controls struct {
	detEnable   bool
	alignEnable bool
	invert      bool
	slips       uint64
}

// Lane drives one transceiver channel.
type Lane struct {
	xcvr     Transceiver
	policy   timing.Policy
	wdConfig WatchdogConfig
	first    symbol.Symbol
	second   symbol.Symbol
	logger   *slog.Logger

	detect   *detect.Controller
	align    *align.Controller
	watchdog *Watchdog

	// Receive domain.
	rxSync *cdc.Bank
	word   symbol.Word
	valid  [2]bool

	// Transmit domain.
	txSync *cdc.Bank
	det    detect.Outputs
	tx     symbol.TxWord

	ctl      controls
	counters Counters
}

// Option configures a Lane.
type Option func(*Lane)

// WithLogger sets the logger passed to the lane and its controllers.
func WithLogger(l *slog.Logger) Option {
	return func(ln *Lane) {
		ln.logger = l
	}
}

// WithPolicy overrides the default timing policy.
func WithPolicy(p timing.Policy) Option {
	return func(ln *Lane) {
		ln.policy = p
	}
}

// WithWatchdog enables the detect watchdog.
func WithWatchdog(cfg WatchdogConfig) Option {
	return func(ln *Lane) {
		ln.wdConfig = cfg
	}
}

// WithPattern overrides the framing pair the alignment search looks for.
func WithPattern(first, second symbol.Symbol) Option {
	return func(ln *Lane) {
		ln.first = first
		ln.second = second
	}
}

// New creates a lane on xcvr with detection and alignment disabled.
func New(xcvr Transceiver, opts ...Option) (*Lane, error) {
	l := &Lane{
		xcvr:   xcvr,
		policy: timing.Default(),
		first:  symbol.STP,
		second: symbol.COM,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.policy.Validate(); err != nil {
		return nil, newConfigError(err)
	}
	if err := l.wdConfig.Validate(); err != nil {
		return nil, newConfigError(err)
	}

	l.detect = detect.New(l.policy,
		detect.WithLogger(l.logger.With("domain", "tx")),
	)
	l.align = align.New(l.policy,
		align.WithPattern(l.first, l.second),
		align.WithLogger(l.logger.With("domain", "rx")),
	)
	if l.wdConfig.Enabled() {
		l.watchdog = NewWatchdog(l.wdConfig, l.policy, l.logger.With("domain", "tx"))
	}

	// Loss flags start asserted so nothing reads as present or locked
	// before the first samples arrive.
	l.rxSync = cdc.NewBank(sigLSM)
	l.rxSync.Add(sigLOS, true)
	l.rxSync.Add(sigLOL, true)
	l.txSync = cdc.NewBank(sigDone, sigCon)
	l.txSync.Add(sigTxLOL, true)

	l.tx = symbol.TxWord{{ElecIdle: true}, {ElecIdle: true}}
	return l, nil
}

// SetDetectEnable starts (true) or resets (false) receiver detection.
func (l *Lane) SetDetectEnable(v bool) {
	l.ctl.detEnable = v
}

// SetAlignEnable enables the alignment search and the transceiver's word
// alignment.
func (l *Lane) SetAlignEnable(v bool) {
	l.ctl.alignEnable = v
}

// SetInvert sets the consumer's polarity request. It combines with the
// alignment search's own inversion by exclusive or.
func (l *Lane) SetInvert(v bool) {
	l.ctl.invert = v
}

// RequestSlip asks the transceiver to slip one bit.
func (l *Lane) RequestSlip() {
	l.ctl.slips++
}

// Transmit sets the word driven on the transmit bus from the next TxTick
// on. While detection is enabled and not yet complete both slots are
// forced into electrical idle.
func (l *Lane) Transmit(w symbol.TxWord) {
	l.tx = w
}

// RxTick is the receive domain process.
func (l *Lane) RxTick() {
	rs := l.xcvr.RxStatus()
	l.rxSync.Sample(map[string]bool{
		sigLOS: rs.LossOfSignal,
		sigLOL: rs.LossOfLock,
		sigLSM: rs.LinkSync,
	})

	w := l.xcvr.RxWord()
	l.word = w
	l.valid = symbol.CheckWord(w)
	for i, ok := range l.valid {
		switch {
		case !ok:
			l.counters.DecodeErrors++
		case w[i].DisparityError():
			l.counters.DisparityErrors++
		}
	}

	l.align.Tick(align.Inputs{Enable: l.ctl.alignEnable, Word: w})

	l.xcvr.SetRxControl(RxControl{
		Invert:      l.ctl.invert != l.align.Invert(),
		Slip:        (l.ctl.slips+l.align.Slips())%2 == 1,
		AlignEnable: l.ctl.alignEnable,
	})
	l.counters.RxTicks++
}

// TxTick is the transmit domain process.
func (l *Lane) TxTick() {
	ts := l.xcvr.TxStatus()
	l.txSync.Sample(map[string]bool{
		sigTxLOL: ts.LossOfLock,
		sigDone:  ts.DetectDone,
		sigCon:   ts.DetectResult,
	})

	enable := l.ctl.detEnable
	if l.watchdog != nil {
		enable = l.watchdog.Gate(enable)
	}

	wasValid := l.det.Valid
	l.det = l.detect.Tick(detect.Inputs{
		Enable:    enable,
		Done:      l.txSync.Read(sigDone),
		Connected: l.txSync.Read(sigCon),
	})
	if l.det.Valid && !wasValid {
		l.counters.Detections++
		if l.det.Status {
			l.counters.ReceiversFound++
		}
		l.logger.Debug("receiver detection complete", "domain", "tx", "det_status", l.det.Status)
	}

	if l.watchdog != nil {
		l.watchdog.Observe(l.detect.State(), l.ctl.detEnable)
	}

	l.xcvr.SetDetectControl(DetectControl{
		Enable: l.det.DetectEnable,
		Strobe: l.det.Strobe,
	})

	tx := l.tx
	if l.ctl.detEnable && !l.det.Valid {
		tx[0].ElecIdle = true
		tx[1].ElecIdle = true
	}
	l.xcvr.Transmit(tx)
	l.counters.TxTicks++
}

// Status returns the consumer-facing status.
func (l *Lane) Status() Status {
	return Status{
		Present:   !l.rxSync.Read(sigLOS),
		Locked:    !l.rxSync.Read(sigLOL),
		Aligned:   l.rxSync.Read(sigLSM),
		TxLocked:  !l.txSync.Read(sigTxLOL),
		RxValid:   l.valid,
		Symbols:   l.word,
		DetStatus: l.det.Status,
		DetValid:  l.det.Valid,
	}
}

// Internals returns the controllers' state.
func (l *Lane) Internals() Internals {
	in := Internals{
		DetectState:  l.detect.State(),
		AlignState:   l.align.State(),
		SlipRequests: l.ctl.slips + l.align.Slips(),
		Invert:       l.ctl.invert != l.align.Invert(),
		DetectEnable: l.det.DetectEnable,
		Strobe:       l.det.Strobe,
	}
	if l.watchdog != nil {
		in.WatchdogRetries = l.watchdog.Retries()
	}
	return in
}

// Counters returns the accumulated event counts.
func (l *Lane) Counters() Counters {
	return l.counters
}

// Policy returns the timing policy in use.
func (l *Lane) Policy() timing.Policy {
	return l.policy
}

// Err returns a DETECT_STALL error once the watchdog has given up, and nil
// otherwise.
func (l *Lane) Err() error {
	if l.watchdog == nil {
		return nil
	}
	return l.watchdog.Err()
}
