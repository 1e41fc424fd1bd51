package lane

import "github.com/roach88/pcielane/internal/symbol"

// RxStatus is the transceiver's raw receive status. It changes on the
// transceiver's own schedule and must be synchronized before use.
type RxStatus struct {
	LossOfSignal bool
	LossOfLock   bool
	LinkSync     bool
}

// TxStatus is the transceiver's raw transmit status.
type TxStatus struct {
	// LossOfLock is the transmit PLL loss-of-lock.
	LossOfLock bool

	// DetectDone is the receiver-detection done flag (pcie_done).
	DetectDone bool

	// DetectResult is the receiver-detection result (pcie_con).
	DetectResult bool
}

// RxControl is written by the receive domain once per tick.
type RxControl struct {
	Invert bool

	// Slip is the slip request level. The transceiver slips one bit on
	// every change of level.
	Slip bool

	// AlignEnable enables the transceiver's own word alignment and link
	// state machine.
	AlignEnable bool
}

// DetectControl is written by the transmit domain once per tick.
type DetectControl struct {
	Enable bool
	Strobe bool
}

// Transceiver is the SERDES channel a Lane drives. The receive methods are
// called from the receive domain, the transmit and detect methods from the
// transmit domain.
type Transceiver interface {
	RxStatus() RxStatus
	RxWord() symbol.Word
	SetRxControl(RxControl)

	TxStatus() TxStatus
	SetDetectControl(DetectControl)
	Transmit(symbol.TxWord)
}
