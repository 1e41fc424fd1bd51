package symbol

// Parallel bus layout of a 1:2 geared SERDES channel. Each slot occupies 12
// bits starting at SlotStride*i.
//
// rx: [0:9] symbol, [9] disparity marker, [10:12] unused status.
// tx: [0:9] symbol, [9] set_disp, [10] disp, [11] e_idle.
const SlotStride = 12

// TxSlot is one transmit symbol position with its disparity and idle controls.
type TxSlot struct {
	Symbol   Symbol `json:"symbol"`
	SetDisp  bool   `json:"set_disp,omitempty"`
	Disp     bool   `json:"disp,omitempty"`
	ElecIdle bool   `json:"elec_idle,omitempty"`
}

// TxWord is one tx clock worth of slots.
type TxWord [2]TxSlot

// TxPair builds a TxWord carrying two symbols with default disparity.
func TxPair(a, b Symbol) TxWord {
	return TxWord{{Symbol: a}, {Symbol: b}}
}

// UnpackRx extracts both raw slots from a 24-bit rx bus value.
func UnpackRx(bus uint32) Word {
	var w Word
	for i := range w {
		w[i] = Raw(bus>>(SlotStride*i)) & rawMask
	}
	return w
}

// PackRx is the inverse of UnpackRx.
func PackRx(w Word) uint32 {
	var bus uint32
	for i, r := range w {
		bus |= uint32(r&rawMask) << (SlotStride * i)
	}
	return bus
}

// PackTx lays a TxWord onto the 24-bit tx bus.
func PackTx(w TxWord) uint32 {
	var bus uint32
	for i, s := range w {
		v := uint32(s.Symbol & Mask)
		if s.SetDisp {
			v |= 1 << 9
		}
		if s.Disp {
			v |= 1 << 10
		}
		if s.ElecIdle {
			v |= 1 << 11
		}
		bus |= v << (SlotStride * i)
	}
	return bus
}

// UnpackTx is the inverse of PackTx.
func UnpackTx(bus uint32) TxWord {
	var w TxWord
	for i := range w {
		v := bus >> (SlotStride * i)
		w[i] = TxSlot{
			Symbol:   Symbol(v) & Mask,
			SetDisp:  v&(1<<9) != 0,
			Disp:     v&(1<<10) != 0,
			ElecIdle: v&(1<<11) != 0,
		}
	}
	return w
}

// Capture is one 32-bit word of a bring-up debug capture: slot A in the low
// half, slot B in the high half. Bit 9 of each half carries a per-slot flag
// (aligned for A, valid for B).
type Capture uint32

// Halves splits the capture into its slot A and slot B halves.
func (c Capture) Halves() [2]uint16 {
	return [2]uint16{uint16(c), uint16(c >> 16)}
}

// Slot returns the raw slot of half i (disparity marker not captured).
func (c Capture) Slot(i int) Raw {
	return Raw(c.Halves()[i]) & Raw(Mask)
}

// Flag returns the per-slot flag bit of half i.
func (c Capture) Flag(i int) bool {
	return c.Halves()[i]&(1<<9) != 0
}
