package coding

import (
	"math/bits"

	"github.com/roach88/pcielane/internal/symbol"
)

type decodeEntry struct {
	sym   symbol.Symbol
	legal [2]bool // indexed by rdIndex: code is legal when starting from that RD
	ok    bool
}

var decodeTable [1024]decodeEntry

func rdIndex(rd Disparity) int {
	if rd == Positive {
		return 1
	}
	return 0
}

func init() {
	add := func(s symbol.Symbol) {
		for _, rd := range []Disparity{Negative, Positive} {
			c, _, err := Encode(s, rd)
			if err != nil {
				return
			}
			e := &decodeTable[c]
			e.sym = s
			e.ok = true
			e.legal[rdIndex(rd)] = true
		}
	}
	for v := 0; v < 256; v++ {
		add(symbol.Symbol(v))
	}
	for v := 0; v < 256; v++ {
		if s := symbol.ControlBit | symbol.Symbol(v); ValidControl(s) {
			add(s)
		}
	}
}

// Decoder turns line codes back into raw slots. It starts at RD-.
type Decoder struct {
	rd Disparity
}

// NewDecoder returns a decoder expecting RD- on the first code.
func NewDecoder() *Decoder {
	return &Decoder{rd: Negative}
}

// Disparity returns the running disparity the next code is checked against.
func (d *Decoder) Disparity() Disparity {
	return d.rd
}

// Decode classifies one code word. Codes outside the 8b/10b space decode to
// symbol.Sentinel. Legal codes received under the wrong running disparity
// decode to their symbol with the disparity marker set; the decoder then
// resynchronizes to the disparity implied by the code.
func (d *Decoder) Decode(c Code) symbol.Raw {
	c &= 0x3FF
	e := decodeTable[c]
	if !e.ok {
		return symbol.Sentinel
	}
	dispErr := !e.legal[rdIndex(d.rd)]
	if dispErr {
		d.rd = -d.rd
	}
	switch ones := bits.OnesCount16(uint16(c)); {
	case ones > 5:
		d.rd = Positive
	case ones < 5:
		d.rd = Negative
	}
	return symbol.NewRaw(e.sym, dispErr)
}

// Encoder serializes symbols while tracking running disparity. It starts at
// RD-.
type Encoder struct {
	rd Disparity
}

// NewEncoder returns an encoder at RD-.
func NewEncoder() *Encoder {
	return &Encoder{rd: Negative}
}

// Disparity returns the current running disparity.
func (e *Encoder) Disparity() Disparity {
	return e.rd
}

// Encode emits the code for s and advances the running disparity. On error
// the disparity is unchanged.
func (e *Encoder) Encode(s symbol.Symbol) (Code, error) {
	c, rd, err := Encode(s, e.rd)
	if err != nil {
		return 0, err
	}
	e.rd = rd
	return c, nil
}
