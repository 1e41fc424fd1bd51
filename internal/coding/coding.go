// Package coding implements the 8b/10b line code used on a PCIe Gen1/Gen2
// lane: an encoder that tracks running disparity and a decoder that
// substitutes K14.7 for code violations the way the SERDES decoder does.
//
// A Code holds ten line bits in transmission order: bit 9 is "a", the first
// bit on the wire, bit 0 is "j".
package coding

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/roach88/pcielane/internal/symbol"
)

// Code is a 10-bit line code word.
type Code uint16

// Bit returns line bit i (0 = first transmitted).
func (c Code) Bit(i int) uint8 {
	return uint8(c>>(9-i)) & 1
}

// String prints the code as "abcdei fghj".
func (c Code) String() string {
	return fmt.Sprintf("%06b %04b", uint16(c)>>4, uint16(c)&0xF)
}

// Disparity is the running disparity between code words.
type Disparity int8

const (
	Negative Disparity = -1
	Positive Disparity = 1
)

func (d Disparity) String() string {
	if d == Positive {
		return "RD+"
	}
	return "RD-"
}

// ErrInvalidControl is returned when asked to encode a K character that has
// no 8b/10b representation.
var ErrInvalidControl = errors.New("coding: invalid control character")

// 5b/6b sub-block, RD- column, abcdei with a in the MSB.
var sixRDMinus = [32]uint8{
	0b100111, 0b011101, 0b101101, 0b110001, 0b110101, 0b101001, 0b011001, 0b111000,
	0b111001, 0b100101, 0b010101, 0b110100, 0b001101, 0b101100, 0b011100, 0b010111,
	0b011011, 0b100011, 0b010011, 0b110010, 0b001011, 0b101010, 0b011010, 0b111010,
	0b110011, 0b100110, 0b010110, 0b110110, 0b001110, 0b101110, 0b011110, 0b101011,
}

const sixK28RDMinus = 0b001111

// 3b/4b sub-block, RD- column, fghj with f in the MSB. Index 8 is D.x.A7.
var fourDataRDMinus = [9]uint8{
	0b1011, 0b1001, 0b0101, 0b1100, 0b1101, 0b1010, 0b0110, 0b1110, 0b0111,
}

var fourControlRDMinus = [8]uint8{
	0b1011, 0b0110, 0b1010, 0b1100, 0b1101, 0b0101, 0b1001, 0b0111,
}

// ValidControl reports whether s is one of the twelve encodable K characters.
func ValidControl(s symbol.Symbol) bool {
	if !s.IsControl() {
		return false
	}
	x, y := s.X(), s.Y()
	if x == 28 {
		return true
	}
	return y == 7 && (x == 23 || x == 27 || x == 29 || x == 30)
}

// Encode maps s to its line code for running disparity rd and returns the
// running disparity after the code.
func Encode(s symbol.Symbol, rd Disparity) (Code, Disparity, error) {
	s &= symbol.Mask
	control := s.IsControl()
	if control && !ValidControl(s) {
		return 0, rd, fmt.Errorf("%w: %s", ErrInvalidControl, s)
	}
	x, y := s.X(), s.Y()

	var six uint8
	switch {
	case control && x == 28:
		six = sixK28RDMinus
	default:
		six = sixRDMinus[x]
	}
	if rd == Positive {
		six = flipSix(six, x, control)
	}
	if bits.OnesCount8(six) != 3 {
		rd = -rd
	}

	var four uint8
	switch {
	case control:
		four = fourControlRDMinus[y]
		if rd == Positive {
			four = ^four & 0xF
		}
	default:
		idx := y
		if y == 7 && useAlternate7(x, rd) {
			idx = 8
		}
		four = fourDataRDMinus[idx]
		if rd == Positive && (bits.OnesCount8(four) != 2 || y == 3) {
			four = ^four & 0xF
		}
	}
	if bits.OnesCount8(four) != 2 {
		rd = -rd
	}

	return Code(uint16(six)<<4 | uint16(four)), rd, nil
}

// flipSix converts an RD- 6b sub-block to its RD+ form. Balanced sub-blocks
// are shared by both columns except D.7, which alternates.
func flipSix(six uint8, x int, control bool) uint8 {
	if bits.OnesCount8(six) != 3 || (x == 7 && !control) {
		return ^six & 0x3F
	}
	return six
}

// useAlternate7 selects D.x.A7 to avoid a run of five identical bits.
func useAlternate7(x int, rd Disparity) bool {
	if rd == Negative {
		return x == 17 || x == 18 || x == 20
	}
	return x == 11 || x == 13 || x == 14
}
