package symbol

// Raw is one received slot: 9 symbol bits plus a disparity marker in bit 9.
type Raw uint16

const (
	// Sentinel is the decoder's substitute for a code violation (K14.7).
	Sentinel Raw = 0x1EE

	// DisparityBit flags a running disparity error on the slot.
	DisparityBit Raw = 1 << 9

	rawMask Raw = 0x3FF
)

// NewRaw builds a raw slot from a decoded symbol.
func NewRaw(s Symbol, disparityErr bool) Raw {
	r := Raw(s & Mask)
	if disparityErr {
		r |= DisparityBit
	}
	return r
}

// Symbol returns the 9-bit symbol carried by the slot.
func (r Raw) Symbol() Symbol {
	return Symbol(r) & Mask
}

// DisparityError reports the disparity marker.
func (r Raw) DisparityError() bool {
	return r&DisparityBit != 0
}

// String prints "E" for decode errors and the symbol name otherwise.
func (r Raw) String() string {
	if !Valid(r) {
		return "E"
	}
	return r.Symbol().String()
}

// Valid classifies a raw slot. Exactly one value, Sentinel, is invalid.
func Valid(r Raw) bool {
	return r != Sentinel
}

// Word is one rx clock worth of slots under 1:2 gearing.
type Word [2]Raw

// Pair builds a Word from two symbols with clean disparity.
func Pair(a, b Symbol) Word {
	return Word{NewRaw(a, false), NewRaw(b, false)}
}

// CheckWord evaluates Valid for both slots.
func CheckWord(w Word) [2]bool {
	return [2]bool{Valid(w[0]), Valid(w[1])}
}

// Symbols returns the symbol part of both slots.
func (w Word) Symbols() [2]Symbol {
	return [2]Symbol{w[0].Symbol(), w[1].Symbol()}
}

// Matches reports whether the word carries exactly the framing pair
// (first, second). Invalid slots never match.
func (w Word) Matches(first, second Symbol) bool {
	return Valid(w[0]) && Valid(w[1]) &&
		w[0].Symbol() == first&Mask && w[1].Symbol() == second&Mask
}
