package symbol

import "fmt"

// Symbol is a decoded 9-bit 8b/10b symbol.
type Symbol uint16

const (
	// ControlBit marks a K (control) character.
	ControlBit Symbol = 1 << 8

	// Mask covers the 9 meaningful bits of a Symbol.
	Mask Symbol = 0x1FF
)

// PCIe control characters.
const (
	SKP Symbol = 0x11C // K28.0
	FTS Symbol = 0x13C // K28.1
	SDP Symbol = 0x15C // K28.2
	IDL Symbol = 0x17C // K28.3
	COM Symbol = 0x1BC // K28.5
	EIE Symbol = 0x1FC // K28.7
	PAD Symbol = 0x1F7 // K23.7
	STP Symbol = 0x1FB // K27.7
	END Symbol = 0x1FD // K29.7
	EDB Symbol = 0x1FE // K30.7
)

var controlNames = map[Symbol]string{
	SKP: "SKP",
	FTS: "FTS",
	SDP: "SDP",
	IDL: "IDL",
	COM: "COM",
	EIE: "EIE",
	PAD: "PAD",
	STP: "STP",
	END: "END",
	EDB: "EDB",
}

// K returns the control character Kx.y.
func K(x, y int) Symbol {
	return ControlBit | D(x, y)
}

// D returns the data character Dx.y.
func D(x, y int) Symbol {
	return Symbol((y&0x7)<<5 | (x & 0x1F))
}

// IsControl reports whether s is a K character.
func (s Symbol) IsControl() bool {
	return s&ControlBit != 0
}

// Byte returns the 8 data bits.
func (s Symbol) Byte() byte {
	return byte(s)
}

// X returns the 5-bit (EDCBA) part of the Kx.y / Dx.y name.
func (s Symbol) X() int {
	return int(s & 0x1F)
}

// Y returns the 3-bit (HGF) part of the Kx.y / Dx.y name.
func (s Symbol) Y() int {
	return int(s>>5) & 0x7
}

// String names PCIe control characters and prints everything else in
// Kx.y / Dx.y notation.
func (s Symbol) String() string {
	s &= Mask
	if name, ok := controlNames[s]; ok {
		return name
	}
	kind := "D"
	if s.IsControl() {
		kind = "K"
	}
	return fmt.Sprintf("%s%d.%d", kind, s.X(), s.Y())
}

// ParseName resolves a control character name ("COM", "STP", ...) or a
// Kx.y / Dx.y string into a Symbol.
func ParseName(name string) (Symbol, error) {
	for sym, n := range controlNames {
		if n == name {
			return sym, nil
		}
	}
	var kind byte
	var x, y int
	if _, err := fmt.Sscanf(name, "%c%d.%d", &kind, &x, &y); err != nil {
		return 0, fmt.Errorf("unknown symbol %q", name)
	}
	if x < 0 || x > 31 || y < 0 || y > 7 {
		return 0, fmt.Errorf("symbol %q out of range", name)
	}
	switch kind {
	case 'K':
		return K(x, y), nil
	case 'D':
		return D(x, y), nil
	}
	return 0, fmt.Errorf("unknown symbol %q", name)
}
