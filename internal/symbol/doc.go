// Package symbol defines the 8b/10b symbol values that cross the lane
// boundary, the validity check applied to every received slot, and the
// packing of slots onto the transceiver's parallel buses.
//
// # Layout
//
// A Symbol is the 9-bit decoded value: bits 0-7 carry the byte (HGF EDCBA,
// so x = bits 0-4 and y = bits 5-7 in Kx.y / Dx.y notation) and bit 8 is set
// for control characters.
//
// A Raw slot is what the transceiver delivers for one symbol position: the
// 9-bit symbol plus a disparity marker in bit 9. The decoder substitutes
// K14.7 (raw 0x1EE) for any code violation. K14.7 is not a legal point in
// the 8b/10b coding space, so that value marks a decode error.
//
// The lane runs with 1:2 gearing: one Word carries two slots per rx clock.
//
// # Validity
//
// Valid is a pure function. It never discards or substitutes data. Invalid
// slots are passed to consumers unchanged with valid=false.
package symbol
