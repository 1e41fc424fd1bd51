// Package cdc carries single-bit status flags from one clock domain into
// another.
//
// A Synchronizer is the software form of a two flip-flop synchronizer: the
// destination domain pushes the source value once per destination tick and
// reads the output of the second stage. The copy therefore lags the source by
// exactly two destination ticks, and a value only becomes visible once it
// has propagated through both stages. Toggles faster than the destination
// samples coalesce; only the sampled values are ever observed.
//
// Each Synchronizer belongs to its destination domain. The source never holds
// a reference to it, so a synchronized copy never writes back across the
// crossing.
package cdc

// Stages is the synchronizer depth and therefore its latency in destination ticks.
const Stages = 2

// Synchronizer is a fixed-depth shift register for one flag.
type Synchronizer[T comparable] struct {
	stages [Stages]T
}

// New returns a synchronizer whose stages all hold initial.
func New[T comparable](initial T) *Synchronizer[T] {
	s := &Synchronizer[T]{}
	s.Reset(initial)
	return s
}

// Push samples the source value on a destination tick.
func (s *Synchronizer[T]) Push(v T) {
	for i := Stages - 1; i > 0; i-- {
		s.stages[i] = s.stages[i-1]
	}
	s.stages[0] = v
}

// Read returns the synchronized copy.
func (s *Synchronizer[T]) Read() T {
	return s.stages[Stages-1]
}

// Reset forces every stage to v.
func (s *Synchronizer[T]) Reset(v T) {
	for i := range s.stages {
		s.stages[i] = v
	}
}

// Bank groups the flags crossing into one destination domain, keyed by
// signal name. Sample pushes every flag on one destination tick.
type Bank struct {
	names []string
	syncs map[string]*Synchronizer[bool]
}

// NewBank creates a bank with one synchronizer per name, all initially false.
func NewBank(names ...string) *Bank {
	b := &Bank{syncs: make(map[string]*Synchronizer[bool], len(names))}
	for _, n := range names {
		b.Add(n, false)
	}
	return b
}

// Add registers a flag with an initial value. Adding an existing name resets it.
func (b *Bank) Add(name string, initial bool) {
	if _, ok := b.syncs[name]; !ok {
		b.names = append(b.names, name)
	}
	b.syncs[name] = New(initial)
}

// Sample pushes the current source values for every registered flag. Flags
// missing from src are sampled as false.
func (b *Bank) Sample(src map[string]bool) {
	for _, n := range b.names {
		b.syncs[n].Push(src[n])
	}
}

// Read returns the synchronized copy of a flag. Unknown names read false.
func (b *Bank) Read(name string) bool {
	s, ok := b.syncs[name]
	if !ok {
		return false
	}
	return s.Read()
}

// Names lists the registered flags in registration order.
func (b *Bank) Names() []string {
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}
