package sim

import (
	"fmt"
	"math/rand/v2"

	"github.com/roach88/pcielane/internal/coding"
	"github.com/roach88/pcielane/internal/lane"
	"github.com/roach88/pcielane/internal/symbol"
)

// bitsPerWord is the serial width of one 1:2 geared rx word.
const bitsPerWord = 20

// Partner describes the device at the far end of the lane.
type Partner struct {
	// Present is whether a receiver terminates the lane and a transmitter
	// drives it.
	Present bool `yaml:"present" json:"present"`

	// Pattern is the symbol sequence the partner repeats. It defaults to
	// STP followed by COM.
	Pattern []string `yaml:"pattern,omitempty" json:"pattern,omitempty"`

	// BitOffset is how many bits late the receiver samples the stream.
	BitOffset int `yaml:"bit_offset" json:"bit_offset"`

	// Inverted swaps the differential pair.
	Inverted bool `yaml:"inverted" json:"inverted"`

	// BitErrorRate is the probability of each received bit flipping.
	BitErrorRate float64 `yaml:"bit_error_rate" json:"bit_error_rate"`

	// Seed seeds the bit error generator.
	Seed uint64 `yaml:"seed" json:"seed"`
}

// DetectModel sets the fake's receiver-detection latencies, in reference
// clock ticks.
type DetectModel struct {
	// DoneLowDelay is the time from the strobe rising to done falling.
	DoneLowDelay int `yaml:"done_low_delay" json:"done_low_delay"`

	// ResultDelay is the time done stays low before rising with the result.
	ResultDelay int `yaml:"result_delay" json:"result_delay"`

	// StuckDone makes done ignore the strobe entirely.
	StuckDone bool `yaml:"stuck_done" json:"stuck_done"`
}

// Config configures a Fake.
type Config struct {
	Partner Partner     `yaml:"partner" json:"partner"`
	Detect  DetectModel `yaml:"detect" json:"detect"`

	// LockDelay is how many reference ticks the PLLs and CDR take to lock.
	LockDelay int `yaml:"lock_delay" json:"lock_delay"`

	// SyncWords is how many consecutive valid words assert link sync.
	SyncWords int `yaml:"sync_words" json:"sync_words"`
}

// DefaultConfig is a present, aligned partner sending STP/COM.
func DefaultConfig() Config {
	return Config{
		Partner: Partner{Present: true},
		Detect: DetectModel{
			DoneLowDelay: 2,
			ResultDelay:  20,
		},
		LockDelay: 50,
		SyncWords: 4,
	}
}

type detectPhase int

const (
	detectIdle detectPhase = iota
	detectFalling
	detectRising
)

// Fake is a software SERDES channel. It serializes the partner's pattern
// with a real 8b/10b encoder and deserializes it with a real decoder, so
// slips and inversions act on actual bit boundaries.
//
// The fake has its own processes: RefTick for the PLLs and the detection
// circuit, and RxTick to clock the next received word. A bench calls each
// before the lane's process in the same domain.
type Fake struct {
	cfg Config

	// Partner's serial stream, one full disparity period.
	stream []uint8
	dec    *coding.Decoder
	rng    *rand.Rand

	// Written by the lane.
	rxCtl  lane.RxControl
	detCtl lane.DetectControl

	// Receive side.
	word      symbol.Word
	rxWords   int64
	lastSlip  bool
	slips     int
	syncCount int
	refTicks  int64

	// Detection circuit.
	phase       detectPhase
	countdown   int
	done        bool
	con         bool
	strobeLevel bool

	// Transmit side.
	sent      symbol.TxWord
	txWords   uint64
	idleWords uint64
}

// NewFake encodes the partner pattern and returns a fake ready to tick.
func NewFake(cfg Config) (*Fake, error) {
	pattern := []symbol.Symbol{symbol.STP, symbol.COM}
	if len(cfg.Partner.Pattern) > 0 {
		pattern = pattern[:0]
		for _, name := range cfg.Partner.Pattern {
			s, err := symbol.ParseName(name)
			if err != nil {
				return nil, fmt.Errorf("partner pattern: %w", err)
			}
			pattern = append(pattern, s)
		}
	}
	if len(pattern)%2 != 0 {
		return nil, fmt.Errorf("partner pattern: need an even number of symbols, got %d", len(pattern))
	}
	if cfg.SyncWords <= 0 {
		cfg.SyncWords = 1
	}

	stream, err := encodePeriod(pattern)
	if err != nil {
		return nil, err
	}

	seed := cfg.Partner.Seed
	return &Fake{
		cfg:    cfg,
		stream: stream,
		dec:    coding.NewDecoder(),
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		done:   true,
		word:   symbol.Word{symbol.Sentinel, symbol.Sentinel},
	}, nil
}

// encodePeriod encodes pattern repeatedly until the encoder's running
// disparity returns to RD- at a pattern boundary, giving a stream that
// repeats seamlessly.
func encodePeriod(pattern []symbol.Symbol) ([]uint8, error) {
	enc := coding.NewEncoder()
	var bits []uint8
	for {
		for _, s := range pattern {
			c, err := enc.Encode(s)
			if err != nil {
				return nil, fmt.Errorf("partner pattern %s: %w", s, err)
			}
			for b := 0; b < 10; b++ {
				bits = append(bits, c.Bit(b))
			}
		}
		if enc.Disparity() == coding.Negative {
			return bits, nil
		}
	}
}

// RefTick advances the PLL lock timer and the detection circuit by one
// reference clock.
func (f *Fake) RefTick() {
	f.refTicks++

	strobe := f.detCtl.Strobe && f.detCtl.Enable
	rising := strobe && !f.strobeLevel
	f.strobeLevel = strobe

	if f.cfg.Detect.StuckDone {
		return
	}
	switch f.phase {
	case detectIdle:
		if rising {
			f.phase = detectFalling
			f.countdown = f.cfg.Detect.DoneLowDelay
		}
	case detectFalling:
		if f.countdown > 0 {
			f.countdown--
			break
		}
		f.done = false
		f.phase = detectRising
		f.countdown = f.cfg.Detect.ResultDelay
	case detectRising:
		if f.countdown > 0 {
			f.countdown--
			break
		}
		f.done = true
		f.con = f.cfg.Partner.Present
		f.phase = detectIdle
	}
}

// RxTick deserializes the next received word, applying any slip requested
// since the last tick.
func (f *Fake) RxTick() {
	if f.rxCtl.Slip != f.lastSlip {
		f.lastSlip = f.rxCtl.Slip
		f.slips++
	}

	if !f.cfg.Partner.Present {
		f.word = symbol.Word{symbol.Sentinel, symbol.Sentinel}
		f.syncCount = 0
		f.rxWords++
		return
	}

	phase := ((f.cfg.Partner.BitOffset-f.slips)%bitsPerWord + bitsPerWord) % bitsPerWord
	base := f.rxWords*bitsPerWord + int64(phase)
	invert := f.cfg.Partner.Inverted != f.rxCtl.Invert

	var w symbol.Word
	for slot := range w {
		var c coding.Code
		for b := 0; b < 10; b++ {
			bit := f.stream[(base+int64(slot*10+b))%int64(len(f.stream))]
			if invert {
				bit ^= 1
			}
			if f.cfg.Partner.BitErrorRate > 0 && f.rng.Float64() < f.cfg.Partner.BitErrorRate {
				bit ^= 1
			}
			c = c<<1 | coding.Code(bit)
		}
		w[slot] = f.dec.Decode(c)
	}
	f.word = w
	f.rxWords++

	if f.rxCtl.AlignEnable && symbol.Valid(w[0]) && symbol.Valid(w[1]) {
		f.syncCount++
	} else {
		f.syncCount = 0
	}
}

func (f *Fake) locked() bool {
	return f.refTicks >= int64(f.cfg.LockDelay)
}

// RxStatus implements lane.Transceiver.
func (f *Fake) RxStatus() lane.RxStatus {
	present := f.cfg.Partner.Present
	return lane.RxStatus{
		LossOfSignal: !present,
		LossOfLock:   !present || !f.locked(),
		LinkSync:     f.syncCount >= f.cfg.SyncWords,
	}
}

// RxWord implements lane.Transceiver.
func (f *Fake) RxWord() symbol.Word {
	return f.word
}

// SetRxControl implements lane.Transceiver.
func (f *Fake) SetRxControl(c lane.RxControl) {
	f.rxCtl = c
}

// TxStatus implements lane.Transceiver.
func (f *Fake) TxStatus() lane.TxStatus {
	return lane.TxStatus{
		LossOfLock:   !f.locked(),
		DetectDone:   f.done,
		DetectResult: f.con,
	}
}

// SetDetectControl implements lane.Transceiver.
func (f *Fake) SetDetectControl(c lane.DetectControl) {
	f.detCtl = c
}

// Transmit implements lane.Transceiver. The fake has no far end to deliver
// to; it keeps the last word and counts idle words.
func (f *Fake) Transmit(w symbol.TxWord) {
	f.sent = w
	f.txWords++
	if w[0].ElecIdle && w[1].ElecIdle {
		f.idleWords++
	}
}

// Slips returns how many bit slips the fake has applied.
func (f *Fake) Slips() int {
	return f.slips
}

// Sent returns the last transmitted word.
func (f *Fake) Sent() symbol.TxWord {
	return f.sent
}

// TxWords returns the transmitted and electrical idle word counts.
func (f *Fake) TxWords() (total, idle uint64) {
	return f.txWords, f.idleWords
}

// Invert returns the polarity the lane currently requests.
func (f *Fake) Invert() bool {
	return f.rxCtl.Invert
}
