// Package preset keeps the module's user presets in external flash.
//
// Presets live two to a sector. Rewriting one slot means erasing the sector,
// so Store reads the sibling slot first and writes it back after the erase.
// A single level of undo covers recall, store and clear.
package preset

// NumChannels is the number of oscillator channels, each with its own LFO.
const NumChannels = 6

// NumShapes is the number of LFO waveforms.
const NumShapes = 8

// Channel is one oscillator's parameters.
type Channel struct {
	Wavetable uint8 // 0..63
	Octave    int8  // -4..4
	Transpose int8  // semitones, -12..12
	FineTune  int16 // cents, -100..100; PS3 and later
	Level     uint8
	Pan       uint8 // 0 left, 128 centre, 255 right
	Muted     bool
	KeyFollow bool // tracks the 1V/oct input; PS3 and later
}

// LFO is one channel's modulation source.
type LFO struct {
	Shape  uint8 // 0..NumShapes-1
	Divide uint8 // clock divider, 1..32
	Gain   uint8
	Phase  uint16 // phase offset in 1/65536 turns; PS4 and later
	Locked bool   // phase locked to the clock; PS4 and later
}

// Preset is everything a slot stores.
type Preset struct {
	Channels [NumChannels]Channel
	LFOs     [NumChannels]LFO

	// Position in the wavetable sphere: depth, latitude, longitude.
	Browse [3]uint16
	Spread uint8
}

// Default returns the preset an empty slot recalls as.
//
// Fields added after PS2 default to: FineTune 0, KeyFollow true,
// Phase 0, Locked false.
func Default() Preset {
	var p Preset
	for i := range p.Channels {
		p.Channels[i] = Channel{
			Wavetable: uint8(i),
			Level:     200,
			Pan:       128,
			KeyFollow: true,
		}
		p.LFOs[i] = LFO{
			Shape:  0,
			Divide: 4,
			Gain:   0,
		}
	}
	return p
}
