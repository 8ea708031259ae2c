// Package settings stores the module's calibration and system options.
package settings

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/gentam/norstore"
	"github.com/gentam/norstore/preset"
	"github.com/gentam/norstore/storage"
)

// Sig marks a settings record.
var Sig = storage.Tag("SY1")

// RecordSize is the encoded size of System.
const RecordSize = 32

// UnityScale is the tracking scale of an ideal 1V/oct input.
const UnityScale = 4096

// System is the per-unit calibration and the options set from the system menu.
type System struct {
	Scale      [preset.NumChannels]uint16 // 1V/oct tracking, UnityScale nominal
	Offset     [preset.NumChannels]int16  // cents
	Brightness uint8                      // LED brightness, percent
	ClockPPQN  uint8
}

func Default() System {
	s := System{Brightness: 80, ClockPPQN: 4}
	for i := range s.Scale {
		s.Scale[i] = UnityScale
	}
	return s
}

// Validate reports whether every field is within its calibratable range.
func Validate(s *System) bool {
	for i := range s.Scale {
		if s.Scale[i] < UnityScale*7/8 || s.Scale[i] > UnityScale*9/8 {
			return false
		}
		if s.Offset[i] < -500 || s.Offset[i] > 500 {
			return false
		}
	}
	if s.Brightness == 0 || s.Brightness > 100 {
		return false
	}
	return slices.Contains([]uint8{1, 2, 4, 24}, s.ClockPPQN)
}

type Codec struct{}

var _ storage.Codec[System] = Codec{}

func (Codec) Size() int { return RecordSize }

func (Codec) Encode(dst []byte, s *System) {
	copy(dst, Sig[:])
	off := len(Sig)
	for i := range s.Scale {
		binary.LittleEndian.PutUint16(dst[off:], s.Scale[i])
		binary.LittleEndian.PutUint16(dst[off+2:], uint16(s.Offset[i]))
		off += 4
	}
	dst[off] = s.Brightness
	dst[off+1] = s.ClockPPQN
}

func (Codec) Decode(src []byte, s *System) bool {
	if len(src) < RecordSize || !Sig.Matches(src) {
		return false
	}
	off := len(Sig)
	for i := range s.Scale {
		s.Scale[i] = binary.LittleEndian.Uint16(src[off:])
		s.Offset[i] = int16(binary.LittleEndian.Uint16(src[off+2:]))
		off += 4
	}
	s.Brightness = src[off]
	s.ClockPPQN = src[off+1]
	return true
}

// Open loads the settings from sector, healing to Default when the stored
// record is missing or out of range.
func Open(m storage.Media, g norstore.Geometry, sector int) (*storage.Singleton[System], error) {
	cells := storage.NewSlotted(m, g, sector, RecordSize)
	s, err := storage.NewSingleton[System](storage.NewWearLeveler[System](cells, Codec{}), Default(), Validate)
	if err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	return s, nil
}
