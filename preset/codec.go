package preset

import (
	"encoding/binary"

	"github.com/gentam/norstore/storage"
)

// RecordSize is the fixed size of a preset record, signature included.
// Bytes past the payload are zero.
const RecordSize = 128

// Record signatures. Current is written by Store; the others are read and
// migrated on Recall.
var (
	SigPS4 = storage.Tag("PS4")
	SigPS3 = storage.Tag("PS3")
	SigPS2 = storage.Tag("PS2")

	Current = SigPS4
)

type version struct {
	sig storage.Signature

	// fields present in this version
	fineTune bool // Channel.FineTune, Channel.KeyFollow
	lfoPhase bool // LFO.Phase, LFO.Locked
}

var versions = []version{
	{sig: SigPS4, fineTune: true, lfoPhase: true},
	{sig: SigPS3, fineTune: true},
	{sig: SigPS2},
}

func lookup(b []byte) (version, bool) {
	for _, v := range versions {
		if v.sig.Matches(b) {
			return v, true
		}
	}
	return version{}, false
}

// Version returns the signature a raw record carries, and whether it is one
// Recall accepts.
func Version(rec []byte) (storage.Signature, bool) {
	v, ok := lookup(rec)
	return v.sig, ok
}

// Codec encodes presets as the current version and decodes every accepted
// version. It satisfies storage.Codec[Preset].
type Codec struct{}

var _ storage.Codec[Preset] = Codec{}

func (Codec) Size() int { return RecordSize }

func (Codec) Encode(dst []byte, p *Preset) {
	encode(dst, p, versions[0])
}

// Decode fills p from src. Fields the stored version lacks keep the values
// from Default.
func (Codec) Decode(src []byte, p *Preset) bool {
	if len(src) < RecordSize {
		return false
	}
	v, ok := lookup(src)
	if !ok {
		return false
	}
	*p = Default()
	decode(src, p, v)
	return true
}

// Encode returns the current-version record for p.
func Encode(p *Preset) []byte {
	rec := make([]byte, RecordSize)
	Codec{}.Encode(rec, p)
	return rec
}

type writer struct {
	b   []byte
	off int
}

func (w *writer) u8(v uint8) {
	w.b[w.off] = v
	w.off++
}

func (w *writer) u16(v uint16) {
	binary.LittleEndian.PutUint16(w.b[w.off:], v)
	w.off += 2
}

func (w *writer) bool(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

type reader struct {
	b   []byte
	off int
}

func (r *reader) u8() uint8 {
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) u16() uint16 {
	v := binary.LittleEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

func (r *reader) bool() bool { return r.u8() != 0 }

func encode(dst []byte, p *Preset, v version) {
	copy(dst, v.sig[:])
	w := &writer{b: dst, off: len(v.sig)}
	for i := range p.Channels {
		c := &p.Channels[i]
		w.u8(c.Wavetable)
		w.u8(uint8(c.Octave))
		w.u8(uint8(c.Transpose))
		w.u8(c.Level)
		w.u8(c.Pan)
		w.bool(c.Muted)
		if v.fineTune {
			w.u16(uint16(c.FineTune))
			w.bool(c.KeyFollow)
		}
	}
	for i := range p.LFOs {
		l := &p.LFOs[i]
		w.u8(l.Shape)
		w.u8(l.Divide)
		w.u8(l.Gain)
		if v.lfoPhase {
			w.u16(l.Phase)
			w.bool(l.Locked)
		}
	}
	for _, b := range p.Browse {
		w.u16(b)
	}
	w.u8(p.Spread)
}

func decode(src []byte, p *Preset, v version) {
	r := &reader{b: src, off: len(v.sig)}
	for i := range p.Channels {
		c := &p.Channels[i]
		c.Wavetable = r.u8()
		c.Octave = int8(r.u8())
		c.Transpose = int8(r.u8())
		c.Level = r.u8()
		c.Pan = r.u8()
		c.Muted = r.bool()
		if v.fineTune {
			c.FineTune = int16(r.u16())
			c.KeyFollow = r.bool()
		}
	}
	for i := range p.LFOs {
		l := &p.LFOs[i]
		l.Shape = r.u8()
		l.Divide = r.u8()
		l.Gain = r.u8()
		if v.lfoPhase {
			l.Phase = r.u16()
			l.Locked = r.bool()
		}
	}
	for i := range p.Browse {
		p.Browse[i] = r.u16()
	}
	p.Spread = r.u8()
}
