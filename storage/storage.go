// Package storage keeps small fixed-size records in flash sectors.
//
// The layers compose by wrapping:
//
//	Slotted        page-aligned cells inside one sector
//	WearLeveler[T] newest valid cell wins; writes walk the cells and erase on wrap
//	Singleton[T]   load or persist a default, then Save on demand
//
// Records carry a 4 byte Signature in front. Erased flash reads as 0xFF, which
// never matches a signature, so an empty cell needs no extra marker.
package storage

import (
	"bytes"
	"errors"
)

// Media is the part of norstore.Flash the stores use.
type Media interface {
	ReadAt(p []byte, addr int) error
	WriteAt(p []byte, addr int) error
	EraseSector(addr int) error
}

// ErrCellRange is returned for a cell index outside the sector.
var ErrCellRange = errors.New("cell out of range")

// CellStore is a sector divided into equal cells that can only be rewritten
// after the whole sector is erased.
type CellStore interface {
	Cells() int
	RecordSize() int
	ReadCell(cell int, p []byte) error
	WriteCell(cell int, p []byte) error
	IsCellWriteable(cell int) (bool, error)
	Erase() error
}

// Codec converts T to and from its fixed-size record. Decode reports false
// when src does not hold a valid record.
type Codec[T any] interface {
	Size() int
	Encode(dst []byte, v *T)
	Decode(src []byte, v *T) bool
}

// RecordStore holds one logical record. Read reports false when nothing
// valid is stored.
type RecordStore[T any] interface {
	Read() (T, bool, error)
	Write(v T) error
}

// Signature marks a valid record of one format version.
type Signature [4]byte

// Tag builds a Signature from a three character version tag.
func Tag(s string) Signature {
	var sig Signature
	copy(sig[:3], s)
	return sig
}

// Matches reports whether b starts with the signature.
func (s Signature) Matches(b []byte) bool {
	return len(b) >= len(s) && bytes.Equal(b[:len(s)], s[:])
}

func (s Signature) String() string {
	return string(bytes.TrimRight(s[:], "\x00"))
}

// Blank reports whether a signature field holds no record: all zero (cleared)
// or all 0xFF (erased).
func Blank(b []byte) bool {
	if len(b) < 4 {
		return true
	}
	b = b[:4]
	return bytes.Equal(b, []byte{0, 0, 0, 0}) || bytes.Equal(b, []byte{0xFF, 0xFF, 0xFF, 0xFF})
}
