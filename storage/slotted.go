package storage

import (
	"fmt"

	"github.com/gentam/norstore"
)

// Slotted divides one sector into page-aligned cells of a fixed record size.
type Slotted struct {
	m          Media
	start      int
	size       int
	recordSize int
	stride     int
}

var _ CellStore = (*Slotted)(nil)

// NewSlotted lays out records of recordSize bytes in sector. It panics when
// the record does not fit; layouts are fixed at build time.
func NewSlotted(m Media, g norstore.Geometry, sector, recordSize int) *Slotted {
	s := &Slotted{
		m:          m,
		start:      g.SectorStart(sector),
		size:       g.SectorSize(sector),
		recordSize: recordSize,
		stride:     norstore.RoundUpToPage(recordSize),
	}
	if recordSize <= 0 || s.stride > s.size {
		panic(fmt.Sprintf("storage: %d byte record does not fit sector %d", recordSize, sector))
	}
	return s
}

// Cells is the number of cells in the sector.
func (s *Slotted) Cells() int { return s.size / s.stride }

func (s *Slotted) RecordSize() int { return s.recordSize }

// Addr returns the flash address of cell.
func (s *Slotted) Addr(cell int) int { return s.start + cell*s.stride }

func (s *Slotted) check(cell int, n int) error {
	if cell < 0 || cell >= s.Cells() {
		return fmt.Errorf("%w: %d of %d", ErrCellRange, cell, s.Cells())
	}
	if n > s.recordSize {
		return fmt.Errorf("%d bytes exceed %d byte record", n, s.recordSize)
	}
	return nil
}

func (s *Slotted) ReadCell(cell int, p []byte) error {
	if err := s.check(cell, len(p)); err != nil {
		return err
	}
	return s.m.ReadAt(p, s.Addr(cell))
}

// WriteCell programs p into cell. The cell must be writeable.
func (s *Slotted) WriteCell(cell int, p []byte) error {
	if err := s.check(cell, len(p)); err != nil {
		return err
	}
	return s.m.WriteAt(p, s.Addr(cell))
}

// IsCellWriteable reports whether every byte of the cell is erased.
func (s *Slotted) IsCellWriteable(cell int) (bool, error) {
	if err := s.check(cell, 0); err != nil {
		return false, err
	}
	buf := make([]byte, s.recordSize)
	if err := s.m.ReadAt(buf, s.Addr(cell)); err != nil {
		return false, err
	}
	for _, b := range buf {
		if b != norstore.Erased {
			return false, nil
		}
	}
	return true, nil
}

// Erase erases the whole sector.
func (s *Slotted) Erase() error {
	return s.m.EraseSector(s.start)
}
