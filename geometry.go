package norstore

import "fmt"

// PageSize is the largest chunk a single page program command accepts.
// [W25Q128|8.2.13 Page Program (02h)] / [N25Q32|PAGE PROGRAM]
const PageSize = 256

// Erased is the value every byte reads back as after an erase.
const Erased = 0xFF

// RoundUpToPage rounds n up to a multiple of PageSize.
func RoundUpToPage(n int) int {
	return (n + PageSize - 1) / PageSize * PageSize
}

// Geometry describes a chip with two erase granularities: small sectors at the
// bottom of the address space and large sectors above them.
//
//	0x000000 +-----------------+
//	         | small sector 0  |  SmallSectorSize
//	         | ...             |
//	Boundary +-----------------+
//	         | large sector    |  LargeSectorSize
//	         | ...             |
//	Size     +-----------------+
type Geometry struct {
	Size            int // total bytes
	SmallSectorSize int
	SmallSectors    int
	LargeSectorSize int
}

// DefaultGeometry is a 16 Mbit part with 128 KiB of 4 KiB parameter sectors
// below 64 KiB blocks.
var DefaultGeometry = Geometry{
	Size:            2 << 20,
	SmallSectorSize: 4 << 10,
	SmallSectors:    32,
	LargeSectorSize: 64 << 10,
}

// Boundary is the first address covered by a large sector.
func (g Geometry) Boundary() int { return g.SmallSectorSize * g.SmallSectors }

// LargeSectors is the number of large sectors above Boundary.
func (g Geometry) LargeSectors() int { return (g.Size - g.Boundary()) / g.LargeSectorSize }

// Sectors is the total number of sectors.
func (g Geometry) Sectors() int { return g.SmallSectors + g.LargeSectors() }

// Validate checks that the geometry tiles the chip exactly.
func (g Geometry) Validate() error {
	switch {
	case g.Size <= 0 || g.SmallSectorSize <= 0 || g.LargeSectorSize <= 0 || g.SmallSectors < 0:
		return fmt.Errorf("geometry: non-positive size in %+v", g)
	case g.SmallSectorSize%PageSize != 0 || g.LargeSectorSize%PageSize != 0:
		return fmt.Errorf("geometry: sector sizes must be page multiples")
	case g.Boundary() > g.Size:
		return fmt.Errorf("geometry: small sectors exceed chip size")
	case (g.Size-g.Boundary())%g.LargeSectorSize != 0:
		return fmt.Errorf("geometry: large sectors do not tile 0x%X-0x%X", g.Boundary(), g.Size)
	}
	return nil
}

// SectorIndex returns the index of the sector containing addr.
func (g Geometry) SectorIndex(addr int) int {
	if addr < 0 || addr >= g.Size {
		panic(fmt.Sprintf("norstore: address 0x%X outside chip (0x%X bytes)", addr, g.Size))
	}
	if b := g.Boundary(); addr >= b {
		return g.SmallSectors + (addr-b)/g.LargeSectorSize
	}
	return addr / g.SmallSectorSize
}

// SectorStart returns the first address of sector i.
func (g Geometry) SectorStart(i int) int {
	g.checkIndex(i)
	if i >= g.SmallSectors {
		return g.Boundary() + (i-g.SmallSectors)*g.LargeSectorSize
	}
	return i * g.SmallSectorSize
}

// SectorSize returns the size of sector i.
func (g Geometry) SectorSize(i int) int {
	g.checkIndex(i)
	if i >= g.SmallSectors {
		return g.LargeSectorSize
	}
	return g.SmallSectorSize
}

// SectorOf returns the start and size of the sector containing addr.
func (g Geometry) SectorOf(addr int) (start, size int) {
	i := g.SectorIndex(addr)
	return g.SectorStart(i), g.SectorSize(i)
}

func (g Geometry) checkIndex(i int) {
	if i < 0 || i >= g.Sectors() {
		panic(fmt.Sprintf("norstore: sector %d outside chip (%d sectors)", i, g.Sectors()))
	}
}
