package norstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeometry_Default(t *testing.T) {
	g := DefaultGeometry
	require.NoError(t, g.Validate())
	assert.Equal(t, 0x20000, g.Boundary())
	assert.Equal(t, 30, g.LargeSectors())
	assert.Equal(t, 62, g.Sectors())
}

func TestGeometry_SectorIndex(t *testing.T) {
	g := DefaultGeometry
	tests := []struct {
		name  string
		addr  int
		index int
		start int
		size  int
	}{
		{"first byte", 0x000000, 0, 0x000000, 4 << 10},
		{"inside small", 0x001234, 1, 0x001000, 4 << 10},
		{"last small", 0x01FFFF, 31, 0x01F000, 4 << 10},
		{"boundary", 0x020000, 32, 0x020000, 64 << 10},
		{"inside large", 0x0345AB, 33, 0x030000, 64 << 10},
		{"last byte", 0x1FFFFF, 61, 0x1F0000, 64 << 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := g.SectorIndex(tt.addr)
			assert.Equal(t, tt.index, i)
			assert.Equal(t, tt.start, g.SectorStart(i))
			assert.Equal(t, tt.size, g.SectorSize(i))
			start, size := g.SectorOf(tt.addr)
			assert.Equal(t, tt.start, start)
			assert.Equal(t, tt.size, size)
		})
	}
}

func TestGeometry_InverseConsistent(t *testing.T) {
	g := DefaultGeometry
	for addr := 0; addr < g.Size; addr += 0x3FF {
		i := g.SectorIndex(addr)
		start, size := g.SectorStart(i), g.SectorSize(i)
		if addr < start || addr >= start+size {
			t.Fatalf("addr 0x%X not inside sector %d [0x%X, 0x%X)", addr, i, start, start+size)
		}
	}
	for i := 0; i < g.Sectors(); i++ {
		assert.Equal(t, i, g.SectorIndex(g.SectorStart(i)), "sector %d start", i)
		assert.Equal(t, i, g.SectorIndex(g.SectorStart(i)+g.SectorSize(i)-1), "sector %d end", i)
	}
}

func TestGeometry_OutOfRangePanics(t *testing.T) {
	g := DefaultGeometry
	assert.Panics(t, func() { g.SectorIndex(-1) })
	assert.Panics(t, func() { g.SectorIndex(g.Size) })
	assert.Panics(t, func() { g.SectorStart(g.Sectors()) })
	assert.Panics(t, func() { g.SectorSize(-1) })
}

func TestGeometry_Validate(t *testing.T) {
	tests := []struct {
		name string
		g    Geometry
	}{
		{"zero", Geometry{}},
		{"unaligned sector", Geometry{Size: 1 << 20, SmallSectorSize: 1000, SmallSectors: 1, LargeSectorSize: 64 << 10}},
		{"small exceeds chip", Geometry{Size: 8 << 10, SmallSectorSize: 4 << 10, SmallSectors: 4, LargeSectorSize: 64 << 10}},
		{"large does not tile", Geometry{Size: 100 << 10, SmallSectorSize: 4 << 10, SmallSectors: 1, LargeSectorSize: 64 << 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.g.Validate())
		})
	}
}

func TestRoundUpToPage(t *testing.T) {
	assert.Equal(t, 0, RoundUpToPage(0))
	assert.Equal(t, 256, RoundUpToPage(1))
	assert.Equal(t, 256, RoundUpToPage(256))
	assert.Equal(t, 512, RoundUpToPage(257))
}
