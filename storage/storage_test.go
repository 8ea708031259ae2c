package storage

import (
	"encoding/binary"
	"testing"

	"github.com/gentam/norstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	N uint32
}

var counterSig = Tag("CNT")

type counterCodec struct{}

func (counterCodec) Size() int { return 8 }

func (counterCodec) Encode(dst []byte, v *counter) {
	copy(dst, counterSig[:])
	binary.LittleEndian.PutUint32(dst[4:], v.N)
}

func (counterCodec) Decode(src []byte, v *counter) bool {
	if !counterSig.Matches(src) {
		return false
	}
	v.N = binary.LittleEndian.Uint32(src[4:])
	return true
}

const testSector = 3

func newTestMedia(t *testing.T) (*norstore.Emulator, *norstore.Flash) {
	t.Helper()
	e := norstore.NewEmulator(norstore.DefaultGeometry)
	f := e.NewFlash()
	require.NoError(t, f.Init())
	return e, f
}

func TestSlotted_Cells(t *testing.T) {
	g := norstore.DefaultGeometry
	tests := []struct {
		name       string
		sector     int
		recordSize int
		want       int
	}{
		{"tiny record small sector", 0, 8, 16},
		{"page record", 0, 256, 16},
		{"page and a byte", 0, 257, 8},
		{"large sector", 40, 300, 128},
		{"whole sector", 1, 4096, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSlotted(nil, g, tt.sector, tt.recordSize)
			assert.Equal(t, tt.want, s.Cells())
		})
	}
	assert.Panics(t, func() { NewSlotted(nil, g, 0, 4097) })
}

func TestSlotted_ReadWrite(t *testing.T) {
	e, f := newTestMedia(t)
	s := NewSlotted(f, norstore.DefaultGeometry, testSector, 8)

	ok, err := s.IsCellWriteable(2)
	require.NoError(t, err)
	assert.True(t, ok)

	rec := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, s.WriteCell(2, rec))

	ok, err = s.IsCellWriteable(2)
	require.NoError(t, err)
	assert.False(t, ok)

	got := make([]byte, 8)
	require.NoError(t, s.ReadCell(2, got))
	assert.Equal(t, rec, got)

	// cell 2 sits two pages into the sector
	assert.Equal(t, norstore.DefaultGeometry.SectorStart(testSector)+2*norstore.PageSize, s.Addr(2))
	raw := e.Bytes()
	assert.Equal(t, rec, raw[s.Addr(2):s.Addr(2)+8])

	require.NoError(t, s.Erase())
	ok, err = s.IsCellWriteable(2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSlotted_OutOfRange(t *testing.T) {
	e, f := newTestMedia(t)
	s := NewSlotted(f, norstore.DefaultGeometry, testSector, 8)
	before := e.Transactions()

	buf := make([]byte, 8)
	assert.ErrorIs(t, s.ReadCell(-1, buf), ErrCellRange)
	assert.ErrorIs(t, s.ReadCell(s.Cells(), buf), ErrCellRange)
	assert.ErrorIs(t, s.WriteCell(s.Cells(), buf), ErrCellRange)
	_, err := s.IsCellWriteable(99)
	assert.ErrorIs(t, err, ErrCellRange)
	assert.Error(t, s.WriteCell(0, make([]byte, 9)))

	assert.Equal(t, before, e.Transactions(), "range errors never reach the bus")
}

func TestWearLeveler_EmptyRead(t *testing.T) {
	_, f := newTestMedia(t)
	w := NewWearLeveler[counter](NewSlotted(f, norstore.DefaultGeometry, testSector, 8), counterCodec{})
	assert.Equal(t, 16, w.Cursor(), "not positioned")

	_, ok, err := w.Read()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, w.Cursor())
}

func TestWearLeveler_Coverage(t *testing.T) {
	e, f := newTestMedia(t)
	s := NewSlotted(f, norstore.DefaultGeometry, testSector, 8)
	w := NewWearLeveler[counter](s, counterCodec{})
	_, _, err := w.Read()
	require.NoError(t, err)

	n := s.Cells()
	for i := 0; i < n; i++ {
		require.NoError(t, w.Write(counter{N: uint32(i)}))
		assert.Equal(t, i+1, w.Cursor())

		got, ok, err := w.Read()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint32(i), got.N)
	}
	assert.Equal(t, 0, e.SectorErases(testSector), "N writes before any erase")
	for c := 0; c < n; c++ {
		ok, err := s.IsCellWriteable(c)
		require.NoError(t, err)
		assert.False(t, ok, "cell %d used", c)
	}

	require.NoError(t, w.Write(counter{N: 100}))
	assert.Equal(t, 1, e.SectorErases(testSector), "wrap erases exactly once")
	assert.Equal(t, 1, w.Cursor())

	got, ok, err := w.Read()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(100), got.N)
}

func TestWearLeveler_NewestWins(t *testing.T) {
	e, f := newTestMedia(t)
	s := NewSlotted(f, norstore.DefaultGeometry, testSector, 8)
	codec := counterCodec{}
	put := func(cell int, n uint32) {
		buf := make([]byte, 8)
		codec.Encode(buf, &counter{N: n})
		e.Poke(s.Addr(cell), buf)
	}
	put(0, 10)
	put(1, 11)
	put(3, 13)
	e.Poke(s.Addr(5), []byte{0xDE, 0xAD}) // torn write, no signature

	w := NewWearLeveler[counter](s, codec)
	got, ok, err := w.Read()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(13), got.N)
	assert.Equal(t, 4, w.Cursor())

	require.NoError(t, w.Write(counter{N: 14}))
	assert.Equal(t, 5, w.Cursor())
	require.NoError(t, w.Write(counter{N: 15}))
	assert.Equal(t, 7, w.Cursor(), "skips the torn cell")

	got, _, err = w.Read()
	require.NoError(t, err)
	assert.Equal(t, uint32(15), got.N)
}

func TestWearLeveler_WriteWithoutRead(t *testing.T) {
	e, f := newTestMedia(t)
	s := NewSlotted(f, norstore.DefaultGeometry, testSector, 8)

	w1 := NewWearLeveler[counter](s, counterCodec{})
	require.NoError(t, w1.Write(counter{N: 1}))
	require.NoError(t, w1.Write(counter{N: 2}))

	w2 := NewWearLeveler[counter](s, counterCodec{})
	require.NoError(t, w2.Write(counter{N: 3}))
	assert.Equal(t, 3, w2.Cursor())
	assert.Equal(t, 0, e.SectorErases(testSector))

	got, _, err := w2.Read()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), got.N)
}

type countingCells struct {
	CellStore
	reads int
}

func (c *countingCells) ReadCell(cell int, p []byte) error {
	c.reads++
	return c.CellStore.ReadCell(cell, p)
}

func TestWearLeveler_WrapWithoutRescan(t *testing.T) {
	e, f := newTestMedia(t)
	cells := &countingCells{CellStore: NewSlotted(f, norstore.DefaultGeometry, testSector, 8)}
	w := NewWearLeveler[counter](cells, counterCodec{})
	_, _, err := w.Read()
	require.NoError(t, err)

	for i := 0; i < cells.Cells(); i++ {
		require.NoError(t, w.Write(counter{N: uint32(i)}))
	}
	assert.Equal(t, cells.Cells(), w.Cursor())

	cells.reads = 0
	require.NoError(t, w.Write(counter{N: 99}))
	assert.Equal(t, 0, cells.reads, "cursor already known")
	assert.Equal(t, 1, e.SectorErases(testSector))
	assert.Equal(t, 1, w.Cursor())
}

func TestWearLeveler_PowerLossKeepsPrevious(t *testing.T) {
	e, f := newTestMedia(t)
	s := NewSlotted(f, norstore.DefaultGeometry, testSector, 8)
	w := NewWearLeveler[counter](s, counterCodec{})
	require.NoError(t, w.Write(counter{N: 7}))

	// cell check and write enable get through, the program does not
	e.CutPowerAfter(2)
	assert.Error(t, w.Write(counter{N: 8}))
	e.PowerCycle()

	got, ok, err := NewWearLeveler[counter](s, counterCodec{}).Read()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(7), got.N)
}

func TestSingleton(t *testing.T) {
	_, f := newTestMedia(t)
	open := func(validate func(*counter) bool) *Singleton[counter] {
		w := NewWearLeveler[counter](NewSlotted(f, norstore.DefaultGeometry, testSector, 8), counterCodec{})
		s, err := NewSingleton[counter](w, counter{N: 42}, validate)
		require.NoError(t, err)
		return s
	}

	s := open(nil)
	assert.False(t, s.Loaded(), "fresh flash uses the default")
	assert.Equal(t, uint32(42), s.Value().N)

	s = open(nil)
	assert.True(t, s.Loaded(), "default was persisted")
	assert.Equal(t, uint32(42), s.Value().N)

	s.Value().N = 7
	require.NoError(t, s.Save())
	assert.Equal(t, uint32(7), open(nil).Value().N)

	// a stored value failing validation heals to the default
	below10 := func(c *counter) bool { return c.N < 10 }
	s.Value().N = 99
	require.NoError(t, s.Save())
	s = open(below10)
	assert.False(t, s.Loaded())
	assert.Equal(t, uint32(42), s.Value().N)
	assert.Equal(t, uint32(42), open(nil).Value().N)
}

func TestSignature(t *testing.T) {
	sig := Tag("PS4")
	assert.Equal(t, Signature{'P', 'S', '4', 0}, sig)
	assert.Equal(t, "PS4", sig.String())
	assert.True(t, sig.Matches([]byte{'P', 'S', '4', 0, 1}))
	assert.False(t, sig.Matches([]byte{'P', 'S', '3', 0}))
	assert.False(t, sig.Matches([]byte{'P'}))

	assert.True(t, Blank([]byte{0, 0, 0, 0}))
	assert.True(t, Blank([]byte{0xFF, 0xFF, 0xFF, 0xFF, 1}))
	assert.False(t, Blank(sig[:]))
}
