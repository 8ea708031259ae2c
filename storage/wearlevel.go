package storage

import "fmt"

// WearLeveler stores one logical record across all cells of a CellStore.
// Each write lands in the next erased cell, so a sector is erased once per
// Cells() writes. The newest valid cell is the current value.
type WearLeveler[T any] struct {
	cells CellStore
	codec Codec[T]
	buf   []byte

	cell       int // next cell to try
	positioned bool
}

var _ RecordStore[struct{}] = (*WearLeveler[struct{}])(nil)

func NewWearLeveler[T any](cells CellStore, codec Codec[T]) *WearLeveler[T] {
	if codec.Size() > cells.RecordSize() {
		panic(fmt.Sprintf("storage: codec size %d exceeds cell record size %d", codec.Size(), cells.RecordSize()))
	}
	return &WearLeveler[T]{
		cells: cells,
		codec: codec,
		buf:   make([]byte, codec.Size()),
		cell:  cells.Cells(),
	}
}

// Cursor returns the next cell a write will try. It is Cells() until the
// first Read.
func (w *WearLeveler[T]) Cursor() int { return w.cell }

// Read returns the newest valid record and positions the cursor after it.
// With no valid record the cursor moves to the first cell.
func (w *WearLeveler[T]) Read() (T, bool, error) {
	var v T
	for c := w.cells.Cells() - 1; c >= 0; c-- {
		if err := w.cells.ReadCell(c, w.buf); err != nil {
			return v, false, err
		}
		if w.codec.Decode(w.buf, &v) {
			w.cell = c + 1
			w.positioned = true
			return v, true, nil
		}
	}
	w.cell = 0
	w.positioned = true
	var zero T
	return zero, false, nil
}

// Write stores v in the next writeable cell, erasing the sector when the
// cells are used up.
func (w *WearLeveler[T]) Write(v T) error {
	n := w.cells.Cells()
	if !w.positioned {
		// Not positioned: find the newest record so it stays the newest
		// until this write lands.
		if _, _, err := w.Read(); err != nil {
			return err
		}
	}

	for w.cell < n {
		ok, err := w.cells.IsCellWriteable(w.cell)
		if err != nil {
			return err
		}
		if ok {
			break
		}
		w.cell++
	}
	if w.cell >= n {
		if err := w.cells.Erase(); err != nil {
			return fmt.Errorf("erase for wrap: %w", err)
		}
		w.cell = 0
	}

	for i := range w.buf {
		w.buf[i] = 0
	}
	w.codec.Encode(w.buf, &v)
	if err := w.cells.WriteCell(w.cell, w.buf); err != nil {
		// The cell is no longer erased; the next write skips it.
		w.cell++
		return err
	}
	w.cell++
	return nil
}
