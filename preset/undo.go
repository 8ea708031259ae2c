package preset

// Undo holds one record image from before the last destructive operation.
// Swapping twice is redo; there is never more than one step.
type Undo struct {
	img   []byte
	valid bool
}

func NewUndo() *Undo {
	return &Undo{img: make([]byte, RecordSize)}
}

func (u *Undo) Valid() bool { return u.valid }

// Image returns a copy of the held record.
func (u *Undo) Image() []byte {
	return append([]byte(nil), u.img...)
}

// StashActive overwrites the image with active.
func (u *Undo) StashActive(active *Preset) {
	Codec{}.Encode(u.img, active)
	u.valid = true
}

// StashRaw overwrites the image with a raw record.
func (u *Undo) StashRaw(rec []byte) {
	clear(u.img)
	copy(u.img, rec)
	u.valid = true
}

// SwapActive exchanges the image with active. An image that does not decode
// swaps in Default. Without a valid image it stashes active instead.
func (u *Undo) SwapActive(active *Preset) {
	if !u.valid {
		u.StashActive(active)
		return
	}
	var prev Preset
	if !(Codec{}).Decode(u.img, &prev) {
		prev = Default()
	}
	u.StashActive(active)
	*active = prev
}

// SwapWithSlot exchanges the image with slot's record through the store's
// commit. Without a valid image it stashes the slot instead.
func (u *Undo) SwapWithSlot(s *Store, slot int) error {
	scratch, err := s.ReadRaw(slot)
	if err != nil {
		return err
	}
	if !u.valid {
		u.StashRaw(scratch)
		return nil
	}
	if err := s.WriteRaw(slot, u.img); err != nil {
		return err
	}
	u.StashRaw(scratch)
	return nil
}
