package preset

import (
	"github.com/gentam/norstore"
	"github.com/gentam/norstore/storage"
)

// SigStartup is the startup pointer's check word.
var SigStartup = storage.Tag("SP1")

// StartupPointer names the slot recalled at power-up.
type StartupPointer struct {
	Slot uint8
}

type startupCodec struct{}

func (startupCodec) Size() int { return 8 }

func (startupCodec) Encode(dst []byte, v *StartupPointer) {
	copy(dst, SigStartup[:])
	dst[4] = v.Slot
}

func (startupCodec) Decode(src []byte, v *StartupPointer) bool {
	if !SigStartup.Matches(src) {
		return false
	}
	v.Slot = src[4]
	return true
}

// OpenStartup returns the wear-leveled store for the startup pointer in the
// layout's startup sector.
func OpenStartup(m storage.Media, g norstore.Geometry, l Layout) *storage.WearLeveler[StartupPointer] {
	cells := storage.NewSlotted(m, g, l.StartupSector, startupCodec{}.Size())
	return storage.NewWearLeveler[StartupPointer](cells, startupCodec{})
}
