package preset

import (
	"fmt"
	"log/slog"

	"github.com/gentam/norstore/storage"
)

// noSlot marks an undo image that belongs to the active preset.
const noSlot = -1

// Bank owns the active preset, the undo image and the startup pointer.
// Create one at startup and hand it to whatever edits presets.
type Bank struct {
	store   *Store
	startup *storage.Singleton[StartupPointer]
	undo    *Undo
	log     *slog.Logger

	active   Preset
	current  int // slot last recalled or stored
	undoSlot int
}

// NewBank loads the startup pointer, healing it to slot 0 when it is missing
// or points past the last slot. Call Boot to load the active preset.
func NewBank(store *Store, startup storage.RecordStore[StartupPointer], opts ...Option) (*Bank, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	inRange := func(p *StartupPointer) bool { return int(p.Slot) < store.Slots() }
	sp, err := storage.NewSingleton(startup, StartupPointer{}, inRange)
	if err != nil {
		return nil, fmt.Errorf("startup pointer: %w", err)
	}
	return &Bank{
		store:    store,
		startup:  sp,
		undo:     NewUndo(),
		log:      cfg.logger,
		active:   Default(),
		undoSlot: noSlot,
	}, nil
}

// Active returns the active preset. Callers editing it from other goroutines
// must hold the store's Suspender convention.
func (b *Bank) Active() *Preset { return &b.active }

// Slot returns the slot last recalled or stored.
func (b *Bank) Slot() int { return b.current }

func (b *Bank) Presets() *Store { return b.store }

func (b *Bank) UndoBuffer() *Undo { return b.undo }

// Boot recalls the startup slot and arms undo with it.
func (b *Bank) Boot() error {
	slot := int(b.startup.Value().Slot)
	b.store.susp.Suspend()
	defer b.store.susp.Resume()

	p, ok, err := b.store.Recall(slot)
	if err != nil {
		return err
	}
	b.active = p
	b.current = slot
	b.undo.StashActive(&b.active)
	b.undoSlot = noSlot
	b.log.Info("booted", "slot", slot, "filled", ok)
	return nil
}

// Recall makes slot's preset active. Undo brings back the previous active
// preset.
func (b *Bank) Recall(slot int) error {
	slot = b.store.Clamp(slot)
	b.store.susp.Suspend()
	defer b.store.susp.Resume()

	p, _, err := b.store.Recall(slot)
	if err != nil {
		return err
	}
	b.undo.StashActive(&b.active)
	b.undoSlot = noSlot
	b.active = p
	b.current = slot
	return b.point(slot)
}

// Store saves the active preset into slot. Undo restores the slot's previous
// record.
func (b *Bank) Store(slot int) error {
	slot = b.store.Clamp(slot)
	prev, err := b.store.ReadRaw(slot)
	if err != nil {
		return err
	}
	if err := b.store.Store(slot, &b.active); err != nil {
		return err
	}
	b.undo.StashRaw(prev)
	b.undoSlot = slot
	b.current = slot
	return b.point(slot)
}

// Clear empties slot. Undo restores its previous record.
func (b *Bank) Clear(slot int) error {
	slot = b.store.Clamp(slot)
	prev, err := b.store.ReadRaw(slot)
	if err != nil {
		return err
	}
	if err := b.store.Clear(slot); err != nil {
		return err
	}
	b.undo.StashRaw(prev)
	b.undoSlot = slot
	return nil
}

// Undo reverses the last Recall, Store or Clear. Calling it again redoes.
func (b *Bank) Undo() error {
	if b.undoSlot == noSlot {
		b.store.susp.Suspend()
		b.undo.SwapActive(&b.active)
		b.store.susp.Resume()
		return nil
	}
	return b.undo.SwapWithSlot(b.store, b.undoSlot)
}

// point saves slot as the startup slot when it changed.
func (b *Bank) point(slot int) error {
	sp := b.startup.Value()
	if int(sp.Slot) == slot {
		return nil
	}
	sp.Slot = uint8(slot)
	if err := b.startup.Save(); err != nil {
		return fmt.Errorf("startup pointer: %w", err)
	}
	return nil
}
