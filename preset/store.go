package preset

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gentam/norstore"
	"github.com/gentam/norstore/storage"
)

// ErrVerify is returned when a committed slot does not read back as written.
var ErrVerify = errors.New("preset: verify after commit failed")

// rewriteAttempts bounds how often commit erases a sector to program the
// sibling back.
const rewriteAttempts = 3

// Layout places the presets and their bookkeeping records in flash.
type Layout struct {
	MaxPresets     int
	BaseSector     int // first preset sector; two slots per sector
	StartupSector  int
	SettingsSector int
}

var DefaultLayout = Layout{
	MaxPresets:     24,
	BaseSector:     2,
	StartupSector:  0,
	SettingsSector: 1,
}

// Sectors is the number of sectors the presets occupy.
func (l Layout) Sectors() int { return (l.MaxPresets + 1) / 2 }

func (l Layout) validate(g norstore.Geometry) error {
	if l.MaxPresets <= 0 {
		return fmt.Errorf("preset: MaxPresets %d", l.MaxPresets)
	}
	if l.BaseSector < 0 || l.BaseSector+l.Sectors() > g.Sectors() {
		return fmt.Errorf("preset: sectors %d..%d outside chip", l.BaseSector, l.BaseSector+l.Sectors()-1)
	}
	for i := 0; i < l.Sectors(); i++ {
		if g.SectorSize(l.BaseSector+i)/2 < RecordSize {
			return fmt.Errorf("preset: sector %d too small for two records", l.BaseSector+i)
		}
	}
	for _, s := range []int{l.StartupSector, l.SettingsSector} {
		if s >= l.BaseSector && s < l.BaseSector+l.Sectors() {
			return fmt.Errorf("preset: sector %d is reserved and inside the preset area", s)
		}
	}
	return nil
}

// Suspender pauses whatever reads the active preset while flash is busy.
// Calls nest; only the outermost Resume restarts anything.
type Suspender interface {
	Suspend()
	Resume()
}

type nopSuspender struct{}

func (nopSuspender) Suspend() {}
func (nopSuspender) Resume()  {}

type config struct {
	layout    Layout
	suspender Suspender
	logger    *slog.Logger
}

func defaultConfig() config {
	return config{
		layout:    DefaultLayout,
		suspender: nopSuspender{},
		logger:    slog.Default(),
	}
}

type Option func(*config)

func WithLayout(l Layout) Option { return func(c *config) { c.layout = l } }

func WithSuspender(s Suspender) Option { return func(c *config) { c.suspender = s } }

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// Store holds MaxPresets slots. Not safe for concurrent use.
type Store struct {
	m      storage.Media
	geo    norstore.Geometry
	layout Layout
	susp   Suspender
	log    *slog.Logger

	filled []bool

	// held keeps sibling images that could not be programmed back, by slot.
	// The next commit to the sector writes them.
	held map[int][]byte
}

// Open scans every slot's signature.
func Open(m storage.Media, g norstore.Geometry, opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if err := cfg.layout.validate(g); err != nil {
		return nil, err
	}

	s := &Store{
		m:      m,
		geo:    g,
		layout: cfg.layout,
		susp:   cfg.suspender,
		log:    cfg.logger,
		filled: make([]bool, cfg.layout.MaxPresets),
		held:   map[int][]byte{},
	}
	for slot := range s.filled {
		if err := s.refresh(slot); err != nil {
			return nil, fmt.Errorf("scan slot %d: %w", slot, err)
		}
	}
	s.log.Debug("presets scanned", "filled", len(s.Filled()), "slots", len(s.filled))
	return s, nil
}

func (s *Store) Layout() Layout { return s.layout }

// Slots returns MaxPresets.
func (s *Store) Slots() int { return len(s.filled) }

// Clamp maps any index to a valid slot.
func (s *Store) Clamp(slot int) int {
	if slot < 0 {
		return 0
	}
	if slot >= len(s.filled) {
		return len(s.filled) - 1
	}
	return slot
}

func (s *Store) sector(slot int) int { return s.layout.BaseSector + slot/2 }

func (s *Store) half(slot int) int { return s.geo.SectorSize(s.sector(slot)) / 2 }

// Address returns the flash address of slot. slot is not clamped, so the
// unused sibling of an odd last slot has an address too.
func (s *Store) Address(slot int) int {
	return s.geo.SectorStart(s.sector(slot)) + (slot%2)*s.half(slot)
}

func (s *Store) IsFilled(slot int) bool { return s.filled[s.Clamp(slot)] }

// Filled lists the filled slots in order.
func (s *Store) Filled() []int {
	var out []int
	for i, f := range s.filled {
		if f {
			out = append(out, i)
		}
	}
	return out
}

// ReadRaw returns the slot's record bytes as stored, or as held in memory
// after a failed commit.
func (s *Store) ReadRaw(slot int) ([]byte, error) {
	slot = s.Clamp(slot)
	rec := make([]byte, RecordSize)
	if img, ok := s.held[slot]; ok {
		copy(rec, img)
		return rec, nil
	}
	if err := s.m.ReadAt(rec, s.Address(slot)); err != nil {
		return nil, err
	}
	return rec, nil
}

// Held lists the slots whose contents are only in memory, waiting for the
// next commit to their sector.
func (s *Store) Held() []int {
	var out []int
	for slot := range s.filled {
		if _, ok := s.held[slot]; ok {
			out = append(out, slot)
		}
	}
	return out
}

func (s *Store) refresh(slot int) error {
	sig := make([]byte, len(storage.Signature{}))
	if img, ok := s.held[slot]; ok {
		copy(sig, img)
	} else if err := s.m.ReadAt(sig, s.Address(slot)); err != nil {
		return err
	}
	_, ok := lookup(sig)
	s.filled[slot] = ok
	return nil
}

// Recall decodes slot, migrating older versions. An empty or unreadable
// record recalls as Default and reports false.
func (s *Store) Recall(slot int) (Preset, bool, error) {
	slot = s.Clamp(slot)
	s.susp.Suspend()
	defer s.susp.Resume()

	rec, err := s.ReadRaw(slot)
	if err != nil {
		return Default(), false, fmt.Errorf("recall slot %d: %w", slot, err)
	}
	var p Preset
	if !(Codec{}).Decode(rec, &p) {
		s.log.Debug("recall empty slot", "slot", slot)
		return Default(), false, nil
	}
	if sig, _ := Version(rec); sig != Current {
		s.log.Info("migrated preset", "slot", slot, "from", sig, "to", Current)
	}
	return p, true, nil
}

// Store writes p into slot as the current version.
func (s *Store) Store(slot int, p *Preset) error {
	return s.commit(s.Clamp(slot), Encode(p))
}

// Clear invalidates slot by writing a zero signature.
func (s *Store) Clear(slot int) error {
	return s.commit(s.Clamp(slot), make([]byte, len(storage.Signature{})))
}

// WriteRaw commits rec into slot unchanged. A blank rec clears the slot.
func (s *Store) WriteRaw(slot int, rec []byte) error {
	if len(rec) > RecordSize {
		return fmt.Errorf("preset: %d byte record exceeds %d", len(rec), RecordSize)
	}
	if storage.Blank(rec) {
		return s.Clear(slot)
	}
	return s.commit(s.Clamp(slot), rec)
}

// commit rewrites slot's sector. The sibling goes back first, so once the
// erase completes a power cut can cost only the slot being written. A sibling
// that fails to program is retried after another erase; if it still fails it
// is held in memory for the next commit.
func (s *Store) commit(slot int, rec []byte) error {
	s.susp.Suspend()
	defer s.susp.Resume()

	sib := slot ^ 1
	keep, err := s.sibling(sib)
	if err != nil {
		return fmt.Errorf("read sibling %d: %w", sib, err)
	}

	for attempt := 1; ; attempt++ {
		err = s.rewrite(slot, sib, keep)
		if err == nil || attempt == rewriteAttempts || errors.Is(err, norstore.ErrPowerLost) {
			break
		}
		s.log.Warn("sector rewrite failed, retrying", "sector", s.sector(slot), "attempt", attempt, "err", err)
	}
	if err != nil {
		if used(keep) > 0 {
			s.held[sib] = keep
			s.log.Warn("holding sibling in memory", "slot", sib)
		}
		s.rescan(slot, sib)
		return err
	}
	delete(s.held, slot)
	delete(s.held, sib)

	if err := s.m.WriteAt(rec, s.Address(slot)); err != nil {
		s.rescan(slot, sib)
		return fmt.Errorf("write slot %d: %w", slot, err)
	}

	got := make([]byte, len(rec))
	if err := s.m.ReadAt(got, s.Address(slot)); err != nil {
		s.rescan(slot, sib)
		return fmt.Errorf("verify slot %d: %w", slot, err)
	}
	s.rescan(slot, sib)
	if !bytes.Equal(got, rec) {
		return fmt.Errorf("%w: slot %d", ErrVerify, slot)
	}
	s.log.Debug("committed", "slot", slot, "sibling", sib, "filled", s.filled[slot])
	return nil
}

// sibling returns the half sector that must survive a commit to its
// neighbour.
func (s *Store) sibling(sib int) ([]byte, error) {
	if img, ok := s.held[sib]; ok {
		return img, nil
	}
	keep := make([]byte, s.half(sib))
	if err := s.m.ReadAt(keep, s.Address(sib)); err != nil {
		return nil, err
	}
	return keep, nil
}

// rewrite erases slot's sector and programs the sibling back.
func (s *Store) rewrite(slot, sib int, keep []byte) error {
	if err := s.m.EraseSector(s.geo.SectorStart(s.sector(slot))); err != nil {
		return fmt.Errorf("erase sector %d: %w", s.sector(slot), err)
	}
	if n := used(keep); n > 0 {
		if err := s.m.WriteAt(keep[:n], s.Address(sib)); err != nil {
			return fmt.Errorf("restore sibling %d: %w", sib, err)
		}
	}
	return nil
}

// rescan re-reads the signatures of a sector's slots after a commit.
func (s *Store) rescan(slots ...int) {
	for _, slot := range slots {
		if slot >= len(s.filled) {
			continue
		}
		if err := s.refresh(slot); err != nil {
			s.log.Warn("rescan failed", "slot", slot, "err", err)
		}
	}
}

// used returns the length of b without its trailing erased bytes.
func used(b []byte) int {
	n := len(b)
	for n > 0 && b[n-1] == norstore.Erased {
		n--
	}
	return n
}
