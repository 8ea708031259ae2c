package norstore

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/spi"
)

// ErrPowerLost is returned by an Emulator for every transaction after a
// simulated power cut, until PowerCycle.
var ErrPowerLost = errors.New("emulator: power lost")

// Emulator is an in-memory serial NOR chip behind an spi.Conn. It honors the
// write enable latch, reports busy for BusyPolls status reads after each
// erase or program, and programs with AND semantics, wrapping inside the
// page like real parts do.
//
// Large sectors only accept an erase of their full size. A smaller erase
// aimed above the geometry boundary is ignored and sets the protection error
// bit of the flag status register.
type Emulator struct {
	mu  sync.Mutex
	geo Geometry
	cs  *gpiotest.Pin
	mem []byte

	// BusyPolls is how many status reads report busy after an erase or
	// program.
	BusyPolls int

	wel         bool
	busy        int
	stuck       bool
	poweredDown bool
	fsr         FlagStatusRegister

	cutAfter int // transactions until power cut, -1 when disarmed
	dead     bool

	eraseFault   map[int]bool // sector index
	programFault map[int]bool // page address

	txs          int
	programs     int
	sectorErases map[int]int
}

var _ spi.Conn = (*Emulator)(nil)

// NewEmulator returns an erased chip with geometry g.
func NewEmulator(g Geometry) *Emulator {
	if err := g.Validate(); err != nil {
		panic(err)
	}
	e := &Emulator{
		geo:          g,
		cs:           &gpiotest.Pin{N: "CS", L: gpio.High},
		mem:          make([]byte, g.Size),
		BusyPolls:    1,
		cutAfter:     -1,
		eraseFault:   map[int]bool{},
		programFault: map[int]bool{},
		sectorErases: map[int]int{},
	}
	for i := range e.mem {
		e.mem[i] = Erased
	}
	return e
}

// CS returns the chip select line. Transactions are rejected unless it is
// driven low.
func (e *Emulator) CS() *gpiotest.Pin { return e.cs }

// NewFlash returns a Flash wired to the emulator.
func (e *Emulator) NewFlash(opts ...FlashOption) *Flash {
	return NewFlash(e, e.cs, append([]FlashOption{WithGeometry(e.geo)}, opts...)...)
}

func (e *Emulator) String() string { return "norstore-emulator" }

func (e *Emulator) Duplex() conn.Duplex { return conn.Full }

// Load replaces the chip contents with img; a short image leaves the rest
// erased.
func (e *Emulator) Load(img []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(img) > len(e.mem) {
		return fmt.Errorf("image is %d bytes, chip holds %d", len(img), len(e.mem))
	}
	n := copy(e.mem, img)
	for i := n; i < len(e.mem); i++ {
		e.mem[i] = Erased
	}
	return nil
}

// Bytes returns a copy of the chip contents.
func (e *Emulator) Bytes() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.mem...)
}

// Poke overwrites memory directly, bypassing program semantics.
func (e *Emulator) Poke(addr int, p []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	copy(e.mem[addr:], p)
}

// SetStuck makes the chip report busy forever.
func (e *Emulator) SetStuck(stuck bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stuck = stuck
}

// CutPowerAfter lets n more transactions through, then fails every
// transaction with ErrPowerLost until PowerCycle.
func (e *Emulator) CutPowerAfter(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cutAfter = n
}

// PowerCycle restores power. Volatile state (write enable latch, busy,
// deep power down) is reset; memory is kept.
func (e *Emulator) PowerCycle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dead = false
	e.cutAfter = -1
	e.wel = false
	e.busy = 0
	e.poweredDown = false
	e.fsr = 0
}

// FailErase makes erases of the sector containing addr fail with the erase
// error bit set.
func (e *Emulator) FailErase(addr int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eraseFault[e.geo.SectorIndex(addr)] = true
}

// FailProgram makes programs of the page containing addr fail with the
// program error bit set.
func (e *Emulator) FailProgram(addr int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.programFault[addr&^(PageSize-1)] = true
}

// SectorErases returns how many times sector i was erased.
func (e *Emulator) SectorErases(i int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sectorErases[i]
}

// Erases returns the total number of sector erases.
func (e *Emulator) Erases() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.sectorErases {
		n += c
	}
	return n
}

// Programs returns the number of page program commands executed.
func (e *Emulator) Programs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.programs
}

// Transactions returns the number of transactions seen.
func (e *Emulator) Transactions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.txs
}

func (e *Emulator) TxPackets(p []spi.Packet) error {
	var w []byte
	for _, pk := range p {
		w = append(w, pk.W...)
	}
	r := make([]byte, len(w))
	if err := e.Tx(w, r); err != nil {
		return err
	}
	off := 0
	for _, pk := range p {
		copy(pk.R, r[off:off+len(pk.W)])
		off += len(pk.W)
	}
	return nil
}

// Tx executes one complete command. w and r may alias.
func (e *Emulator) Tx(w, r []byte) error {
	if e.cs.Read() != gpio.Low {
		return errors.New("emulator: transaction without chip select")
	}
	if r != nil && len(r) != len(w) {
		return fmt.Errorf("emulator: full duplex needs equal buffers, got %d and %d", len(w), len(r))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dead {
		return ErrPowerLost
	}
	if e.cutAfter == 0 {
		e.dead = true
		return ErrPowerLost
	}
	if e.cutAfter > 0 {
		e.cutAfter--
	}
	e.txs++

	if len(w) == 0 {
		return nil
	}
	if r == nil {
		r = make([]byte, len(w))
	}
	cmd := w[0]

	if e.poweredDown && cmd != flashCmdPowerUp {
		return nil
	}

	switch cmd {
	case flashCmdReadStatusRegister:
		var sr byte
		if e.busy > 0 || e.stuck {
			sr |= 1 << 0
			if e.busy > 0 && !e.stuck {
				e.busy--
			}
		}
		if e.wel {
			sr |= 1 << 1
		}
		fill(r[1:], sr)
		return nil
	case flashCmdReadFlagStatusRegister:
		fsr := e.fsr
		if e.busy == 0 && !e.stuck {
			fsr |= 1 << 7
		}
		fill(r[1:], byte(fsr))
		return nil
	}

	if e.busy > 0 || e.stuck {
		// Commands other than status reads are ignored while busy.
		return nil
	}

	switch cmd {
	case flashCmdPowerUp:
		e.poweredDown = false
	case flashCmdPowerDown:
		e.poweredDown = true
	case flashCmdReadID:
		copy(r[1:], EmulatorID[:])
	case flashCmdWriteEnable:
		e.wel = true
	case flashCmdClearFlagStatus:
		e.fsr = 0
	case flashCmdRead:
		addr, err := e.addr(w)
		if err != nil {
			return err
		}
		n := len(w) - 4
		data := make([]byte, n)
		for i := range data {
			data[i] = e.mem[(addr+i)%len(e.mem)]
		}
		copy(r[4:], data)
	case flashCmdPageProgram:
		addr, err := e.addr(w)
		if err != nil {
			return err
		}
		e.program(addr, w[4:])
	case flashCmdErase4KB:
		addr, err := e.addr(w)
		if err != nil {
			return err
		}
		e.erase(addr, 4<<10)
	case flashCmdErase32KB:
		addr, err := e.addr(w)
		if err != nil {
			return err
		}
		e.erase(addr, 32<<10)
	case flashCmdErase64KB:
		addr, err := e.addr(w)
		if err != nil {
			return err
		}
		e.erase(addr, 64<<10)
	case flashCmdEraseChip:
		e.erase(0, len(e.mem))
	default:
		return fmt.Errorf("emulator: unsupported command 0x%02X", cmd)
	}
	return nil
}

func (e *Emulator) addr(w []byte) (int, error) {
	if len(w) < 4 {
		return 0, fmt.Errorf("emulator: command 0x%02X without address", w[0])
	}
	addr := int(w[1])<<16 | int(w[2])<<8 | int(w[3])
	if addr >= len(e.mem) {
		return 0, fmt.Errorf("emulator: address 0x%06X beyond chip", addr)
	}
	return addr, nil
}

func (e *Emulator) program(addr int, data []byte) {
	if !e.wel {
		return
	}
	e.wel = false
	e.busy = e.BusyPolls
	e.programs++

	page := addr &^ (PageSize - 1)
	if e.programFault[page] {
		e.fsr |= 1 << 4
		return
	}
	off := addr - page
	if len(data) > PageSize {
		// only the last 256 bytes are latched
		data = data[len(data)-PageSize:]
	}
	for i, b := range data {
		e.mem[page+(off+i)%PageSize] &= b
	}
}

func (e *Emulator) erase(addr, size int) {
	if !e.wel {
		return
	}
	e.wel = false
	e.busy = e.BusyPolls

	start := addr - addr%size
	if start >= e.geo.Boundary() && size < e.geo.LargeSectorSize {
		e.fsr |= 1 << 1
		return
	}
	for a := start; a < start+size; {
		i := e.geo.SectorIndex(a)
		next := e.geo.SectorStart(i) + e.geo.SectorSize(i)
		if e.eraseFault[i] {
			e.fsr |= 1 << 5
		} else {
			e.sectorErases[i]++
			fill(e.mem[e.geo.SectorStart(i):next], Erased)
		}
		a = next
	}
}

func fill(p []byte, v byte) {
	for i := range p {
		p[i] = v
	}
}
