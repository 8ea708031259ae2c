package norstore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

// Flash speaks the serial NOR instruction set over an exclusively owned SPI
// connection. It is not safe for concurrent use.
//
// Every method returns an error; failures are also accumulated in a sticky
// flag set (see Flags) for callers that only poll.
type Flash struct {
	conn  spi.Conn
	cs    gpio.PinOut
	geo   Geometry
	clock clockwork.Clock
	log   *slog.Logger

	id [3]byte // JEDEC ID of the flash chip
	pr *flashParams

	flags   flagSet
	pending *pendingOp // erase issued by EraseSectorAsync
}

type pendingOp struct {
	addr    int
	nominal time.Duration
}

// FlashOption configures a Flash.
type FlashOption func(*Flash)

// WithGeometry sets the sector layout used by EraseSector. The default is
// DefaultGeometry.
func WithGeometry(g Geometry) FlashOption {
	return func(f *Flash) { f.geo = g }
}

// WithClock replaces the clock used for busy polling.
func WithClock(c clockwork.Clock) FlashOption {
	return func(f *Flash) { f.clock = c }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) FlashOption {
	return func(f *Flash) { f.log = l }
}

func NewFlash(conn spi.Conn, cs gpio.PinOut, opts ...FlashOption) *Flash {
	f := &Flash{
		conn:  conn,
		cs:    cs,
		geo:   DefaultGeometry,
		clock: clockwork.NewRealClock(),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Flash commands:
//   - [N25Q32|Table 16: Command Set]
//   - [W25Q128|8.1.2 Instruction Set Table 1]
const (
	flashCmdPowerUp                = 0xAB // Release Power Down
	flashCmdPowerDown              = 0xB9
	flashCmdReadID                 = 0x9F
	flashCmdRead                   = 0x03
	flashCmdWriteEnable            = 0x06
	flashCmdPageProgram            = 0x02
	flashCmdErase4KB               = 0x20 // Subsector Erase / Sector Erase (4KB)
	flashCmdErase32KB              = 0x52 // Block Erase (32KB), Winbond only
	flashCmdErase64KB              = 0xD8 // Sector Erase / Block Erase (64KB)
	flashCmdEraseChip              = 0xC7 // Bulk Erase / Chip Erase
	flashCmdReadStatusRegister     = 0x05
	flashCmdReadFlagStatusRegister = 0x70 // N25Q only
	flashCmdClearFlagStatus        = 0x50 // N25Q only
)

// Geometry returns the sector layout the Flash was configured with.
func (f *Flash) Geometry() Geometry { return f.geo }

// Flags returns the accumulated error flags.
func (f *Flash) Flags() Flag { return f.flags.get() }

// ClearFlags resets the error flags and returns the previous set.
func (f *Flash) ClearFlags() Flag { return f.flags.clear() }

// tx wraps SPI transaction with CS assertion. A failure sets fl.
func (f *Flash) tx(buf []byte, fl Flag) (err error) {
	defer func() {
		if err != nil {
			f.flags.set(fl)
		}
	}()
	if err = f.cs.Out(gpio.Low); err != nil {
		return err
	}
	defer func() {
		if csErr := f.cs.Out(gpio.High); csErr != nil && err == nil {
			err = csErr
		}
	}()
	err = f.conn.Tx(buf, buf)
	return
}

// Init wakes the chip and identifies it. An absent or unresponsive chip sets
// FlagInit.
func (f *Flash) Init() error {
	if err := f.PowerUp(); err != nil {
		f.flags.set(FlagInit)
		return fmt.Errorf("flash power up: %w", err)
	}
	id, name, err := f.ReadID()
	if err != nil {
		f.flags.set(FlagInit)
		return fmt.Errorf("read flash ID: %w", err)
	}
	if id == [3]byte{} || id == [3]byte{0xFF, 0xFF, 0xFF} {
		f.flags.set(FlagInit)
		return fmt.Errorf("no flash chip responding (ID %X)", id)
	}
	if name == "" {
		f.log.Warn("unknown flash ID, using slowest known timings", "id", fmt.Sprintf("%X", id))
	} else {
		f.log.Debug("flash identified", "id", fmt.Sprintf("%X", id), "name", name)
	}
	return nil
}

func (f *Flash) PowerUp() error {
	buf := []byte{flashCmdPowerUp}
	if err := f.tx(buf, FlagTransmit); err != nil {
		return err
	}
	f.clock.Sleep(f.tRES1())
	return nil
}

func (f *Flash) PowerDown() error {
	buf := []byte{flashCmdPowerDown}
	if err := f.tx(buf, FlagTransmit); err != nil {
		return err
	}
	f.clock.Sleep(f.tDP())
	return nil
}

// ReadID returns the JEDEC ID of the flash chip and configures its parameters.
// It returns a non-empty name for known IDs. The extended device string is ignored.
func (f *Flash) ReadID() (id [3]byte, name string, err error) {
	buf := make([]byte, 4)
	buf[0] = flashCmdReadID

	if err = f.tx(buf, FlagReceive); err != nil {
		return
	}

	f.id = [3]byte(buf[1:])
	f.pr = nil
	if params, ok := knownFlash[f.id]; ok {
		f.pr = &params
		name = params.name
	}
	return f.id, name, err
}

func (f *Flash) checkRange(addr, n int) error {
	if addr < 0 || n < 0 || addr+n > f.geo.Size {
		return fmt.Errorf("range 0x%X+%d outside chip (0x%X bytes)", addr, n, f.geo.Size)
	}
	return nil
}

// Read returns n bytes starting at addr.
func (f *Flash) Read(addr, n int) ([]byte, error) {
	out := make([]byte, n)
	if err := f.ReadAt(out, addr); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadAt fills p from addr, splitting it into multiple transactions if needed
// to stay within the maximum transaction size.
func (f *Flash) ReadAt(p []byte, addr int) error {
	const (
		maxTx    = 65536 // [FTDI-AN_108]
		cmdBytes = 4     // opRead + 24-bit address
		maxData  = maxTx - cmdBytes
	)
	if err := f.checkRange(addr, len(p)); err != nil {
		return err
	}
	if err := f.Wait(); err != nil {
		return err
	}

	off := 0
	for remaining := len(p); remaining > 0; {
		chunk := min(remaining, maxData)
		buf := make([]byte, cmdBytes+chunk)
		buf[0] = flashCmdRead
		buf[1] = byte(addr >> 16)
		buf[2] = byte(addr >> 8)
		buf[3] = byte(addr)
		// buf[4:] dummy bytes

		if err := f.tx(buf, FlagReceive); err != nil {
			return err
		}

		copy(p[off:], buf[cmdBytes:])

		addr += chunk
		off += chunk
		remaining -= chunk
	}
	return nil
}

// writeEnable finishes any pending erase first; a busy chip ignores WREN and
// the command after it.
func (f *Flash) writeEnable() error {
	if err := f.Wait(); err != nil {
		return err
	}
	buf := []byte{flashCmdWriteEnable}
	return f.tx(buf, FlagTransmit)
}

// addr: 24 bit
// data: max 256 bytes, must not cross a page boundary
func (f *Flash) pageProgram(addr int, data []byte) error {
	const max24 = 1<<24 - 1 // 0xFFFFFF
	if addr < 0 || addr > max24 {
		return fmt.Errorf("address 0x%X out of 24-bit range", addr)
	}
	if len(data) > PageSize-addr%PageSize {
		return errors.New("data must not cross a page boundary")
	}

	if err := f.writeEnable(); err != nil {
		return err
	}

	buf := make([]byte, 4+len(data))
	buf[0] = flashCmdPageProgram
	buf[1] = byte(addr >> 16)
	buf[2] = byte(addr >> 8)
	buf[3] = byte(addr)
	copy(buf[4:], data)

	if err := f.tx(buf, FlagTransmit); err != nil {
		return err
	}
	if err := f.BusyWait(pollInterval(f.tPP()), timeoutFor(f.tPP())); err != nil {
		return err
	}
	return f.checkFSR("program", addr)
}

// WriteAt programs p at addr, splitting on page boundaries. The target range
// must have been erased; programming only clears bits.
func (f *Flash) WriteAt(p []byte, addr int) error {
	if err := f.checkRange(addr, len(p)); err != nil {
		return err
	}
	for len(p) > 0 {
		n := min(len(p), PageSize-addr%PageSize)
		if err := f.pageProgram(addr, p[:n]); err != nil {
			return fmt.Errorf("program page 0x%06X: %w", addr, err)
		}
		addr += n
		p = p[n:]
	}
	return nil
}

// WriteFrom programs everything read from r starting at addr.
func (f *Flash) WriteFrom(addr int, r io.Reader) error {
	buf := [PageSize]byte{}
	for {
		n, err := io.ReadFull(r, buf[:PageSize-addr%PageSize])
		if n > 0 {
			if werr := f.WriteAt(buf[:n], addr); werr != nil {
				return werr
			}
			addr += n
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (f *Flash) eraseCmd(size int) (cmd byte, nominal time.Duration, err error) {
	switch size {
	case 4 << 10:
		return flashCmdErase4KB, f.tErase4KB(), nil
	case 32 << 10:
		return flashCmdErase32KB, f.tErase64KB(), nil
	case 64 << 10:
		return flashCmdErase64KB, f.tErase64KB(), nil
	}
	return 0, 0, fmt.Errorf("no erase instruction for %d byte sectors", size)
}

func (f *Flash) issueErase(cmd byte, addr int) error {
	if err := f.writeEnable(); err != nil {
		return err
	}

	buf := make([]byte, 4)
	buf[0] = cmd
	buf[1] = byte(addr >> 16)
	buf[2] = byte(addr >> 8)
	buf[3] = byte(addr)

	return f.tx(buf, FlagTransmit)
}

// EraseSectorAsync starts erasing the sector containing addr and returns
// without waiting. Poll IsReady or call Wait; the next read, program or erase
// waits for it too.
func (f *Flash) EraseSectorAsync(addr int) error {
	start, size := f.geo.SectorOf(addr)
	cmd, nominal, err := f.eraseCmd(size)
	if err != nil {
		return err
	}
	if err := f.issueErase(cmd, start); err != nil {
		return err
	}
	f.pending = &pendingOp{addr: start, nominal: nominal}
	return nil
}

// Wait blocks until an erase started by EraseSectorAsync completes. It is a
// no-op if nothing is pending.
func (f *Flash) Wait() error {
	op := f.pending
	if op == nil {
		return nil
	}
	f.pending = nil
	if err := f.BusyWait(pollInterval(op.nominal), timeoutFor(op.nominal)); err != nil {
		return err
	}
	return f.checkFSR("erase", op.addr)
}

// EraseSector erases the sector containing addr and waits for completion.
func (f *Flash) EraseSector(addr int) error {
	if err := f.EraseSectorAsync(addr); err != nil {
		return err
	}
	f.log.Debug("erasing sector", "addr", fmt.Sprintf("0x%06X", f.pending.addr))
	return f.Wait()
}

// EraseChip bulk erase the entire chip.
func (f *Flash) EraseChip() error {
	if err := f.writeEnable(); err != nil {
		return err
	}

	buf := []byte{flashCmdEraseChip}
	if err := f.tx(buf, FlagTransmit); err != nil {
		return err
	}
	if err := f.BusyWait(time.Second/4, timeoutFor(f.tEraseChip())); err != nil {
		return err
	}
	return f.checkFSR("erase", 0)
}

// Erase erases every sector overlapping [baseAddr, baseAddr+size).
func (f *Flash) Erase(baseAddr, size int) error {
	if err := f.checkRange(baseAddr, size); err != nil {
		return err
	}
	for addr := baseAddr; addr < baseAddr+size; {
		start, n := f.geo.SectorOf(addr)
		if err := f.EraseSector(start); err != nil {
			return err
		}
		addr = start + n
	}
	return nil
}

// IsReady reports whether the chip has finished its last erase or program.
func (f *Flash) IsReady() (bool, error) {
	sr, err := f.ReadStatusRegister()
	if err != nil {
		return false, err
	}
	return !sr.Busy(), nil
}

// BusyWait waits for the flash to become ready by polling the status register's
// bit 0 with specified intervals. It returns ErrBusyTimeout once timeout
// expires. Set timeout to 0 to wait indefinitely.
func (f *Flash) BusyWait(interval, timeout time.Duration) error {
	// Fast path
	if sr, err := f.ReadStatusRegister(); err == nil && !sr.Busy() {
		return nil
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := f.clock.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.Chan()
	}
	ticker := f.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-expired:
			return ErrBusyTimeout
		case <-ticker.Chan():
			sr, err := f.ReadStatusRegister()
			if err != nil {
				return err
			}
			if !sr.Busy() {
				return nil
			}
		}
	}
}

// checkFSR inspects the flag status register after an erase or program on
// chips that have one.
func (f *Flash) checkFSR(op string, addr int) error {
	if !f.hasFSR() {
		return nil
	}
	fsr, err := f.ReadFlagStatusRegister()
	if err != nil {
		return err
	}
	switch {
	case op == "erase" && fsr.EraseError():
		f.flags.set(FlagEraseVerify)
	case op == "program" && fsr.ProgramError():
		f.flags.set(FlagProgramVerify)
	default:
		return nil
	}
	if err := f.tx([]byte{flashCmdClearFlagStatus}, FlagTransmit); err != nil {
		return err
	}
	return &MediaError{Op: op, Addr: addr, FSR: fsr}
}

// StatusRegister represents the status register of the flash chip.
//
//	Bits| [N25Q32|Table 9]                     | [W25Q128|7.1 Status Registers]
//	----+--------------------------------------+-------------------------------
//	7   | Status register write enable/disable | SRP: Status Register Protect
//	6   | Reserved                             | SEC: Sector protect
//	5   | Top/bottom                           | TB: Top/Bottom protect
//	4:2 | Block protect 2-0                    | BP2-0: Block Protect bit 2-0
//	1   | Write enable latch                   | WEL: Write Enable Latch
//	0   | Write in progress                    | BUSY: Erase/Write in progress
type StatusRegister byte

func (sr StatusRegister) StatusRegisterProtect() bool { return sr&(1<<7) != 0 }
func (sr StatusRegister) SectorProtect() bool         { return sr&(1<<6) != 0 }
func (sr StatusRegister) TopBottom() bool             { return sr&(1<<5) != 0 }
func (sr StatusRegister) BlockProtect2() bool         { return sr&(1<<4) != 0 }
func (sr StatusRegister) BlockProtect1() bool         { return sr&(1<<3) != 0 }
func (sr StatusRegister) BlockProtect0() bool         { return sr&(1<<2) != 0 }
func (sr StatusRegister) WriteEnabled() bool          { return sr&(1<<1) != 0 }
func (sr StatusRegister) Busy() bool                  { return sr&(1<<0) != 0 }

func (sr StatusRegister) String() string {
	return bitString(byte(sr), []bitName{
		{7, "SRP"}, {6, "SEC"}, {5, "TB"}, {4, "BP2"},
		{3, "BP1"}, {2, "BP0"}, {1, "WEL"}, {0, "BUSY"},
	})
}

func (f *Flash) ReadStatusRegister() (StatusRegister, error) {
	buf := []byte{flashCmdReadStatusRegister, 0}
	if err := f.tx(buf, FlagReceive); err != nil {
		return 0, err
	}
	return StatusRegister(buf[1]), nil
}

// FlagStatusRegister represents the N25Q flag status register.
//
//	Bits| [N25Q32|Table 12: Flag Status Register]
//	----+--------------------------------------
//	7   | Program or erase controller ready
//	5   | Erase error
//	4   | Program error
//	3   | VPP disabled
//	2   | Program suspended
//	1   | Protection error
type FlagStatusRegister byte

func (fsr FlagStatusRegister) Ready() bool            { return fsr&(1<<7) != 0 }
func (fsr FlagStatusRegister) EraseError() bool       { return fsr&(1<<5) != 0 }
func (fsr FlagStatusRegister) ProgramError() bool     { return fsr&(1<<4) != 0 }
func (fsr FlagStatusRegister) VPPError() bool         { return fsr&(1<<3) != 0 }
func (fsr FlagStatusRegister) ProgramSuspended() bool { return fsr&(1<<2) != 0 }
func (fsr FlagStatusRegister) ProtectionError() bool  { return fsr&(1<<1) != 0 }

func (fsr FlagStatusRegister) String() string {
	return bitString(byte(fsr), []bitName{
		{7, "READY"}, {5, "ERASE_ERR"}, {4, "PROG_ERR"},
		{3, "VPP_ERR"}, {2, "PROG_SUSP"}, {1, "PROT_ERR"},
	})
}

func (f *Flash) ReadFlagStatusRegister() (FlagStatusRegister, error) {
	buf := []byte{flashCmdReadFlagStatusRegister, 0}
	if err := f.tx(buf, FlagReceive); err != nil {
		return 0, err
	}
	return FlagStatusRegister(buf[1]), nil
}

type bitName struct {
	bit  uint
	name string
}

func bitString(v byte, names []bitName) string {
	b := fmt.Sprintf("%08b", v)
	s := []string{}
	for _, n := range names {
		if v&(1<<n.bit) != 0 {
			s = append(s, n.name)
		}
	}
	if len(s) == 0 {
		return b
	}
	return b + " " + strings.Join(s, ",")
}
