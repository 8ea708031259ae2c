package norstore

import "time"

type flashParams struct {
	name string

	// hasFSR reports a flag status register carrying erase/program failure
	// bits. [N25Q32|Table 12: Flag Status Register]
	hasFSR bool

	tRES1      time.Duration
	tDP        time.Duration
	tPP        time.Duration
	tErase4KB  time.Duration
	tErase64KB time.Duration
	tEraseChip time.Duration
}

var (
	flashIDMicronN25Q32   = [3]byte{0x20, 0xBA, 0x16}
	flashIDWinbondW25Q128 = [3]byte{0xEF, 0x70, 0x18}
	flashIDWinbondW25Q16  = [3]byte{0xEF, 0x40, 0x15}

	// EmulatorID is reported by Emulator. It is not a registered JEDEC
	// manufacturer code.
	EmulatorID = [3]byte{0x00, 0x4E, 0x15}
)

var knownFlash = map[[3]byte]flashParams{
	flashIDMicronN25Q32: {
		name:   "Micron N25Q 32Mb",
		hasFSR: true,

		// [N25Q32|Table 38: AC Characteristics and Operating Conditions]
		// tPP: PAGE PROGRAM cycle time (256 bytes)
		tPP: 5 * time.Millisecond,
		// tSSE: Subsector ERASE cycle time
		tErase4KB: 800 * time.Millisecond,
		// tSE: Sector ERASE cycle time
		tErase64KB: 3 * time.Second,
		// tBE: Bulk ERASE cycle time
		tEraseChip: 60 * time.Second,
	},

	flashIDWinbondW25Q128: {
		name: "Winbond W25Q 128Mb",

		// [W25Q128|9.6 AC Electrical Characteristics]:
		// tRES1: /CS High to Standby Mode without ID Read
		tRES1: 3 * time.Microsecond,
		// tDP: /CS High to Power-down Mode
		tDP: 3 * time.Microsecond,
		// tPP: Page Program Time
		tPP: 3 * time.Millisecond,
		// tSE: Sector Erase Time (4KB)
		tErase4KB: 400 * time.Millisecond,
		// tBE2: Block Erase Time (64KB)
		tErase64KB: 2000 * time.Millisecond,
		// tCE: Chip Erase Time
		tEraseChip: 200 * time.Second,
	},

	flashIDWinbondW25Q16: {
		name: "Winbond W25Q 16Mb",

		// [W25Q16|9.6 AC Electrical Characteristics]
		tRES1:      3 * time.Microsecond,
		tDP:        3 * time.Microsecond,
		tPP:        3 * time.Millisecond,
		tErase4KB:  400 * time.Millisecond,
		tErase64KB: 2000 * time.Millisecond,
		tEraseChip: 25 * time.Second,
	},

	EmulatorID: {
		name:   "norstore emulator",
		hasFSR: true,

		tPP:        time.Millisecond,
		tErase4KB:  2 * time.Millisecond,
		tErase64KB: 4 * time.Millisecond,
		tEraseChip: 20 * time.Millisecond,
	},
}

func (f *Flash) paramOrMax(get func(*flashParams) time.Duration) time.Duration {
	// get parameter if configured
	if f.pr != nil {
		return get(f.pr)
	}

	// fall back to maximum duration from all known flash parameters
	var tmax time.Duration
	for _, param := range knownFlash {
		tmax = max(tmax, get(&param))
	}
	return tmax
}

func (f *Flash) tRES1() time.Duration {
	return f.paramOrMax(func(p *flashParams) time.Duration { return p.tRES1 })
}
func (f *Flash) tDP() time.Duration {
	return f.paramOrMax(func(p *flashParams) time.Duration { return p.tDP })
}
func (f *Flash) tPP() time.Duration {
	return f.paramOrMax(func(p *flashParams) time.Duration { return p.tPP })
}
func (f *Flash) tErase4KB() time.Duration {
	return f.paramOrMax(func(p *flashParams) time.Duration { return p.tErase4KB })
}
func (f *Flash) tErase64KB() time.Duration {
	return f.paramOrMax(func(p *flashParams) time.Duration { return p.tErase64KB })
}
func (f *Flash) tEraseChip() time.Duration {
	return f.paramOrMax(func(p *flashParams) time.Duration { return p.tEraseChip })
}

func (f *Flash) hasFSR() bool { return f.pr != nil && f.pr.hasFSR }

// pollInterval spreads roughly 16 status reads over the nominal duration.
func pollInterval(nominal time.Duration) time.Duration {
	return max(nominal/16, 10*time.Microsecond)
}

// minBusyTimeout covers timer resolution on hosts where the nominal time is
// a few milliseconds.
const minBusyTimeout = 50 * time.Millisecond

// timeoutFor allows twice the datasheet maximum before giving up on the chip.
func timeoutFor(nominal time.Duration) time.Duration {
	return max(2*nominal, minBusyTimeout)
}
