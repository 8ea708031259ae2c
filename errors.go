package norstore

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// ErrBusyTimeout is returned when the chip stays busy past the operation's
// maximum duration.
var ErrBusyTimeout = errors.New("flash busy timeout")

// Flag is one bit of the sticky error set kept by Flash.
type Flag uint32

const (
	FlagInit Flag = 1 << iota
	FlagTransmit
	FlagReceive
	FlagEraseVerify
	FlagProgramVerify
)

var flagNames = []struct {
	f    Flag
	name string
}{
	{FlagInit, "init"},
	{FlagTransmit, "transmit"},
	{FlagReceive, "receive"},
	{FlagEraseVerify, "erase-verify"},
	{FlagProgramVerify, "program-verify"},
}

func (f Flag) Has(o Flag) bool { return f&o != 0 }

func (f Flag) String() string {
	if f == 0 {
		return "none"
	}
	s := []string{}
	for _, n := range flagNames {
		if f.Has(n.f) {
			s = append(s, n.name)
		}
	}
	return strings.Join(s, ",")
}

// flagSet accumulates Flags. Polling code that cannot carry an error around
// (completion handlers, status loops) inspects it after the fact.
type flagSet struct{ v atomic.Uint32 }

func (s *flagSet) set(f Flag)  { s.v.Or(uint32(f)) }
func (s *flagSet) get() Flag   { return Flag(s.v.Load()) }
func (s *flagSet) clear() Flag { return Flag(s.v.Swap(0)) }

// MediaError reports an erase or program failure flagged by the chip itself.
type MediaError struct {
	Op   string // "erase" or "program"
	Addr int
	FSR  FlagStatusRegister
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("flash %s failed at 0x%06X (flag status %s)", e.Op, e.Addr, e.FSR)
}
