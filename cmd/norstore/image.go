package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/urfave/cli"
	"golang.org/x/term"
)

var addrFlag = cli.StringFlag{
	Name:  "addr, a",
	Usage: "start address (decimal or 0x hex)",
	Value: "0",
}

func parseAddr(s string) (int, error) {
	v, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad address %q: %w", s, err)
	}
	return int(v), nil
}

var dumpCommand = cli.Command{
	Name:  "dump",
	Usage: "read flash contents",
	Flags: []cli.Flag{
		addrFlag,
		cli.IntFlag{Name: "n", Usage: "number of bytes (default: to the end of the chip)"},
		cli.StringFlag{Name: "o", Usage: "output file, - for raw stdout (default: hexdump)"},
	},
	Action: func(c *cli.Context) error {
		addr, err := parseAddr(c.String("addr"))
		if err != nil {
			return err
		}
		out := c.String("o")
		if out == "-" && term.IsTerminal(int(os.Stdout.Fd())) {
			return errors.New("refusing to write binary to a terminal")
		}

		return withTarget(c, func(t *target) error {
			n := c.Int("n")
			if n == 0 {
				n = t.Flash.Geometry().Size - addr
			}
			data, err := t.Flash.Read(addr, n)
			if err != nil {
				return fmt.Errorf("read flash: %w", err)
			}
			switch out {
			case "":
				fmt.Print(hex.Dump(data))
				return nil
			case "-":
				_, err := os.Stdout.Write(data)
				return err
			}
			return os.WriteFile(out, data, 0644)
		})
	},
}

var restoreCommand = cli.Command{
	Name:      "restore",
	Usage:     "erase the covered sectors and program a file",
	ArgsUsage: "<file>",
	Flags: []cli.Flag{
		addrFlag,
		cli.BoolFlag{Name: "chip", Usage: "erase the whole chip first"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return errors.New("input file is required")
		}
		addr, err := parseAddr(c.String("addr"))
		if err != nil {
			return err
		}
		f, err := os.Open(c.Args().First())
		if err != nil {
			return err
		}
		defer f.Close()
		st, err := f.Stat()
		if err != nil {
			return err
		}

		return withTarget(c, func(t *target) error {
			if c.Bool("chip") {
				slog.Info("erasing chip")
				if err := t.Flash.EraseChip(); err != nil {
					return fmt.Errorf("erase chip: %w", err)
				}
			} else if st.Size() > 0 {
				if err := t.Flash.Erase(addr, int(st.Size())); err != nil {
					return fmt.Errorf("erase: %w", err)
				}
			}
			if err := t.Flash.WriteFrom(addr, f); err != nil {
				return fmt.Errorf("write flash: %w", err)
			}
			slog.Info("restored", "bytes", st.Size(), "addr", fmt.Sprintf("0x%06X", addr))
			return nil
		})
	},
}

var eraseCommand = cli.Command{
	Name:  "erase",
	Usage: "erase sectors or the whole chip",
	Flags: []cli.Flag{
		cli.IntSliceFlag{Name: "sector, s", Usage: "sector index to erase (repeatable)"},
		cli.BoolFlag{Name: "all", Usage: "erase the whole chip"},
	},
	Action: func(c *cli.Context) error {
		sectors := c.IntSlice("sector")
		if len(sectors) == 0 && !c.Bool("all") {
			return errors.New("nothing to erase: give --sector or --all")
		}
		return withTarget(c, func(t *target) error {
			if c.Bool("all") {
				return t.Flash.EraseChip()
			}
			g := t.Flash.Geometry()
			for _, s := range sectors {
				if s < 0 || s >= g.Sectors() {
					return fmt.Errorf("sector %d out of range [0, %d)", s, g.Sectors())
				}
				if err := t.Flash.EraseSector(g.SectorStart(s)); err != nil {
					return err
				}
				slog.Debug("erased", "sector", s)
			}
			return nil
		})
	},
}
