package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/gentam/norstore/preset"
	"github.com/gentam/norstore/task"
	"github.com/urfave/cli"
)

type session struct {
	bank  *preset.Bank
	tasks *task.Group
	stop  func()
}

func openSession(t *target) (*session, error) {
	log := slog.Default()
	eng := &engine{}
	g := eng.tasks(log)
	opts := []preset.Option{preset.WithSuspender(g), preset.WithLogger(log)}

	geo := t.Flash.Geometry()
	store, err := preset.Open(t.Flash, geo, opts...)
	if err != nil {
		return nil, err
	}
	b, err := preset.NewBank(store, preset.OpenStartup(t.Flash, geo, store.Layout()), opts...)
	if err != nil {
		return nil, err
	}
	if err := b.Boot(); err != nil {
		return nil, err
	}
	eng.active = b.Active()
	return &session{bank: b, tasks: g, stop: run(g, log)}, nil
}

func withSession(c *cli.Context, fn func(s *session) error) error {
	return withTarget(c, func(t *target) error {
		s, err := openSession(t)
		if err != nil {
			return err
		}
		defer s.stop()
		return fn(s)
	})
}

func slotArg(c *cli.Context, i int) (int, error) {
	if c.NArg() <= i {
		return 0, errors.New("slot is required")
	}
	return strconv.Atoi(c.Args().Get(i))
}

var presetsCommand = cli.Command{
	Name:  "presets",
	Usage: "list and edit presets",
	Subcommands: []cli.Command{
		{
			Name:  "list",
			Usage: "show every slot's state",
			Action: func(c *cli.Context) error {
				return withSession(c, func(s *session) error {
					return listPresets(os.Stdout, s.bank)
				})
			},
		},
		{
			Name:      "show",
			Usage:     "print a slot without making it active",
			ArgsUsage: "<slot>",
			Action: func(c *cli.Context) error {
				slot, err := slotArg(c, 0)
				if err != nil {
					return err
				}
				return withSession(c, func(s *session) error {
					p, ok, err := s.bank.Presets().Recall(slot)
					if err != nil {
						return err
					}
					if !ok {
						fmt.Println("(empty, showing defaults)")
					}
					printPreset(os.Stdout, &p)
					return nil
				})
			},
		},
		{
			Name:      "recall",
			Usage:     "make a slot active and the startup slot",
			ArgsUsage: "<slot>",
			Action: func(c *cli.Context) error {
				slot, err := slotArg(c, 0)
				if err != nil {
					return err
				}
				return withSession(c, func(s *session) error {
					if err := s.bank.Recall(slot); err != nil {
						return err
					}
					printPreset(os.Stdout, s.bank.Active())
					return nil
				})
			},
		},
		{
			Name:      "store",
			Usage:     "store the active preset into a slot",
			ArgsUsage: "<slot>",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "default", Usage: "store the factory default instead"},
			},
			Action: func(c *cli.Context) error {
				slot, err := slotArg(c, 0)
				if err != nil {
					return err
				}
				return withSession(c, func(s *session) error {
					if c.Bool("default") {
						s.tasks.Suspend()
						*s.bank.Active() = preset.Default()
						s.tasks.Resume()
					}
					return s.bank.Store(slot)
				})
			},
		},
		{
			Name:      "clear",
			Usage:     "empty a slot",
			ArgsUsage: "<slot>",
			Action: func(c *cli.Context) error {
				slot, err := slotArg(c, 0)
				if err != nil {
					return err
				}
				return withSession(c, func(s *session) error {
					return s.bank.Clear(slot)
				})
			},
		},
		{
			Name:      "batch",
			Usage:     "run several operations in one session so undo has something to undo",
			ArgsUsage: "recall <slot> | store <slot> | clear <slot> | undo ...",
			Action: func(c *cli.Context) error {
				return withSession(c, func(s *session) error {
					return runBatch(s.bank, c.Args())
				})
			},
		},
	},
}

func runBatch(b *preset.Bank, args []string) error {
	for len(args) > 0 {
		op := args[0]
		args = args[1:]
		if op == "undo" {
			if err := b.Undo(); err != nil {
				return fmt.Errorf("undo: %w", err)
			}
			slog.Info("undo")
			continue
		}

		if len(args) == 0 {
			return fmt.Errorf("%s: slot is required", op)
		}
		slot, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		args = args[1:]

		switch op {
		case "recall":
			err = b.Recall(slot)
		case "store":
			err = b.Store(slot)
		case "clear":
			err = b.Clear(slot)
		default:
			return fmt.Errorf("unknown operation %q", op)
		}
		if err != nil {
			return fmt.Errorf("%s %d: %w", op, slot, err)
		}
		slog.Info(op, "slot", b.Presets().Clamp(slot))
	}
	return nil
}

func listPresets(w io.Writer, b *preset.Bank) error {
	s := b.Presets()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLOT\tADDR\tVERSION\t")
	for slot := 0; slot < s.Slots(); slot++ {
		rec, err := s.ReadRaw(slot)
		if err != nil {
			return err
		}
		version := "-"
		if sig, ok := preset.Version(rec); ok {
			version = sig.String()
		}
		mark := ""
		if slot == b.Slot() {
			mark = "startup"
		}
		fmt.Fprintf(tw, "%d\t0x%06X\t%s\t%s\n", slot, s.Address(slot), version, mark)
	}
	return tw.Flush()
}

func printPreset(w io.Writer, p *preset.Preset) {
	tw := tabwriter.NewWriter(w, 0, 4, 1, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "CH\tWAVE\tOCT\tTRANS\tFINE\tLEVEL\tPAN\tMUTE\tKEYF\t\tSHAPE\tDIV\tGAIN\tPHASE\tLOCK\t")
	for i := range p.Channels {
		c, l := p.Channels[i], p.LFOs[i]
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t%t\t%t\t\t%d\t%d\t%d\t%d\t%t\t\n",
			i+1, c.Wavetable, c.Octave, c.Transpose, c.FineTune, c.Level, c.Pan, c.Muted, c.KeyFollow,
			l.Shape, l.Divide, l.Gain, l.Phase, l.Locked)
	}
	tw.Flush()
	fmt.Fprintf(w, "browse %v  spread %d\n", p.Browse, p.Spread)
}
