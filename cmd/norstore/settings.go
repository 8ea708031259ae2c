package main

import (
	"errors"
	"fmt"
	"math"

	"github.com/gentam/norstore/preset"
	"github.com/gentam/norstore/settings"
	"github.com/gentam/norstore/storage"
	"github.com/urfave/cli"
)

func openSettings(t *target) (*storage.Singleton[settings.System], error) {
	return settings.Open(t.Flash, t.Flash.Geometry(), preset.DefaultLayout.SettingsSector)
}

func printSettings(s *settings.System) {
	for i := range s.Scale {
		fmt.Printf("ch%d  scale %d/%d  offset %+d cents\n", i+1, s.Scale[i], settings.UnityScale, s.Offset[i])
	}
	fmt.Printf("brightness %d%%  clock %d ppqn\n", s.Brightness, s.ClockPPQN)
}

// byteValue checks a flag value before it is narrowed into a byte field.
func byteValue(name string, n int) (uint8, error) {
	if n < 0 || n > math.MaxUint8 {
		return 0, fmt.Errorf("--%s %d out of range", name, n)
	}
	return uint8(n), nil
}

var settingsCommand = cli.Command{
	Name:  "settings",
	Usage: "show or change system settings",
	Subcommands: []cli.Command{
		{
			Name: "show",
			Action: func(c *cli.Context) error {
				return withTarget(c, func(t *target) error {
					s, err := openSettings(t)
					if err != nil {
						return err
					}
					if !s.Loaded() {
						fmt.Println("(no valid settings stored, defaults written)")
					}
					printSettings(s.Value())
					return nil
				})
			},
		},
		{
			Name:  "set",
			Usage: "change system options",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "brightness", Usage: "LED brightness in percent"},
				cli.IntFlag{Name: "ppqn", Usage: "clock input pulses per quarter note"},
			},
			Action: func(c *cli.Context) error {
				return withTarget(c, func(t *target) error {
					s, err := openSettings(t)
					if err != nil {
						return err
					}
					v := *s.Value()
					for _, fl := range []struct {
						name string
						dst  *uint8
					}{
						{"brightness", &v.Brightness},
						{"ppqn", &v.ClockPPQN},
					} {
						if !c.IsSet(fl.name) {
							continue
						}
						if *fl.dst, err = byteValue(fl.name, c.Int(fl.name)); err != nil {
							return err
						}
					}
					if !settings.Validate(&v) {
						return errors.New("settings out of range")
					}
					*s.Value() = v
					if err := s.Save(); err != nil {
						return err
					}
					printSettings(s.Value())
					return nil
				})
			},
		},
		{
			Name:  "reset",
			Usage: "restore factory settings, calibration included",
			Action: func(c *cli.Context) error {
				return withTarget(c, func(t *target) error {
					s, err := openSettings(t)
					if err != nil {
						return err
					}
					*s.Value() = settings.Default()
					return s.Save()
				})
			},
		},
	},
}
