package main

import (
	"fmt"

	"github.com/urfave/cli"
	"periph.io/x/host/v3/ftdi"
)

var infoCommand = cli.Command{
	Name:  "info",
	Usage: "print adapter, chip and layout information",
	Action: func(c *cli.Context) error {
		return withTarget(c, func(t *target) error {
			if t.dev != nil {
				if err := printFTDI(t.dev.FTDI); err != nil {
					return err
				}
			} else {
				fmt.Printf("Image:           %s\n", t.path)
			}

			id, name, err := t.Flash.ReadID()
			if err != nil {
				return fmt.Errorf("read flash ID: %w", err)
			}
			if name == "" {
				name = "unknown"
			}
			fmt.Printf("Flash ID:        %X (%s)\n", id, name)

			sr, err := t.Flash.ReadStatusRegister()
			if err != nil {
				return fmt.Errorf("read status register: %w", err)
			}
			fmt.Printf("Status:          %s\n", sr)

			g := t.Flash.Geometry()
			fmt.Printf("Size:            %d KiB\n", g.Size>>10)
			fmt.Printf("Small sectors:   %d x %d KiB below 0x%06X\n", g.SmallSectors, g.SmallSectorSize>>10, g.Boundary())
			fmt.Printf("Large sectors:   %d x %d KiB\n", g.LargeSectors(), g.LargeSectorSize>>10)
			return nil
		})
	},
}

func printFTDI(ft *ftdi.FT232H) error {
	// Reference: https://github.com/periph/cmd/tree/main/ftdi-list
	i := ftdi.Info{}
	ft.Info(&i)
	fmt.Printf("Type:            %s\n", i.Type)
	fmt.Printf("Vendor ID:       %#04x\n", i.VenID)
	fmt.Printf("Device ID:       %#04x\n", i.DevID)

	ee := ftdi.EEPROM{}
	if err := ft.EEPROM(&ee); err != nil {
		return fmt.Errorf("failed to read EEPROM: %w", err)
	}
	fmt.Printf("Manufacturer:    %s\n", ee.Manufacturer)
	fmt.Printf("Desc:            %s\n", ee.Desc)
	fmt.Printf("Serial:          %s\n", ee.Serial)
	return nil
}
