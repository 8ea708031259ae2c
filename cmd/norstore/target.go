package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/gentam/norstore"
	"github.com/urfave/cli"
)

// target is the chip a command works on: real hardware behind the FT2232H,
// or an emulated chip backed by an image file.
type target struct {
	Flash *norstore.Flash

	dev  *norstore.Device
	emu  *norstore.Emulator
	path string
}

func openTarget(c *cli.Context) (*target, error) {
	log := slog.Default()
	if path := c.GlobalString("image"); path != "" {
		return openImage(path, log)
	}

	d, err := norstore.NewDevice(norstore.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if err := d.HoldMCUReset(); err != nil {
		return nil, fmt.Errorf("hold MCU reset: %w", err)
	}
	if err := d.Flash.Init(); err != nil {
		d.ReleaseMCUReset()
		return nil, err
	}
	return &target{Flash: d.Flash, dev: d}, nil
}

func openImage(path string, log *slog.Logger) (*target, error) {
	emu := norstore.NewEmulator(norstore.DefaultGeometry)
	img, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info("new erased image", "path", path)
	case err != nil:
		return nil, err
	default:
		if err := emu.Load(img); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	t := &target{Flash: emu.NewFlash(norstore.WithLogger(log)), emu: emu, path: path}
	if err := t.Flash.Init(); err != nil {
		return nil, err
	}
	return t, nil
}

// Close powers the chip down and lets the MCU run again. An image is written
// back if anything was erased or programmed.
func (t *target) Close() error {
	if t.dev != nil {
		return errors.Join(t.Flash.PowerDown(), t.dev.ReleaseMCUReset())
	}
	if t.emu.Programs() == 0 && t.emu.Erases() == 0 {
		return nil
	}
	return os.WriteFile(t.path, t.emu.Bytes(), 0644)
}

// withTarget opens the target around fn and reports the flash error flags
// it left behind.
func withTarget(c *cli.Context, fn func(t *target) error) (err error) {
	t, err := openTarget(c)
	if err != nil {
		return err
	}
	defer func() {
		if fl := t.Flash.Flags(); fl != 0 {
			slog.Warn("flash error flags", "flags", fl)
		}
		err = errors.Join(err, t.Close())
	}()
	return fn(t)
}
