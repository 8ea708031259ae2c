package main

import (
	"log/slog"
	"os"

	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "norstore"
	app.Usage = "inspect and edit the preset flash of the module"
	app.Description = "Talks to the flash through an FT2232H on the programming header, or to a chip image file with --image."
	app.Version = "0.3.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "image",
			Usage: "operate on a chip image file instead of hardware (created erased if missing)",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "debug logging",
		},
	}
	app.Before = func(c *cli.Context) error {
		level := slog.LevelInfo
		if c.GlobalBool("verbose") {
			level = slog.LevelDebug
		}
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
		slog.SetDefault(slog.New(handler))
		return nil
	}
	app.Commands = []cli.Command{
		infoCommand,
		dumpCommand,
		restoreCommand,
		eraseCommand,
		presetsCommand,
		settingsCommand,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
