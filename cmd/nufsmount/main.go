package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Usage: "Mount or inspect a nufs disk image",
		Commands: []*cli.Command{
			{
				Name:      "mount",
				Usage:     "Mount an image onto a directory via FUSE",
				Action:    mountImage,
				ArgsUsage: "IMAGE MOUNTPOINT",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "readonly", Usage: "deny all mutating operations"},
				},
			},
			{
				Name:      "format",
				Usage:     "Clear an image's bitmaps and inode table and reinitialize the root directory",
				Action:    formatImage,
				ArgsUsage: "IMAGE",
			},
			{
				Name:      "dump",
				Usage:     "Copy the raw bytes of a mounted image to a file",
				Action:    dumpImage,
				ArgsUsage: "IMAGE OUT",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}
