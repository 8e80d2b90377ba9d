package main

import (
	"fmt"

	"github.com/nufs-fs/nufs/internal/storage"
	"github.com/urfave/cli/v2"
)

func formatImage(ctx *cli.Context) error {
	path := ctx.Args().First()
	if path == "" {
		return fmt.Errorf("usage: nufsmount format IMAGE")
	}

	fs, err := storage.Mount(path)
	if err != nil {
		return err
	}
	defer fs.Close()

	if err := fs.Format(); err != nil {
		return err
	}
	return fs.Check()
}
