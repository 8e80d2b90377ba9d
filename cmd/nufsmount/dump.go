package main

import (
	"fmt"
	"io"
	"os"

	"github.com/nufs-fs/nufs/internal/storage"
	"github.com/urfave/cli/v2"
	"github.com/xaionaro-go/bytesextra"
)

func dumpImage(ctx *cli.Context) error {
	if ctx.Args().Len() < 2 {
		return fmt.Errorf("usage: nufsmount dump IMAGE OUT")
	}
	imagePath := ctx.Args().Get(0)
	outPath := ctx.Args().Get(1)

	fs, err := storage.Mount(imagePath)
	if err != nil {
		return err
	}
	defer fs.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	// Wrap the live mapped region as a seekable stream so io.Copy can read
	// it without the destination caring that the source is mmap'd memory.
	reader := bytesextra.NewReadWriteSeeker(fs.Raw())
	_, err = io.Copy(out, reader)
	return err
}
