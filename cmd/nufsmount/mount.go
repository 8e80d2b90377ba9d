package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/nufs-fs/nufs/internal/storage"
	"github.com/urfave/cli/v2"
)

func mountImage(ctx *cli.Context) error {
	if ctx.Args().Len() < 2 {
		return fmt.Errorf("usage: nufsmount mount IMAGE MOUNTPOINT")
	}
	imagePath := ctx.Args().Get(0)
	mountpoint := ctx.Args().Get(1)

	fsys, err := storage.Mount(imagePath)
	if err != nil {
		return err
	}
	defer fsys.Close()

	opts := &fs.Options{}
	if ctx.Bool("readonly") {
		opts.MountOptions.Options = append(opts.MountOptions.Options, "ro")
	}

	root := &node{fsys: fsys, path: "/"}
	server, err := fs.Mount(mountpoint, root, opts)
	if err != nil {
		return err
	}

	log.Printf("+ mounted %s at %s", imagePath, mountpoint)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		server.Unmount()
	}()

	server.Wait()
	return nil
}
