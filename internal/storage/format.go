package storage

import (
	"encoding/binary"

	"github.com/nufs-fs/nufs/internal/block"
	"github.com/noxer/bytewriter"
)

// Format zero-writes the reserved region (the bitmap block and the inode
// table block) of an already-open image, then re-initializes the inode
// table and root directory over it. Unlike a variable-geometry driver's
// Format, there is no block/inode count to validate — this engine's image
// size and layout are fixed.
func (fs *FileSystem) Format() error {
	zeros := make([]byte, block.Size)
	for _, i := range []int{block.BitmapBlock, block.InodeTableBlock} {
		writer := bytewriter.New(fs.img.Block(i))
		if err := binary.Write(writer, binary.LittleEndian, zeros); err != nil {
			return err
		}
	}

	// Zeroing block.BitmapBlock just cleared its own bit; re-reserve it
	// before anything calls AllocBlock, or the next allocation (growing the
	// freshly reinitialized root directory) would hand block 0 right back
	// out and the bitmaps would be clobbered again.
	fs.img.BlockBitmap().Set(block.BitmapBlock, true)
	fs.inodes.Init()
	return fs.dir.InitRoot()
}
