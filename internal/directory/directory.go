// Package directory treats a directory inode as an ordinary file whose data
// is an array of fixed-size directory entries, and implements path
// resolution on top of that array.
package directory

import (
	"strings"

	"github.com/nufs-fs/nufs/errno"
	"github.com/nufs-fs/nufs/internal/block"
	"github.com/nufs-fs/nufs/internal/inode"
)

const (
	// EntrySize is the fixed on-disk size of one directory entry.
	EntrySize = 64
	// NameSize is the size of the name field, including its NUL terminator;
	// the effective maximum name length is NameSize-1.
	NameSize = 48
	// MaxNameLength is the longest name that Put will accept.
	MaxNameLength = NameSize - 1
	// EntriesPerBlock is the number of directory entries that fit in one
	// data block.
	EntriesPerBlock = block.Size / EntrySize

	// RootInode is always the root directory after initialization.
	RootInode = 0
)

// Dir composes the inode table and block image to provide directory-entry
// level operations on top of an inode's data stream.
type Dir struct {
	img    *block.Image
	inodes *inode.Table
}

// New wraps img/inodes for directory-entry operations.
func New(img *block.Image, inodes *inode.Table) *Dir {
	return &Dir{img: img, inodes: inodes}
}

// InitRoot allocates inode 0 as the root directory and grows it to one
// block. It is a no-op if inode 0 is already allocated.
func (d *Dir) InitRoot() error {
	bm := d.img.InodeBitmap()
	if bm.Get(RootInode) {
		return nil
	}

	inum, rec, err := d.inodes.Alloc(0, 0)
	if err != nil {
		return err
	}
	if inum != RootInode {
		return errno.OutOfRange.WithMessage("expected root to be inode 0")
	}

	rec.Mode = inode.ModeDir | 0o755
	return d.inodes.Grow(inum, rec, block.Size)
}

func maxEntries(rec *inode.Record) int {
	numBlocks := block.BytesToBlocks(int(rec.Size))
	return numBlocks * EntriesPerBlock
}

// GetEntry returns the raw 64-byte slot for entry index within dir's data,
// or the error from LogicalToPhysical if the underlying block isn't
// allocated (errno.NoEntry, or errno.OutOfRange when the index needs an
// indirect block that dir does not have).
func (d *Dir) GetEntry(rec *inode.Record, index int) ([]byte, error) {
	blockIndex := index / EntriesPerBlock
	offset := (index % EntriesPerBlock) * EntrySize

	phys, err := d.inodes.LogicalToPhysical(rec, blockIndex)
	if err != nil {
		return nil, err
	}
	blk := d.img.Block(phys)
	return blk[offset : offset+EntrySize], nil
}

func entryName(slot []byte) string {
	nameBytes := slot[0:NameSize]
	end := 0
	for end < len(nameBytes) && nameBytes[end] != 0 {
		end++
	}
	return string(nameBytes[:end])
}

func entryInum(slot []byte) uint32 {
	return uint32(slot[NameSize]) | uint32(slot[NameSize+1])<<8 |
		uint32(slot[NameSize+2])<<16 | uint32(slot[NameSize+3])<<24
}

func putEntryInum(slot []byte, inum uint32) {
	slot[NameSize] = byte(inum)
	slot[NameSize+1] = byte(inum >> 8)
	slot[NameSize+2] = byte(inum >> 16)
	slot[NameSize+3] = byte(inum >> 24)
}

func entryIsEmpty(slot []byte) bool {
	return entryInum(slot) == 0 || slot[0] == 0
}

// Lookup scans every slot up to dir's capacity for name, returning its
// inode number. It does not stop at empty slots — deletions leave holes
// that must be skipped, not treated as end-of-directory.
func (d *Dir) Lookup(rec *inode.Record, name string) (uint32, error) {
	if name == "" {
		return 0, errno.NoEntry
	}
	n := maxEntries(rec)
	for i := 0; i < n; i++ {
		slot, err := d.GetEntry(rec, i)
		if err != nil {
			break
		}
		inum := entryInum(slot)
		if inum != 0 && entryName(slot) == name {
			return inum, nil
		}
	}
	return 0, errno.NoEntry
}

// Put inserts name -> inum into the first empty slot, growing dir by one
// block if none exists. It does not check for duplicate names; callers must
// do that themselves.
func (d *Dir) Put(dirInum int, rec *inode.Record, name string, inum uint32) error {
	if name == "" || len(name) > MaxNameLength {
		return errno.NameTooLong.WithMessage(name)
	}

	n := maxEntries(rec)
	for i := 0; i < n; i++ {
		slot, err := d.GetEntry(rec, i)
		if err != nil {
			break
		}
		if entryIsEmpty(slot) {
			writeEntry(slot, name, inum)
			return nil
		}
	}

	oldSize := rec.Size
	if err := d.inodes.Grow(dirInum, rec, oldSize+block.Size); err != nil {
		return err
	}

	slot, err := d.GetEntry(rec, n)
	if err != nil {
		return err
	}
	writeEntry(slot, name, inum)
	return nil
}

func writeEntry(slot []byte, name string, inum uint32) {
	for i := range slot {
		slot[i] = 0
	}
	copy(slot[0:NameSize-1], name)
	putEntryInum(slot, inum)
}

// Delete zeros the 64-byte slot matching name in place; it does not
// compact the array.
func (d *Dir) Delete(rec *inode.Record, name string) error {
	n := maxEntries(rec)
	for i := 0; i < n; i++ {
		slot, err := d.GetEntry(rec, i)
		if err != nil {
			break
		}
		inum := entryInum(slot)
		if inum != 0 && entryName(slot) == name {
			for j := range slot {
				slot[j] = 0
			}
			return nil
		}
	}
	return errno.NoEntry.WithMessage(name)
}

// List returns the non-empty entry names in storage order, skipping holes
// left by deletion. It never includes "." or "..".
func (d *Dir) List(rec *inode.Record) ([]string, error) {
	if !rec.IsDir() {
		return nil, errno.NotADirectory
	}
	n := maxEntries(rec)
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		slot, err := d.GetEntry(rec, i)
		if err != nil {
			break
		}
		if !entryIsEmpty(slot) {
			names = append(names, entryName(slot))
		}
	}
	return names, nil
}

// Basename returns the byte after the last '/' in path, or the whole path
// if it contains no '/'.
func Basename(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

// TreeLookup resolves an absolute path to an inode number, starting from
// the root and descending one component at a time.
func (d *Dir) TreeLookup(path string) (uint32, error) {
	if len(path) == 0 || path[0] != '/' {
		return 0, errno.NoEntry.WithMessage("path must be absolute")
	}
	if path == "/" {
		return RootInode, nil
	}

	current := uint32(RootInode)
	for _, component := range strings.Split(path[1:], "/") {
		if component == "" {
			continue
		}

		rec, err := d.inodes.Get(int(current))
		if err != nil {
			return 0, errno.NoEntry
		}
		if !rec.IsDir() {
			// Collapse "not a directory" into NoEntry here, matching the
			// original tree_lookup's conflation of the two cases.
			return 0, errno.NoEntry
		}

		next, err := d.Lookup(rec, component)
		if err != nil {
			return 0, errno.NoEntry
		}
		current = next
	}

	return current, nil
}

// TreeLookupParent resolves the parent directory of path.
func (d *Dir) TreeLookupParent(path string) (uint32, error) {
	if path == "/" {
		return RootInode, nil
	}

	idx := strings.LastIndexByte(path, '/')
	if idx == 0 {
		return RootInode, nil
	}
	return d.TreeLookup(path[:idx])
}
